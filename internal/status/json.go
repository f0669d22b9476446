package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Ready         bool        `json:"ready"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	Cycles        int64       `json:"cycles"`
	Battery       BatteryJSON `json:"battery"`
	Thermal       ThermalJSON `json:"thermal"`
	Modes         ModesJSON   `json:"modes"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Counts        CountsJSON  `json:"event_counts"`
	Config        ConfigJSON  `json:"config"`
}

// BatteryJSON reports the battery side of the last reading.
type BatteryJSON struct {
	State         string `json:"state"`
	VoltageMV     *int   `json:"voltage_mv"`
	Percent       *int   `json:"percent"`
	CurrentMA     int    `json:"current_ma"`
	LowBatteryPin bool   `json:"low_battery_pin"`
}

// ThermalJSON reports the thermal side of the last reading.
type ThermalJSON struct {
	State    string   `json:"state"`
	CPUTempC *float64 `json:"cpu_temp_c"`
}

// ModesJSON holds the microcontroller mode flags.
type ModesJSON struct {
	Info int `json:"info"`
	Wifi int `json:"wifi"`
	Mute int `json:"mute"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	BatteryLow      int `json:"battery_low"`
	BatteryOK       int `json:"battery_ok"`
	BatteryCritical int `json:"battery_critical"`
	OverTemp        int `json:"overtemp"`
	TempOK          int `json:"temp_ok"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PeriodMs         int64   `json:"period_ms"`
	SerialPort       string  `json:"serial_port"`
	LowMV            int     `json:"low_mv"`
	ShutdownMV       int     `json:"shutdown_mv"`
	MaxTempC         float64 `json:"max_temp_c"`
	CriticalShutdown bool    `json:"critical_shutdown"`
	Broker           string  `json:"broker"`
	HTTPPort         string  `json:"http_port"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	r := snap.Reading
	inner := StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Cycles:        snap.Cycles,
		Battery: BatteryJSON{
			State:         orUnknown(string(r.Battery)),
			CurrentMA:     r.CurrentMA,
			LowBatteryPin: snap.LowBatteryPin,
		},
		Thermal: ThermalJSON{State: orUnknown(string(r.Thermal))},
		Modes:   ModesJSON{Info: r.ModeInfo, Wifi: r.WifiMode, Mute: r.MuteMode},
		MQTT:    MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			BatteryLow:      snap.Counts.BatteryLow,
			BatteryOK:       snap.Counts.BatteryOK,
			BatteryCritical: snap.Counts.BatteryCritical,
			OverTemp:        snap.Counts.OverTemp,
			TempOK:          snap.Counts.TempOK,
		},
		Config: ConfigJSON{
			PeriodMs:         snap.Config.PeriodMs,
			SerialPort:       snap.Config.SerialPort,
			LowMV:            snap.Config.LowMV,
			ShutdownMV:       snap.Config.ShutdownMV,
			MaxTempC:         snap.Config.MaxTempC,
			CriticalShutdown: snap.Config.CriticalPower,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
		},
	}
	if r.HasVoltage {
		mv, pct := r.VoltageMV, r.BatteryPercent
		inner.Battery.VoltageMV = &mv
		inner.Battery.Percent = &pct
	}
	if r.HasTemperature {
		c := r.CPUTempC
		inner.Thermal.CPUTempC = &c
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCompact returns single-line JSON status for the live feed.
func FormatCompact(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
	return data
}
