package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/saio-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		return d.Round(time.Second).String()
	},
	// Threshold states share one style: green when NORMAL, red otherwise.
	"stateClass": func(state any) string {
		if fmt.Sprint(state) == "NORMAL" {
			return "normal"
		}
		return "alert"
	},
	// Converted battery readings are in hundredths of a volt.
	"volts": func(v int) string {
		return fmt.Sprintf("%.2f V", float64(v)/100)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>SAIO Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.normal { color: green; font-weight: bold; }
.alert { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>SAIO Monitor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Battery</h2>
<table>
<tr><th>State</th><td id="battery-state" class="{{stateClass .Reading.Battery}}">{{.Reading.Battery}}</td></tr>
<tr><th>Voltage</th><td id="voltage">{{if .Reading.HasVoltage}}{{volts .Reading.VoltageMV}} ({{.Reading.BatteryPercent}}%){{else}}-.--{{end}}</td></tr>
<tr><th>Current</th><td id="current">{{.Reading.CurrentMA}} mA</td></tr>
<tr><th>Low battery pin</th><td id="lowbatt-pin">{{if .LowBatteryPin}}asserted{{else}}clear{{end}}</td></tr>
</table>

<h2>Thermal</h2>
<table>
<tr><th>State</th><td id="thermal-state" class="{{stateClass .Reading.Thermal}}">{{.Reading.Thermal}}</td></tr>
<tr><th>CPU</th><td id="cpu-temp">{{if .Reading.HasTemperature}}{{printf "%.1f" .Reading.CPUTempC}} &deg;C{{else}}--.-{{end}}</td></tr>
</table>

<h2>Modes</h2>
<table>
<tr><th>Info</th><td>{{.Reading.ModeInfo}}</td></tr>
<tr><th>Wifi</th><td>{{.Reading.WifiMode}}</td></tr>
<tr><th>Mute</th><td>{{.Reading.MuteMode}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Battery low</th><td>{{.Counts.BatteryLow}}</td></tr>
<tr><th>Battery ok</th><td>{{.Counts.BatteryOK}}</td></tr>
<tr><th>Battery critical</th><td>{{.Counts.BatteryCritical}}</td></tr>
<tr><th>Over temperature</th><td>{{.Counts.OverTemp}}</td></tr>
<tr><th>Temperature ok</th><td>{{.Counts.TempOK}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Cycles</th><td id="cycles">{{.Cycles}}</td></tr>
<tr><th>Period</th><td>{{.Config.PeriodMs}}ms</td></tr>
<tr><th>Serial</th><td>{{.Config.SerialPort}}</td></tr>
<tr><th>Low / shutdown</th><td>{{volts .Config.LowMV}} / {{volts .Config.ShutdownMV}}</td></tr>
<tr><th>Max CPU</th><td>{{printf "%.1f" .Config.MaxTempC}} &deg;C</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

{{if .History.Enabled}}
<h2>Recent Events</h2>
<p>{{.History.StoredReadings}} readings stored</p>
<table>
{{range .History.Events}}<tr><th>{{.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</th><td class="{{if or (eq (printf "%s" .Type) "BATTERY_OK") (eq (printf "%s" .Type) "TEMP_OK")}}normal{{else}}alert{{end}}">{{.Type}} ({{.Value}})</td></tr>
{{else}}<tr><td>no events</td></tr>
{{end}}</table>
{{end}}

<p><a href="/index.json">JSON</a>{{if .History.Enabled}} | <a href="/events.json">events</a>{{end}}</p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setState(id, state) {
    var el = document.getElementById(id);
    el.textContent = state;
    el.className = state === "NORMAL" ? "normal" : "alert";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/live");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        setState("battery-state", s.battery.state);
        setState("thermal-state", s.thermal.state);
        if (s.battery.voltage_mv !== null) {
          document.getElementById("voltage").textContent =
            (s.battery.voltage_mv / 100).toFixed(2) + " V (" + s.battery.percent + "%)";
        }
        document.getElementById("current").textContent = s.battery.current_ma + " mA";
        document.getElementById("lowbatt-pin").textContent = s.battery.low_battery_pin ? "asserted" : "clear";
        if (s.thermal.cpu_temp_c !== null) {
          document.getElementById("cpu-temp").textContent = s.thermal.cpu_temp_c.toFixed(1) + " °C";
        }
        document.getElementById("cycles").textContent = s.cycles;
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, hist historyView) error {
	return indexTmpl.Execute(w, struct {
		status.Snapshot
		History historyView
	}{snap, hist})
}
