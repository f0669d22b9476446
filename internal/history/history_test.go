package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/saio-monitor/internal/logic"
)

func openTestStore(t *testing.T, retention time.Duration) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), retention, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStoresNullsForUnreadQuantities(t *testing.T) {
	s := openTestStore(t, 0)

	r := logic.InitialReading()
	r.Timestamp = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(r))

	var mv, temp any
	row := s.db.QueryRow(`SELECT voltage_mv, cpu_temp_c FROM readings`)
	require.NoError(t, row.Scan(&mv, &temp))
	assert.Nil(t, mv)
	assert.Nil(t, temp)
}

func TestRecordStoresValues(t *testing.T) {
	s := openTestStore(t, 0)

	r := logic.InitialReading()
	r.Timestamp = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.VoltageMV = 3712
	r.BatteryPercent = 65
	r.CurrentMA = 640
	r.CPUTempC = 51.5
	r.HasVoltage = true
	r.HasTemperature = true
	r.Battery = logic.BatteryLow
	require.NoError(t, s.Record(r))

	var ts, mv, pct int64
	var temp float64
	var battery string
	row := s.db.QueryRow(`SELECT timestamp, voltage_mv, battery_percent, cpu_temp_c, battery_state FROM readings`)
	require.NoError(t, row.Scan(&ts, &mv, &pct, &temp, &battery))
	assert.Equal(t, r.Timestamp.UnixMilli(), ts)
	assert.Equal(t, int64(3712), mv)
	assert.Equal(t, int64(65), pct)
	assert.InDelta(t, 51.5, temp, 1e-9)
	assert.Equal(t, "LOW", battery)
}

func TestRecordEventAndRecentEvents(t *testing.T) {
	s := openTestStore(t, 0)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordEvent(logic.Event{Timestamp: base, Type: logic.EventBatteryLow, Value: 3250}))
	require.NoError(t, s.RecordEvent(logic.Event{Timestamp: base.Add(time.Minute), Type: logic.EventOverTemp, Value: 61.5}))
	require.NoError(t, s.RecordEvent(logic.Event{Timestamp: base.Add(2 * time.Minute), Type: logic.EventTempOK, Value: 54}))

	events, err := s.RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, logic.EventTempOK, events[0].Type)
	assert.Equal(t, logic.EventOverTemp, events[1].Type)
	assert.InDelta(t, 61.5, events[1].Value, 1e-9)
	assert.True(t, events[1].Timestamp.Equal(base.Add(time.Minute)))
}

func TestPrune(t *testing.T) {
	s := openTestStore(t, 0)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		r := logic.InitialReading()
		r.Timestamp = base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, s.Record(r))
	}
	require.NoError(t, s.RecordEvent(logic.Event{Timestamp: base, Type: logic.EventBatteryLow}))

	n, err := s.Prune(base.Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "two readings and one event")

	count, err := s.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecordPrunesPastRetention(t *testing.T) {
	s := openTestStore(t, 24*time.Hour)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	old := logic.InitialReading()
	old.Timestamp = base
	require.NoError(t, s.Record(old))

	// Within the prune interval: nothing removed yet.
	mid := logic.InitialReading()
	mid.Timestamp = base.Add(30 * time.Minute)
	require.NoError(t, s.Record(mid))

	late := logic.InitialReading()
	late.Timestamp = base.Add(25 * time.Hour)
	require.NoError(t, s.Record(late))

	count, err := s.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFakeRecorder(t *testing.T) {
	var rec Recorder = &FakeRecorder{}
	require.NoError(t, rec.Record(logic.InitialReading()))
	require.NoError(t, rec.RecordEvent(logic.Event{Type: logic.EventBatteryOK}))
	require.NoError(t, rec.Close())

	f := rec.(*FakeRecorder)
	assert.Len(t, f.Readings, 1)
	assert.Len(t, f.Events, 1)
	assert.True(t, f.Closed)
}
