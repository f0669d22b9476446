package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweeney/saio-monitor/internal/history"
)

// recentEventLimit is how many stored events the status page lists.
const recentEventLimit = 20

// HistorySource is the stored log shown next to the live status.
type HistorySource interface {
	RecentEvents(limit int) ([]history.EventRow, error)
	CountReadings() (int64, error)
}

// EventsJSON is the response of /events.json.
type EventsJSON struct {
	StoredReadings int64       `json:"stored_readings"`
	Events         []EventJSON `json:"events"`
}

// EventJSON is one stored threshold event.
type EventJSON struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
}

// historyView is what the page and the JSON endpoint render.
type historyView struct {
	Enabled        bool
	StoredReadings int64
	Events         []history.EventRow
}

// SetHistory attaches the stored event log. Without it the page omits the
// history section and /events.json answers 404.
func (s *Server) SetHistory(h HistorySource) {
	s.history = h
}

func (s *Server) loadHistory() (historyView, error) {
	if s.history == nil {
		return historyView{}, nil
	}
	events, err := s.history.RecentEvents(recentEventLimit)
	if err != nil {
		return historyView{}, err
	}
	n, err := s.history.CountReadings()
	if err != nil {
		return historyView{}, err
	}
	return historyView{Enabled: true, StoredReadings: n, Events: events}, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	view, err := s.loadHistory()
	if err != nil {
		s.logger.Warn().Err(err).Msg("load history")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	out := EventsJSON{StoredReadings: view.StoredReadings, Events: make([]EventJSON, 0, len(view.Events))}
	for _, e := range view.Events {
		out.Events = append(out.Events, EventJSON{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Type:      string(e.Type),
			Value:     e.Value,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn().Err(err).Msg("write events")
	}
}
