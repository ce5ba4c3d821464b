package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/MrWong99/voicetap/internal/meter"
)

// ConsumerStatus is the JSON view of one consumer served under /consumers.
type ConsumerStatus struct {
	Name     string        `json:"name"`
	ID       string        `json:"id"`
	Stage    int           `json:"stage"`
	Category string        `json:"category"`
	Layout   string        `json:"layout"`
	Routes   []int         `json:"routes"`
	State    string        `json:"state"`
	Frames   uint64        `json:"frames"`
	Levels   []LevelStatus `json:"levels"`
}

// LevelStatus is the last reported level of one output channel in dBFS.
type LevelStatus struct {
	Channel int     `json:"channel"`
	Peak    float64 `json:"peak_dbfs"`
	RMS     float64 `json:"rms_dbfs"`
}

func (a *App) consumerStatus(name string) (ConsumerStatus, bool) {
	r, m, ok := a.Consumer(name)
	if !ok {
		return ConsumerStatus{}, false
	}
	s := r.Settings()
	st, cat := r.State()
	out := ConsumerStatus{
		Name:     name,
		ID:       r.ID().String(),
		Stage:    int(cat),
		Category: cat.String(),
		Layout:   s.Layout.String(),
		Routes:   s.Routes,
		State:    st.String(),
		Frames:   m.Frames(),
		Levels:   levelStatus(m.Levels()),
	}
	if out.Routes == nil {
		out.Routes = []int{}
	}
	return out, true
}

func levelStatus(levels []meter.Level) []LevelStatus {
	out := make([]LevelStatus, len(levels))
	for i, l := range levels {
		out[i] = LevelStatus{Channel: l.Channel, Peak: l.PeakDBFS(), RMS: l.RMSDBFS()}
	}
	return out
}

// handleConsumers lists every consumer sorted by name.
func (a *App) handleConsumers(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	names := make([]string, 0, len(a.consumers))
	for name := range a.consumers {
		names = append(names, name)
	}
	a.mu.Unlock()
	slices.SortFunc(names, strings.Compare)

	list := make([]ConsumerStatus, 0, len(names))
	for _, name := range names {
		// Removed by a reload in between.
		if cs, ok := a.consumerStatus(name); ok {
			list = append(list, cs)
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleConsumer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cs, ok := a.consumerStatus(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown consumer " + name})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: write status response", "err", err)
	}
}
