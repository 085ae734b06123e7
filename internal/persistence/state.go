package persistence

import (
	"encoding/json"
	"time"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/trigger"
)

// RuntimeState is the engine's top-level lifecycle state.
type RuntimeState string

const (
	StateStopped RuntimeState = "Stopped"
	StateRunning RuntimeState = "Running"
	StatePaused  RuntimeState = "Paused"
	StateError   RuntimeState = "Error"
)

// MaxCycleHistory is the number of most-recent cycle reports kept in the
// persisted snapshot (spec.md §6.1: "cycleHistory (last 10 only)").
const MaxCycleHistory = 10

// EngineState is the canonical snapshot persisted to state.json: the
// engine's runtime state, approval ceiling, last-fire time per cycle
// kind, the bounded cycle history, and the registered trigger
// projections.
type EngineState struct {
	State        RuntimeState            `json:"state"`
	HDMLevel     approval.Level           `json:"hdmLevel"`
	LastCycleRun map[cycle.Kind]time.Time `json:"lastCycleRun,omitempty"`
	CycleHistory []cycle.Report           `json:"cycleHistory,omitempty"`
	Triggers     []trigger.Projection     `json:"triggers,omitempty"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// WithCycleReport returns a copy of s with report appended to
// CycleHistory, trimmed to the most recent MaxCycleHistory entries, and
// LastCycleRun updated for report.Kind.
func (s EngineState) WithCycleReport(report cycle.Report) EngineState {
	next := s
	history := make([]cycle.Report, len(s.CycleHistory), len(s.CycleHistory)+1)
	copy(history, s.CycleHistory)
	history = append(history, report)
	if over := len(history) - MaxCycleHistory; over > 0 {
		history = history[over:]
	}
	next.CycleHistory = history

	lastRun := make(map[cycle.Kind]time.Time, len(s.LastCycleRun)+1)
	for k, v := range s.LastCycleRun {
		lastRun[k] = v
	}
	if !report.EndTime.IsZero() {
		lastRun[report.Kind] = report.EndTime
	}
	next.LastCycleRun = lastRun
	return next
}

func decodeState(data []byte) (EngineState, error) {
	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return EngineState{}, err
	}
	return state, nil
}
