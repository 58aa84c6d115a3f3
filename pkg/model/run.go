package model

import "time"

// Run records one end-to-end build-then-distribute session.
type Run struct {
	ID          string       `json:"id"`
	Strategy    StrategyType `json:"strategy"`
	State       RunState     `json:"state"`
	ForceBuild  bool         `json:"force_build"`
	TargetCount int          `json:"target_count"`
	Succeeded   bool         `json:"succeeded"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
