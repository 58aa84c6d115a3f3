package model

// RunState represents the lifecycle state of a distribution run.
type RunState string

const (
	RunStateIdle         RunState = "IDLE"
	RunStateBuilding     RunState = "BUILDING_TARGETS"
	RunStateDistributing RunState = "DISTRIBUTING"
	RunStateDone         RunState = "DONE"
	RunStateCancelled    RunState = "CANCELLED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateDone, RunStateCancelled:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateIdle:         {RunStateBuilding},
	RunStateBuilding:     {RunStateDistributing, RunStateCancelled},
	RunStateDistributing: {RunStateDone, RunStateCancelled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StrategyType identifies which distribution strategy handles a run.
type StrategyType string

const (
	StrategyTypeArchive StrategyType = "archive"
	StrategyTypeS3      StrategyType = "s3"
	StrategyTypeCommand StrategyType = "command"
)
