// Package strategy holds the pluggable distribution procedures: each one
// turns a resolved target set into a task run under the controller's
// lifecycle.
package strategy

import (
	"log/slog"

	"github.com/studentutu/shipyard/internal/procrun"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// CancelRegistry collects cancellation hooks for in-flight suspendable
// operations. Add returns a removal func the strategy calls once the
// operation settles.
type CancelRegistry interface {
	Add(fn func()) (remove func())
}

// Context is what a strategy task gets to work with during a run.
type Context struct {
	Scheduler *task.Scheduler
	Runner    *procrun.Runner
	Cancels   CancelRegistry
	Logger    *slog.Logger
}

// Strategy produces the distribution task for a resolved target set.
type Strategy interface {
	// Type returns the strategy type identifier.
	Type() model.StrategyType

	// AllowEmptyTargets reports whether the strategy tolerates a run with
	// zero resolved targets.
	AllowEmptyTargets() bool

	// Task builds the distribution task. It must complete with a bool:
	// true on success, false on failure or cancellation.
	Task(rc *Context, artifacts []model.TargetArtifact, forceBuild bool) *task.Task
}
