package task

import (
	"errors"
	"log/slog"
)

// ErrNoResult is the panic value when the last-result slot is read outside
// the resumption window that follows a child task's completion.
var ErrNoResult = errors.New("task: last result read outside child-completion window")

// Scheduler drives cooperative tasks single-threadedly. Submit and Tick must
// be called from one control goroutine; under that assumption no locking is
// needed. Create one Scheduler per run context, never a shared singleton.
type Scheduler struct {
	logger *slog.Logger
	tasks  []*Task // active set, in registration order

	lastResult   any
	lastResultOK bool
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

// Submit registers t and advances it once immediately. A task that completes
// without suspending is never registered. Returns whether t is still pending
// (either suspended itself or parked on a delegated child).
func (s *Scheduler) Submit(t *Task) bool {
	s.advance(t)
	return !t.done
}

// Active reports whether any task is registered, i.e. whether the scheduler
// wants further ticks. It goes false when the active set drains and true
// again on the next Submit.
func (s *Scheduler) Active() bool {
	return len(s.tasks) > 0
}

// Tick advances every registered task one checkpoint, in reverse
// registration order so removals during the pass cannot skip entries.
// A child delegated during the pass is advanced immediately by the submit
// logic rather than revisited by this loop.
func (s *Scheduler) Tick() {
	snapshot := make([]*Task, len(s.tasks))
	copy(snapshot, s.tasks)

	for i := len(snapshot) - 1; i >= 0; i-- {
		t := snapshot[i]
		// Skip tasks that finished or were parked earlier in this pass.
		if !s.registered(t) {
			continue
		}
		s.advance(t)
	}
}

// GetLastResult returns the just-completed child's final value. It is valid
// only synchronously within the parent resumption triggered by that
// completion, before the parent yields again; any other call is a contract
// violation and panics with ErrNoResult.
func (s *Scheduler) GetLastResult() any {
	if !s.lastResultOK {
		panic(ErrNoResult)
	}
	return s.lastResult
}

// Result reads the last-result slot coerced to T. A completed value of a
// different shape yields T's zero value.
func Result[T any](s *Scheduler) T {
	v, _ := s.GetLastResult().(T)
	return v
}

// advance runs one checkpoint of t and routes the outcome.
func (s *Scheduler) advance(t *Task) {
	step := t.fn()

	switch step.kind {
	case stepPending:
		t.checkpoint = step.value
		s.register(t)

	case stepDelegate:
		// Park the parent; it resumes when the child finishes.
		s.unregister(t)
		child := step.child
		child.parent = t
		s.logger.Debug("task delegated", "parent_id", t.id, "child_id", child.id)
		s.advance(child)

	case stepDone:
		t.done = true
		t.checkpoint = step.value
		s.unregister(t)
		s.finish(t)
	}
}

// finish resumes t's parent, exposing t's final value through the
// last-result slot for the duration of that resumption. Completions chain
// synchronously: a parent that finishes in turn resumes its own parent
// within the same pass, so a drained chain costs O(1) extra ticks no matter
// how deep the delegation nesting was.
func (s *Scheduler) finish(t *Task) {
	parent := t.parent
	t.parent = nil
	s.logger.Debug("task finished", "task_id", t.id)

	if parent == nil {
		if len(s.tasks) == 0 {
			s.logger.Debug("scheduler idle")
		}
		return
	}

	s.lastResult = t.checkpoint
	s.lastResultOK = true
	s.advance(parent)
	s.lastResultOK = false
	s.lastResult = nil
}

func (s *Scheduler) register(t *Task) {
	if s.registered(t) {
		return
	}
	s.tasks = append(s.tasks, t)
}

func (s *Scheduler) unregister(t *Task) {
	for i, cur := range s.tasks {
		if cur == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) registered(t *Task) bool {
	for _, cur := range s.tasks {
		if cur == t {
			return true
		}
	}
	return false
}
