// Package task implements the cooperative scheduling core: resumable tasks
// advanced one checkpoint per tick, delegation to nested child tasks, and a
// last-result handoff from a completed child to its resuming parent.
package task

import "github.com/google/uuid"

type stepKind int

const (
	stepPending stepKind = iota
	stepDelegate
	stepDone
)

// Step is one checkpoint of a Task: suspend with a value, delegate to a
// child task, or complete with a final value.
type Step struct {
	kind  stepKind
	value any
	child *Task
}

// Pending suspends the task until the next tick, exposing value as its
// current checkpoint.
func Pending(value any) Step {
	return Step{kind: stepPending, value: value}
}

// Delegate parks the task until child completes. The child's final value is
// readable through the scheduler's last-result slot when the task resumes.
func Delegate(child *Task) Step {
	return Step{kind: stepDelegate, child: child}
}

// Done completes the task with a final value.
func Done(value any) Step {
	return Step{kind: stepDone, value: value}
}

// Fn is the body of a Task. The scheduler calls it once per advance; each
// call must return the next checkpoint.
type Fn func() Step

// Task is a resumable unit of work driven by a Scheduler. Tasks are not safe
// for concurrent use; they belong to the scheduler they were submitted to.
type Task struct {
	id         string
	fn         Fn
	checkpoint any
	done       bool
	parent     *Task
}

// New creates a Task named after name with a unique suffix.
func New(name string, fn Fn) *Task {
	return &Task{id: name + "_" + uuid.New().String()[:8], fn: fn}
}

// ID returns the task's unique identifier.
func (t *Task) ID() string {
	return t.id
}

// Done reports whether the task has completed.
func (t *Task) Done() bool {
	return t.done
}

// Value returns the task's current checkpoint value; once the task is done
// this is its final value.
func (t *Task) Value() any {
	return t.checkpoint
}
