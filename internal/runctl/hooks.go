package runctl

import "sync"

// Hooks is the registry of active cancellation hooks for the current run.
// Each in-flight process or suspendable external operation registers one
// hook; Fire invokes them all. Hooks are registered from the control
// goroutine but fired from arbitrary goroutines (signal handlers, HTTP
// handlers), so access is serialized.
type Hooks struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{fns: make(map[int]func())}
}

// Add registers fn and returns its removal func. Removing twice is a no-op.
func (h *Hooks) Add(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

// Fire invokes every registered hook. Hooks stay registered; the operations
// they cancel remove them as they settle.
func (h *Hooks) Fire() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}
