package deferred

import "sync"

// Registry is the application-wide single slot for a blocked action.
// Defer overwrites (last write wins); Consume hands the action out once.
type Registry struct {
	mu     sync.Mutex
	action *PendingAction
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Defer stores action as the only pending action, replacing any previous one.
func (r *Registry) Defer(action PendingAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.action = &action
	r.mu.Unlock()
	return nil
}

// Consume atomically returns the pending action and empties the slot.
// A second call without an intervening Defer reports false.
func (r *Registry) Consume() (PendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.action == nil {
		return PendingAction{}, false
	}
	a := *r.action
	r.action = nil
	return a, true
}

// Discard empties the slot without returning its content.
func (r *Registry) Discard() {
	r.mu.Lock()
	r.action = nil
	r.mu.Unlock()
}

// Pending returns the waiting action, if any, without consuming it.
func (r *Registry) Pending() (PendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.action == nil {
		return PendingAction{}, false
	}
	return *r.action, true
}
