package testutil

import (
	"sync"

	"github.com/hupe1980/chatmesh/core"
)

// Recorder is a core.Observer that keeps every update for later assertions.
type Recorder struct {
	mu      sync.Mutex
	updates []core.Update
}

// Notify implements core.Observer.
func (r *Recorder) Notify(u core.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

// Updates returns a copy of all recorded updates.
func (r *Recorder) Updates() []core.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Update{}, r.updates...)
}

// Kinds returns the kinds of all recorded updates in order.
func (r *Recorder) Kinds() []core.UpdateKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.UpdateKind, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Kind
	}

	return out
}

// States returns the orchestration states announced so far.
func (r *Recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, u := range r.updates {
		if u.Kind == core.UpdateStateChanged {
			out = append(out, u.State)
		}
	}

	return out
}
