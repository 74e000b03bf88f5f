package stt

import (
	"sync"

	"github.com/google/uuid"
)

// Admission is the process-wide counter that caps concurrent STT sessions
// (§4.D). Admission returns ("", false) when saturated; the caller should
// arrange a retry after ~5s. Each admitted socket gets a unique id so the
// counter can be decremented exactly once per socket regardless of whether
// it closed via request or peer (property 4).
type Admission struct {
	mu     sync.Mutex
	max    int
	active map[string]struct{}
}

func NewAdmission(max int) *Admission {
	return &Admission{max: max, active: make(map[string]struct{})}
}

// TryAdmit attempts to admit one more STT socket. The returned id must be
// passed to Release exactly once.
func (a *Admission) TryAdmit() (id string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.active) >= a.max {
		return "", false
	}
	id = uuid.New().String()
	a.active[id] = struct{}{}
	return id, true
}

// Release decrements the counter for id. Releasing an id not currently
// admitted (e.g. a double-release) is a no-op, keeping the counter
// conserved under any sequence of create/close events.
func (a *Admission) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id)
}

// Count returns the number of currently admitted sockets.
func (a *Admission) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
