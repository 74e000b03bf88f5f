package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupReason explains why cleanup(stream_id, reason) was invoked.
type CleanupReason int

const (
	ReasonConnectionClosed CleanupReason = iota
	ReasonInactivityTimeout
	ReasonShutdown
	ReasonError
)

// Registry owns stream id -> Session and call id -> stream id. These two
// maps are the only cross-session shared state in the system; every access
// goes through mu.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	callToStream map[string]string
	ending      map[string]time.Time // stream id -> when the ending grace window ends

	idleTimeout time.Duration
	endingGrace time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewRegistry builds a registry with the given idle timeout and ending grace
// window, and starts its background sweeper at the given period.
func NewRegistry(idleTimeout, endingGrace, sweepPeriod time.Duration) *Registry {
	r := &Registry{
		sessions:     make(map[string]*Session),
		callToStream: make(map[string]string),
		ending:       make(map[string]time.Time),
		idleTimeout:  idleTimeout,
		endingGrace:  endingGrace,
		stopSweep:    make(chan struct{}),
	}
	go r.sweepLoop(sweepPeriod)
	return r
}

// GetOrCreate returns the existing session for streamID, or creates one with
// defaults on first use. Either way, last-activity is touched.
func (r *Registry) GetOrCreate(streamID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[streamID]; ok {
		s.Touch()
		return s
	}

	s := NewSession(streamID)
	r.sessions[streamID] = s
	return s
}

// Get returns the session for streamID without creating one.
func (r *Registry) Get(streamID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[streamID]
	return s, ok
}

// AssociateCallID establishes the call id -> stream id reverse mapping. A
// call id already associated with an ending session's stream id refuses the
// lookup, implementing the anti-reanimation invariant (§3, property 7): the
// caller should treat a refusal as "start a fresh session" rather than
// resurrecting the old dialog.
func (r *Registry) AssociateCallID(streamID, callID string) (refused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingStream, ok := r.callToStream[callID]; ok {
		if until, ending := r.ending[existingStream]; ending && time.Now().Before(until) {
			return true
		}
	}

	r.callToStream[callID] = streamID
	if s, ok := r.sessions[streamID]; ok {
		s.SetCallID(callID)
	}
	return false
}

// LookupByCallID resolves a carrier call id to its session, if still live.
func (r *Registry) LookupByCallID(callID string) (*Session, bool) {
	r.mu.Lock()
	streamID, ok := r.callToStream[callID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r.Get(streamID)
}

// The Set* methods below are typed mutators over the registry, matching the
// session registry's operation list: each is idempotent against an unknown
// stream id (it creates the session first) and touches last-activity.

func (r *Registry) SetCallerInfo(streamID string, info CallerInfo) {
	r.GetOrCreate(streamID).SetCallerInfo(info)
}

func (r *Registry) SetDialogState(streamID string, d DialogState) {
	r.GetOrCreate(streamID).SetDialogState(d)
}

func (r *Registry) SetPreloadedAppointments(streamID string, appts []Appointment) {
	r.GetOrCreate(streamID).SetPreloadedAppointments(appts)
}

func (r *Registry) SetDelayData(streamID string, d *DelayData) {
	r.GetOrCreate(streamID).SetDelayData(d)
}

func (r *Registry) SetImmediateCallback(streamID string, v bool) {
	r.GetOrCreate(streamID).SetImmediateCallback(v)
}

// Cleanup tears a session down. If the session is marked ending and the
// reason is connection-closed, destruction is deferred by the grace window
// so a near-immediate carrier reconnect with the same call id is refused
// rather than resurrecting the dialog. Cleanup on an unknown stream id is a
// no-op.
func (r *Registry) Cleanup(streamID string, reason CleanupReason) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if s.IsEnding() && reason == ReasonConnectionClosed {
		r.ending[streamID] = time.Now().Add(r.endingGrace)
		r.mu.Unlock()

		time.AfterFunc(r.endingGrace, func() {
			r.destroy(streamID)
		})
		return
	}
	r.mu.Unlock()

	r.destroy(streamID)
}

func (r *Registry) destroy(streamID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, streamID)
	delete(r.ending, streamID)
	callID := s.CallID()
	if callID != "" {
		delete(r.callToStream, callID)
	}
	r.mu.Unlock()

	s.runTeardown()
}

// Shutdown destroys every live session immediately.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.destroy(id)
	}

	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

func (r *Registry) sweepLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Registry) sweepIdle() {
	r.mu.Lock()
	var stale []string
	now := time.Now()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.idleTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		log.Info().Str("stream_id", id).Msg("sweeping idle session")
		r.destroy(id)
	}
}

// Count returns the number of currently live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
