// Package typing tracks which remote participants are currently composing a
// message. Entries expire on a per-participant timer; every timer is owned by
// the registry so teardown can never leave a dangling callback behind.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/tamsinv/parley/internal/logging"
)

// DefaultTTL is the inactivity window after which a typing participant is
// dropped when no superseding typing event arrives.
const DefaultTTL = 12 * time.Second

// RoundTripFunc reports whether a typing event originated from this
// session's own participant and should be ignored.
type RoundTripFunc func(participantID string) bool

type entry struct {
	timer *time.Timer
}

// Registry is the set of currently-typing remote participants.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry
	change  func(participants []string)
	log     *logging.Logger
}

// NewRegistry creates a registry with the given expiry window. A
// non-positive ttl falls back to DefaultTTL.
func NewRegistry(ttl time.Duration, log *logging.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]*entry),
		log:     log.Sub("typing"),
	}
}

// OnChange registers the single listener notified with the full current set
// whenever it changes.
func (r *Registry) OnChange(fn func(participants []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.change = fn
}

// OnTypingEvent records a typing event for a participant. Events that fail
// the round-trip check are ignored entirely. An existing entry has its timer
// cancelled and replaced, which extends the expiry window.
func (r *Registry) OnTypingEvent(participantID string, roundTrip RoundTripFunc) {
	if roundTrip != nil && roundTrip(participantID) {
		return
	}

	r.mu.Lock()
	if prev, ok := r.entries[participantID]; ok {
		prev.timer.Stop()
	}
	e := &entry{}
	e.timer = time.AfterFunc(r.ttl, func() { r.expire(participantID, e) })
	r.entries[participantID] = e
	r.log.Debug().Str("participant", participantID).Msg("typing")
	snapshot, notify := r.snapshotLocked()
	r.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// OnParticipantMessageArrived clears the whole registry. The upstream
// behavior drops every typing indicator once any identity-bearing message
// lands, not just the sender's, and that is kept here for compatibility.
func (r *Registry) OnParticipantMessageArrived(participantID string) {
	r.Clear()
}

// Clear cancels all timers and empties the set.
func (r *Registry) Clear() {
	r.mu.Lock()
	changed := len(r.entries) > 0
	for _, e := range r.entries {
		e.timer.Stop()
	}
	r.entries = make(map[string]*entry)
	snapshot, notify := r.snapshotLocked()
	r.mu.Unlock()

	if changed && notify != nil {
		notify(snapshot)
	}
}

// Active returns a sorted snapshot of the currently-typing participant IDs.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, _ := r.snapshotLocked()
	return snapshot
}

// expire removes a participant when its timer fires. The entry pointer is
// compared so a timer superseded by a newer typing event cannot remove the
// replacement entry.
func (r *Registry) expire(participantID string, e *entry) {
	r.mu.Lock()
	current, ok := r.entries[participantID]
	if !ok || current != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, participantID)
	r.log.Debug().Str("participant", participantID).Msg("typing expired")
	snapshot, notify := r.snapshotLocked()
	r.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

func (r *Registry) snapshotLocked() ([]string, func([]string)) {
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, r.change
}
