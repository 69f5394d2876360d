package sandbox

import (
	"sync"
	"time"
)

// Registry tracks at most one container per conversation, including starts
// still in flight. It is what makes StartContainer idempotent: a second start
// for a conversation that is already starting or running is a no-op.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	containerID string // empty while the start is in flight
	userID      string
	startedAt   time.Time
	lastActive  time.Time
	doomed      bool // Remove arrived while the start was in flight
}

// Info is a snapshot of one registry entry.
type Info struct {
	ConversationID string
	ContainerID    string
	UserID         string
	StartedAt      time.Time
	LastActive     time.Time
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Begin reserves the conversation slot for a start attempt. Returns false if
// a container is already starting or running for it.
func (r *Registry) Begin(convID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[convID]; ok {
		return false
	}
	now := time.Now()
	r.entries[convID] = &entry{userID: userID, startedAt: now, lastActive: now}
	return true
}

// Commit records the container ID after a successful start. It reports false
// when the conversation was torn down mid-start; the slot is released and the
// caller must discard the container it just created.
func (r *Registry) Commit(convID, containerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[convID]
	if !ok || e.doomed {
		delete(r.entries, convID)
		return false
	}
	e.containerID = containerID
	e.lastActive = time.Now()
	return true
}

// Abort releases the slot reserved by Begin after a failed start.
func (r *Registry) Abort(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, convID)
}

// Touch marks the conversation active, deferring idle reaping.
func (r *Registry) Touch(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[convID]; ok {
		e.lastActive = time.Now()
	}
}

// Remove drops the entry and returns the container ID it held. A start still
// in flight cannot be dropped here: deleting the reservation would orphan the
// container about to be committed. The slot is marked instead; Commit
// observes the mark, releases the slot and tells the starter to discard its
// container.
func (r *Registry) Remove(convID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[convID]
	if !ok {
		return "", false
	}
	if e.containerID == "" {
		e.doomed = true
		return "", false
	}
	delete(r.entries, convID)
	return e.containerID, true
}

// ContainerID returns the running container for a conversation.
func (r *Registry) ContainerID(convID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[convID]
	if !ok || e.containerID == "" {
		return "", false
	}
	return e.containerID, true
}

// Idle returns conversations whose containers have been inactive for at least
// idleFor. Entries with starts still in flight are never reported.
func (r *Registry) Idle(idleFor time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	var idle []string
	for convID, e := range r.entries {
		if e.containerID != "" && e.lastActive.Before(cutoff) {
			idle = append(idle, convID)
		}
	}
	return idle
}

// ListAll snapshots every entry, in-flight starts included.
func (r *Registry) ListAll() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.entries))
	for convID, e := range r.entries {
		infos = append(infos, Info{
			ConversationID: convID,
			ContainerID:    e.containerID,
			UserID:         e.userID,
			StartedAt:      e.startedAt,
			LastActive:     e.lastActive,
		})
	}
	return infos
}

// Len reports how many conversations currently hold a slot.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
