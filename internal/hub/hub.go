// Package hub is the in-memory routing fabric between browser clients and
// sandbox containers. It owns three tables: client senders keyed by
// (user, conversation), container senders keyed by conversation and stamped
// with a generation, and the pending-message mailbox that carries a send
// across container startup.
package hub

import (
	"log/slog"
	"sync"

	"github.com/cruciblehq/crucible/internal/metrics"
)

// Sender delivers one outbound frame to a connection's write queue. Send
// must never block; the hub calls it after releasing its locks.
type Sender interface {
	Send(data []byte)
}

type containerEntry struct {
	sender Sender
	gen    uint64
}

type Hub struct {
	clientMu sync.RWMutex
	clients  map[string]map[string]Sender // user id -> conversation id -> sender

	containerMu sync.RWMutex
	containers  map[string]containerEntry // conversation id -> sender + generation
	nextGen     uint64                    // guarded by containerMu; install order == counter order

	pendingMu sync.RWMutex
	pending   map[string][]byte // conversation id -> serialized client frame
}

func New() *Hub {
	return &Hub{
		clients:    make(map[string]map[string]Sender),
		containers: make(map[string]containerEntry),
		pending:    make(map[string][]byte),
	}
}

// AddClient installs the sender for (user, conversation), replacing any
// prior entry. A replaced sender is simply dropped: its connection is about
// to observe its own close.
func (h *Hub) AddClient(userID, convID string, s Sender) {
	h.clientMu.Lock()
	defer h.clientMu.Unlock()

	if h.clients[userID] == nil {
		h.clients[userID] = make(map[string]Sender)
	}
	h.clients[userID][convID] = s
	slog.Info("hub: client added", "user_id", userID, "conversation_id", convID)
}

// RemoveClient drops the sender for (user, conversation) only while it is
// still the installed one. A tab closing after a newer tab joined must not
// evict the replacement. Idempotent; drops the user submap when it empties.
func (h *Hub) RemoveClient(userID, convID string, s Sender) {
	h.clientMu.Lock()
	defer h.clientMu.Unlock()

	subs, ok := h.clients[userID]
	if !ok || subs[convID] != s {
		return
	}
	delete(subs, convID)
	if len(subs) == 0 {
		delete(h.clients, userID)
	}
}

// SendToClient delivers best-effort: no sender, no delivery, no error.
func (h *Hub) SendToClient(userID, convID string, data []byte) {
	h.clientMu.RLock()
	var s Sender
	if subs, ok := h.clients[userID]; ok {
		s = subs[convID]
	}
	h.clientMu.RUnlock()

	if s != nil {
		s.Send(data)
	}
}

// AddContainer installs the container sender for a conversation, overwriting
// any prior entry without notification, and returns the freshly assigned
// generation. The counter increment and the install happen in one critical
// section so generations observed in the map are strictly increasing.
func (h *Hub) AddContainer(convID string, s Sender) uint64 {
	h.containerMu.Lock()
	defer h.containerMu.Unlock()

	h.nextGen++
	gen := h.nextGen
	h.containers[convID] = containerEntry{sender: s, gen: gen}
	slog.Info("hub: container added", "conversation_id", convID, "generation", gen)
	return gen
}

// RemoveContainer removes unconditionally. REST config changes use this to
// force the next user action through a fresh container start.
func (h *Hub) RemoveContainer(convID string) {
	h.containerMu.Lock()
	defer h.containerMu.Unlock()
	delete(h.containers, convID)
}

// RemoveContainerIfGen removes the entry only if it still holds generation
// gen, and reports whether removal occurred. This is the only safe removal
// path for a container transport observing its own disconnect: a false
// return means a newer container has already replaced it.
func (h *Hub) RemoveContainerIfGen(convID string, gen uint64) bool {
	h.containerMu.Lock()
	defer h.containerMu.Unlock()

	entry, ok := h.containers[convID]
	if !ok || entry.gen != gen {
		return false
	}
	delete(h.containers, convID)
	return true
}

// ContainerGen reports the current generation for a conversation, if any.
func (h *Hub) ContainerGen(convID string) (uint64, bool) {
	h.containerMu.RLock()
	defer h.containerMu.RUnlock()
	entry, ok := h.containers[convID]
	return entry.gen, ok
}

// SendToContainer reports whether a sender existed and was handed the frame.
func (h *Hub) SendToContainer(convID string, data []byte) bool {
	h.containerMu.RLock()
	entry, ok := h.containers[convID]
	h.containerMu.RUnlock()

	if !ok {
		return false
	}
	entry.sender.Send(data)
	return true
}

// SetPendingMessage stashes a serialized client frame to be delivered when
// the starting container reports ready. Set overwrites: two sends racing one
// startup collapse into the latter, which is fine because the earlier send
// was never acknowledged with a response.
func (h *Hub) SetPendingMessage(convID string, frame []byte) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	if _, exists := h.pending[convID]; !exists {
		metrics.PendingMessages.Inc()
	}
	h.pending[convID] = frame
}

// TakePendingMessage removes and returns the stashed frame, if any. Each
// stashed frame is consumed at most once.
func (h *Hub) TakePendingMessage(convID string) ([]byte, bool) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	frame, ok := h.pending[convID]
	if ok {
		delete(h.pending, convID)
		metrics.PendingMessages.Dec()
	}
	return frame, ok
}
