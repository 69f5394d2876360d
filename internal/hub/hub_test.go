package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Send(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
}

func (r *recorder) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func TestAddClientReplacesPriorSender(t *testing.T) {
	h := New()
	s1 := &recorder{}
	s2 := &recorder{}

	h.AddClient("u1", "c1", s1)
	h.AddClient("u1", "c1", s2)
	h.SendToClient("u1", "c1", []byte("x"))

	assert.Empty(t, s1.received())
	require.Len(t, s2.received(), 1)
	assert.Equal(t, "x", string(s2.received()[0]))
}

func TestSendToClientNoSenderIsSilent(t *testing.T) {
	h := New()
	h.SendToClient("u1", "c1", []byte("x")) // must not panic
}

func TestRemoveClientIdempotent(t *testing.T) {
	h := New()
	s := &recorder{}
	h.AddClient("u1", "c1", s)

	h.RemoveClient("u1", "c1", s)
	h.RemoveClient("u1", "c1", s)

	h.SendToClient("u1", "c1", []byte("x"))
	assert.Empty(t, s.received())
}

func TestRemoveClientIgnoresStaleSender(t *testing.T) {
	h := New()
	old := &recorder{}
	replacement := &recorder{}

	h.AddClient("u1", "c1", old)
	h.AddClient("u1", "c1", replacement)

	// The old tab observes its own close after the new tab took over.
	h.RemoveClient("u1", "c1", old)

	h.SendToClient("u1", "c1", []byte("x"))
	assert.Empty(t, old.received())
	require.Len(t, replacement.received(), 1)
	assert.Equal(t, "x", string(replacement.received()[0]))
}

func TestClientSendersIndependentPerConversation(t *testing.T) {
	h := New()
	s1 := &recorder{}
	s2 := &recorder{}

	h.AddClient("u1", "c1", s1)
	h.AddClient("u1", "c2", s2)
	h.SendToClient("u1", "c2", []byte("only-c2"))

	assert.Empty(t, s1.received())
	assert.Len(t, s2.received(), 1)
}

func TestContainerGenerationsIncrease(t *testing.T) {
	h := New()

	g1 := h.AddContainer("c1", &recorder{})
	g2 := h.AddContainer("c1", &recorder{})
	g3 := h.AddContainer("c2", &recorder{})

	assert.Greater(t, g2, g1)
	assert.Greater(t, g3, g2)
}

func TestRemoveContainerIfGen(t *testing.T) {
	h := New()
	s := &recorder{}

	gen := h.AddContainer("c1", s)
	assert.True(t, h.RemoveContainerIfGen("c1", gen))

	_, ok := h.ContainerGen("c1")
	assert.False(t, ok)

	// Duplicate removal reports false.
	assert.False(t, h.RemoveContainerIfGen("c1", gen))
}

func TestStaleGenerationRemovalIsNoOp(t *testing.T) {
	h := New()
	old := &recorder{}
	replacement := &recorder{}

	g1 := h.AddContainer("c1", old)
	g2 := h.AddContainer("c1", replacement)
	require.Greater(t, g2, g1)

	// The old container's transport observes its own close and tries to
	// clean up; the replacement must survive.
	assert.False(t, h.RemoveContainerIfGen("c1", g1))

	ok := h.SendToContainer("c1", []byte("ping"))
	assert.True(t, ok)
	assert.Empty(t, old.received())
	require.Len(t, replacement.received(), 1)
	assert.Equal(t, "ping", string(replacement.received()[0]))
}

func TestSendToContainerReportsMissing(t *testing.T) {
	h := New()
	assert.False(t, h.SendToContainer("c1", []byte("x")))

	h.AddContainer("c1", &recorder{})
	assert.True(t, h.SendToContainer("c1", []byte("x")))
}

func TestPendingMessageConsumedOnce(t *testing.T) {
	h := New()

	h.SetPendingMessage("c1", []byte("first"))
	h.SetPendingMessage("c1", []byte("second")) // set overwrites

	frame, ok := h.TakePendingMessage("c1")
	require.True(t, ok)
	assert.Equal(t, "second", string(frame))

	_, ok = h.TakePendingMessage("c1")
	assert.False(t, ok)
}
