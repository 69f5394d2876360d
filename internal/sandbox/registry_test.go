package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBeginIsExclusive(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Begin("c1", "u1"))
	assert.False(t, r.Begin("c1", "u1"))

	// A second conversation is unaffected.
	assert.True(t, r.Begin("c2", "u1"))
}

func TestRegistryCommitAndLookup(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))

	// In-flight start has no container ID yet.
	_, ok := r.ContainerID("c1")
	assert.False(t, ok)

	assert.True(t, r.Commit("c1", "abc123"))
	id, ok := r.ContainerID("c1")
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestRegistryCommitWithoutSlotIsRejected(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Commit("c1", "abc123"))
	assert.Zero(t, r.Len())
}

func TestRegistryAbortReleasesSlot(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))
	r.Abort("c1")

	assert.True(t, r.Begin("c1", "u1"))
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))
	r.Commit("c1", "abc123")

	id, ok := r.Remove("c1")
	require.True(t, ok)
	assert.Equal(t, "abc123", id)

	_, ok = r.Remove("c1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryRemoveDuringStartDoomsSlot(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))

	// Teardown races the start: nothing to stop yet, and the reservation
	// must not vanish or the committed container would leak unregistered.
	id, ok := r.Remove("c1")
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.False(t, r.Begin("c1", "u1"))

	// The starter learns from Commit that its container is unwanted.
	assert.False(t, r.Commit("c1", "cid-123"))
	_, ok = r.ContainerID("c1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())

	// The slot is free again for the next start.
	assert.True(t, r.Begin("c1", "u1"))
}

func TestRegistryIdle(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))
	r.Commit("c1", "abc123")

	// Fresh entries are not idle under any reasonable threshold.
	assert.Empty(t, r.Idle(time.Minute))

	// A zero threshold flags everything with lastActive in the past.
	time.Sleep(5 * time.Millisecond)
	idle := r.Idle(0)
	require.Len(t, idle, 1)
	assert.Equal(t, "c1", idle[0])

	// Touch defers reaping.
	r.Touch("c1")
	assert.Empty(t, r.Idle(time.Minute))
}

func TestRegistryIdleSkipsInFlightStarts(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))

	time.Sleep(5 * time.Millisecond)
	assert.Empty(t, r.Idle(0))
}

func TestRegistryTouchAbsentIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Touch("ghost")
	assert.Zero(t, r.Len())
}

func TestRegistryListAll(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Begin("c1", "u1"))
	r.Commit("c1", "abc123")
	require.True(t, r.Begin("c2", "u2"))

	infos := r.ListAll()
	require.Len(t, infos, 2)

	byConv := map[string]Info{}
	for _, info := range infos {
		byConv[info.ConversationID] = info
	}
	assert.Equal(t, "abc123", byConv["c1"].ContainerID)
	assert.Equal(t, "u2", byConv["c2"].UserID)
	assert.Empty(t, byConv["c2"].ContainerID)
}

func TestContainerNameDeterministic(t *testing.T) {
	name := containerName("conv_V1StGXR8z5jdHi6BmyT91")
	assert.Equal(t, name, containerName("conv_V1StGXR8z5jdHi6BmyT91"))
	assert.LessOrEqual(t, len(name), len("crucible-")+24)
	assert.Contains(t, name, "crucible-")
}
