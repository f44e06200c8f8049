// ABOUTME: Tests for the pending-call registry
// ABOUTME: Covers exactly-once resolution and races between resolve and remove

package pending

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentware/device-gateway/internal/protocol"
)

func TestRegistry_ResolveDeliversToWaiter(t *testing.T) {
	reg := NewRegistry(nil)
	ch := reg.Register("cmd-1")

	ok := reg.Resolve(&protocol.CommandResponse{CommandID: "cmd-1", IsSuccess: true})
	assert.True(t, ok)

	resp := <-ch
	assert.Equal(t, "cmd-1", resp.CommandID)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, 0, reg.Len(), "entry removed after resolution")
}

func TestRegistry_ResolveUnknownIDIsNoOp(t *testing.T) {
	reg := NewRegistry(nil)

	ok := reg.Resolve(&protocol.CommandResponse{CommandID: "never-registered"})
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_DuplicateResolveIgnored(t *testing.T) {
	reg := NewRegistry(nil)
	ch := reg.Register("cmd-1")

	require.True(t, reg.Resolve(&protocol.CommandResponse{CommandID: "cmd-1", IsSuccess: true}))
	assert.False(t, reg.Resolve(&protocol.CommandResponse{CommandID: "cmd-1", IsSuccess: false}),
		"second resolution for the same id must be a no-op")

	resp := <-ch
	assert.True(t, resp.IsSuccess, "only the first resolution is honored")
}

func TestRegistry_RemoveIsSafeAfterResolve(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("cmd-1")

	require.True(t, reg.Resolve(&protocol.CommandResponse{CommandID: "cmd-1"}))
	reg.Remove("cmd-1")
	reg.Remove("cmd-1")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RemoveBlocksLaterResolve(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("cmd-1")

	// Timeout path wins the race.
	reg.Remove("cmd-1")
	assert.False(t, reg.Resolve(&protocol.CommandResponse{CommandID: "cmd-1"}))
}

func TestRegistry_ConcurrentCalls(t *testing.T) {
	reg := NewRegistry(nil)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("cmd-%d", i)
			ch := reg.Register(id)
			reg.Resolve(&protocol.CommandResponse{CommandID: id, IsSuccess: true})
			resp := <-ch
			assert.Equal(t, id, resp.CommandID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len(), "no stale entries after all calls resolved")
}
