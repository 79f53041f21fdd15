package targets

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKey(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		callerID string
		want     string
	}{
		{"caller and tenant", "tenant-a", "mcp-1", "caller:tenant-a:mcp-1"},
		{"caller only", "", "mcp-1", "caller::mcp-1"},
		{"tenant only", "tenant-a", "", "tenant:tenant-a"},
		{"neither", "", "", DefaultSessionKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionKey(tt.tenantID, tt.callerID))
		})
	}

	// The same caller id under two tenants yields two partitions.
	assert.NotEqual(t, SessionKey("A", "x"), SessionKey("B", "x"))
}

func TestStore_SelectionLifecycle(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("tenant:a")
	assert.False(t, ok)

	s.Set("tenant:a", "conn-1")
	s.Set("tenant:b", "conn-2")
	s.Set("caller:a:x", "conn-1")

	got, ok := s.Get("tenant:a")
	require.True(t, ok)
	assert.Equal(t, "conn-1", got)

	s.Set("tenant:a", "conn-3")
	got, _ = s.Get("tenant:a")
	assert.Equal(t, "conn-3", got)

	assert.True(t, s.Clear("tenant:a"))
	assert.False(t, s.Clear("tenant:a"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_ForgetConnection(t *testing.T) {
	s := NewStore()
	s.Set("tenant:a", "conn-1")
	s.Set("caller:a:x", "conn-1")
	s.Set("tenant:b", "conn-2")

	assert.Equal(t, 2, s.ForgetConnection("conn-1"))

	_, ok := s.Get("tenant:a")
	assert.False(t, ok)
	got, ok := s.Get("tenant:b")
	require.True(t, ok)
	assert.Equal(t, "conn-2", got)
}

func TestStore_SetIfLive(t *testing.T) {
	s := NewStore()
	live := map[string]bool{"conn-1": true}
	isLive := func(id string) bool { return live[id] }

	assert.True(t, s.SetIfLive("tenant:a", "conn-1", isLive))
	assert.False(t, s.SetIfLive("tenant:b", "conn-2", isLive))

	got, ok := s.Get("tenant:a")
	require.True(t, ok)
	assert.Equal(t, "conn-1", got)
	_, ok = s.Get("tenant:b")
	assert.False(t, ok)
}

func TestStore_DetachUnregistersAndForgets(t *testing.T) {
	s := NewStore()
	s.Set("tenant:a", "conn-1")
	s.Set("caller:a:x", "conn-1")

	var unregistered string
	n := s.Detach("conn-1", func(id string) bool {
		unregistered = id
		return true
	})

	assert.Equal(t, "conn-1", unregistered)
	assert.Equal(t, 2, n)
	assert.Zero(t, s.Len())
}

func TestStore_NoSelectionOutlivesItsConnection(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	live := make(map[string]bool)
	isLive := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		return live[id]
	}
	unregister := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		ok := live[id]
		delete(live, id)
		return ok
	}

	const rounds = 2000
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := fmt.Sprintf("caller::c%d", w)
			for i := 0; i < rounds; i++ {
				s.SetIfLive(key, fmt.Sprintf("conn-%d", i), isLive)
			}
		}(w)
	}
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("conn-%d", i)
		mu.Lock()
		live[id] = true
		mu.Unlock()
		s.Detach(id, unregister)
	}
	wg.Wait()

	assert.Zero(t, s.Len())
}
