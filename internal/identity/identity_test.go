package identity_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordd/coord/internal/identity"
)

func TestNew_Format(t *testing.T) {
	id := identity.New("work")
	parts := strings.SplitN(id, "_", 3)
	require.Len(t, parts, 3, "id %q should be prefix_nanos_suffix", id)
	assert.Equal(t, "work", parts[0])
	assert.NotEmpty(t, parts[1])
	assert.NotEmpty(t, parts[2])
}

// TestNew_ConcurrentUniqueness generates 100,000 IDs from 50 goroutines and
// verifies there are zero duplicates.
func TestNew_ConcurrentUniqueness(t *testing.T) {
	const (
		workers = 50
		perEach = 2000
	)

	results := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]string, 0, perEach)
			for i := 0; i < perEach; i++ {
				ids = append(ids, identity.New("agent"))
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers*perEach)
	for _, ids := range results {
		for _, id := range ids {
			_, dup := seen[id]
			require.False(t, dup, "duplicate id generated: %s", id)
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perEach)
}

func TestNewToken(t *testing.T) {
	a := identity.NewToken(8)
	b := identity.NewToken(8)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
