package reads

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSource_Sequential(t *testing.T) {
	t.Parallel()

	ids := NewIDSource(10)
	a, err := New(ids, []byte("a"), []byte("A"))
	require.NoError(t, err)
	b, err := NewWithQuality(ids, []byte("b"), []byte("C"), []byte("I"))
	require.NoError(t, err)

	assert.Equal(t, uint64(10), a.ID())
	assert.Equal(t, uint64(11), b.ID())
	assert.Equal(t, uint64(12), ids.Peek())
}

func TestIDSource_FailedConstructionDoesNotConsume(t *testing.T) {
	t.Parallel()

	var ids IDSource
	_, err := New(&ids, nil, []byte("N"))
	require.Error(t, err)
	assert.Equal(t, uint64(0), ids.Peek())
}

func TestIDSource_Nil(t *testing.T) {
	t.Parallel()

	var ids *IDSource
	assert.Equal(t, uint64(0), ids.Next())
	assert.Equal(t, uint64(0), ids.Peek())
}

func TestIDSource_Concurrent(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 8, 1000
	var ids IDSource
	seen := make([][]uint64, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				seen[w] = append(seen[w], ids.Next())
			}
		}()
	}
	wg.Wait()

	unique := make(map[uint64]struct{}, workers*perWorker)
	for _, s := range seen {
		for _, id := range s {
			unique[id] = struct{}{}
		}
	}
	assert.Len(t, unique, workers*perWorker)
	assert.Equal(t, uint64(workers*perWorker), ids.Peek())
}
