package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion_ResolveOnce(t *testing.T) {
	var calls []FetchResult
	c := NewCompletion(func(r FetchResult) { calls = append(calls, r) })

	assert.True(t, c.Resolve(FetchNewData))
	assert.False(t, c.Resolve(FetchFailed))
	assert.False(t, c.Resolve(FetchNewData))

	require.Len(t, calls, 1)
	assert.Equal(t, FetchNewData, calls[0])
}

func TestCompletion_DoneCarriesResult(t *testing.T) {
	c := NewCompletion(nil) // nil callback must be safe
	c.Resolve(FetchNoData)

	select {
	case got := <-c.Done():
		assert.Equal(t, FetchNoData, got)
	default:
		t.Fatal("expected Done to carry the resolved result")
	}
}

func TestCompletion_ConcurrentResolvers(t *testing.T) {
	count := 0
	c := NewCompletion(func(FetchResult) { count++ })

	var wg sync.WaitGroup
	fired := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fired <- c.Resolve(FetchResult(i % 3))
		}(i)
	}
	wg.Wait()
	close(fired)

	winners := 0
	for f := range fired {
		if f {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, count)
}

func TestFetchResult_String(t *testing.T) {
	assert.Equal(t, "new_data", FetchNewData.String())
	assert.Equal(t, "no_data", FetchNoData.String())
	assert.Equal(t, "failed", FetchFailed.String())
	assert.Equal(t, "unknown", FetchResult(42).String())
}
