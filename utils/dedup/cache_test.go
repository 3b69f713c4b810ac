package dedup

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countingResolver struct {
	calls atomic.Int64
	err   error
}

func (r *countingResolver) Resolve(key interface{}) (interface{}, error) {
	n := r.calls.Inc()
	if r.err != nil {
		return nil, r.err
	}
	return n, nil
}

func TestCacheCollapsesConcurrentLookups(t *testing.T) {
	require := require.New(t)

	r := &countingResolver{}
	c := NewCache(CacheConfig{}, clock.NewMock(), r)

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get("k")
			require.NoError(err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(int64(1), r.calls.Load())
	for _, v := range results {
		require.Equal(int64(1), v)
	}
}

func TestCacheReresolvesAfterTTL(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	r := &countingResolver{}
	c := NewCache(CacheConfig{TTL: time.Minute}, clk, r)

	v, err := c.Get("k")
	require.NoError(err)
	require.Equal(int64(1), v)

	v, err = c.Get("k")
	require.NoError(err)
	require.Equal(int64(1), v)

	clk.Add(2 * time.Minute)

	v, err = c.Get("k")
	require.NoError(err)
	require.Equal(int64(2), v)
}

func TestCacheErrorsExpireFaster(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	r := &countingResolver{err: errors.New("resolve failed")}
	c := NewCache(CacheConfig{TTL: time.Hour, ErrorTTL: time.Second}, clk, r)

	_, err := c.Get("k")
	require.Error(err)
	_, err = c.Get("k")
	require.Error(err)
	require.Equal(int64(1), r.calls.Load())

	clk.Add(2 * time.Second)
	r.err = nil

	v, err := c.Get("k")
	require.NoError(err)
	require.Equal(int64(2), v)
}
