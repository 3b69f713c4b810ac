package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestDebouncerCoalescesCallers(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	var passes atomic.Int64
	d := NewDebouncer(500*time.Millisecond, clk, func() (interface{}, error) {
		return passes.Inc(), nil
	})

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Call()
			require.NoError(err)
			results[i] = v
		}(i)
	}

	// Let every caller park on the shared batch before firing the timer.
	time.Sleep(50 * time.Millisecond)
	clk.Add(time.Second)
	wg.Wait()

	require.Equal(int64(1), passes.Load())
	for _, r := range results {
		require.Equal(int64(1), r)
	}
}

func TestDebouncerSeparateBatches(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	var passes atomic.Int64
	d := NewDebouncer(500*time.Millisecond, clk, func() (interface{}, error) {
		return passes.Inc(), nil
	})

	first := make(chan interface{}, 1)
	go func() {
		v, _ := d.Call()
		first <- v
	}()
	time.Sleep(50 * time.Millisecond)
	clk.Add(time.Second)
	require.Equal(int64(1), <-first)

	second := make(chan interface{}, 1)
	go func() {
		v, _ := d.Call()
		second <- v
	}()
	time.Sleep(50 * time.Millisecond)
	clk.Add(time.Second)
	require.Equal(int64(2), <-second)

	require.Equal(int64(2), passes.Load())
}
