package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendOverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST survive")

	stats := rc.Stats()
	assert.Equal(t, int64(10), stats.Written)
	assert.Equal(t, int64(7), stats.Overwritten)
	assert.Zero(t, stats.Processed, "reads through C() MUST NOT be counted")
}

func TestSendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestTrySend(t *testing.T) {
	rc := New[int](2)

	assert.True(t, rc.TrySend(1))
	assert.True(t, rc.TrySend(2))
	assert.False(t, rc.TrySend(3), "TrySend MUST refuse when full")
	assert.Equal(t, 2, rc.Len())
	assert.Equal(t, 2, rc.Cap())

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	stats := rc.Stats()
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestClose(t *testing.T) {
	rc := New[int](4)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send(2), "send after close MUST be discarded")
	assert.False(t, rc.TrySend(3))

	v, ok := rc.Receive()
	require.True(t, ok, "pending values MUST remain readable after close")
	assert.Equal(t, 1, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
	_, ok = rc.TryReceive()
	assert.False(t, ok)
	assert.Equal(t, int64(2), rc.Stats().Rejected)
}

func TestConcurrentProducers(t *testing.T) {
	// GOAL: Verify producers never block each other or deadlock on a full buffer
	rc := New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	stats := rc.Stats()
	assert.Equal(t, int64(4000), stats.Written)
	assert.Equal(t, int64(4000-8), stats.Overwritten)
	assert.Equal(t, 8, rc.Len())
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
