package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreaker(t *testing.T) {
	b := New("ratelimit")
	assert.Equal(t, "ratelimit", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
	assert.False(t, b.IsOpen())
}

func TestBreakerOpening(t *testing.T) {
	t.Run("opens on the threshold failure", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(3))
		for range 2 {
			useFallback, change := b.RecordFailure()
			assert.False(t, useFallback)
			assert.False(t, change.Opened)
		}
		useFallback, change := b.RecordFailure()
		assert.True(t, useFallback)
		assert.True(t, change.Opened)
		assert.Equal(t, "open", b.State().String())
	})

	t.Run("failures must be consecutive", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("further failures report no transition", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(1))
		b.RecordFailure()
		useFallback, change := b.RecordFailure()
		assert.True(t, useFallback)
		assert.Equal(t, StateChange{}, change)
	})

	t.Run("non-positive thresholds keep the defaults", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(0), WithSuccessThreshold(-1))
		for range 4 {
			b.RecordFailure()
		}
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})
}

func TestBreakerClosing(t *testing.T) {
	t.Run("closes after consecutive successes", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()

		usePrimary, change := b.RecordSuccess()
		assert.False(t, usePrimary)
		assert.False(t, change.Closed)

		usePrimary, change = b.RecordSuccess()
		assert.True(t, usePrimary)
		assert.True(t, change.Closed)
		assert.False(t, b.IsOpen())
	})

	t.Run("a failure while open restarts the count", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordSuccess()
		assert.True(t, b.IsOpen())
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})

	t.Run("reset closes immediately", func(t *testing.T) {
		b := New("redis", WithFailureThreshold(1))
		b.RecordFailure()
		b.Reset()
		assert.Equal(t, StateClosed, b.State())
		usePrimary, _ := b.RecordSuccess()
		assert.True(t, usePrimary)
	})
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("redis", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.True(t, b.IsOpen())
	assert.Equal(t, 1, opened)
}
