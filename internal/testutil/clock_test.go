package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_PinnedInstant(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(base)

	// Repeated reads do not drift
	assert.Equal(t, base, clock.Now())
	assert.Equal(t, base, clock.Now())
}

func TestManualClock_NormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local := time.Date(2025, 3, 1, 7, 0, 0, 0, loc)
	clock := NewManualClock(local)

	got := clock.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}

func TestManualClock_Advance(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(base)

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestManualClock_AdvanceNegativePanics(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	assert.Panics(t, func() {
		clock.Advance(-time.Second)
	})
}

func TestManualClock_ConcurrentAdvance(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(base)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, base.Add(time.Second), clock.Now())
}
