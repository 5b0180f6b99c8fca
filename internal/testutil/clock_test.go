package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtEpoch(t *testing.T) {
	clock := NewClock(time.Second)
	assert.Equal(t, Epoch, clock.Current())
}

func TestClock_NowAdvancesByStep(t *testing.T) {
	clock := NewClock(time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Current())
}

func TestClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewClock(0)
	clock.Now()
	assert.Equal(t, Epoch, clock.Now())
}

func TestClock_Reset(t *testing.T) {
	clock := NewClock(time.Minute)
	clock.Now()
	clock.Now()
	clock.Reset()
	assert.Equal(t, Epoch, clock.Current())
}

func TestClock_ConcurrentAccess(t *testing.T) {
	clock := NewClock(time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, Epoch.Add(50*time.Millisecond), clock.Current())
}

func TestSequenceIDs(t *testing.T) {
	ids := NewSequenceIDs("")
	assert.Equal(t, "run1", ids.NewRunID())
	assert.Equal(t, "run2", ids.NewRunID())
	assert.Equal(t, "x1", NewSequenceIDs("x").NewRunID())
}
