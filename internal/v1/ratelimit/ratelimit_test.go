package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func newTestLimiter() (*Limiter, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Now())
	return New(clk), clk
}

func TestAllow_CreateLimit(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < CreateLimit; i++ {
		assert.True(t, l.Allow("ip1", ActionCreate), "create %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("ip1", ActionCreate), "6th create should be denied")
}

func TestAllow_IndependentCounters(t *testing.T) {
	l, _ := newTestLimiter()

	// Exhaust creates; joins and messages stay unaffected.
	for i := 0; i < CreateLimit; i++ {
		l.Allow("ip1", ActionCreate)
	}
	assert.False(t, l.Allow("ip1", ActionCreate))
	assert.True(t, l.Allow("ip1", ActionJoin))
	assert.True(t, l.Allow("ip1", ActionMessage))
}

func TestAllow_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < CreateLimit; i++ {
		l.Allow("ip1", ActionCreate)
	}
	assert.False(t, l.Allow("ip1", ActionCreate))
	assert.True(t, l.Allow("ip2", ActionCreate))
}

func TestAllow_WindowReset(t *testing.T) {
	l, clk := newTestLimiter()

	for i := 0; i < CreateLimit; i++ {
		l.Allow("ip1", ActionCreate)
	}
	assert.False(t, l.Allow("ip1", ActionCreate))

	// Not yet expired at exactly the window edge.
	clk.Step(Window)
	assert.False(t, l.Allow("ip1", ActionCreate))

	// Past the window: full reset of all three counters.
	clk.Step(time.Second)
	assert.True(t, l.Allow("ip1", ActionCreate))
}

func TestAllow_JoinAndMessageLimits(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < JoinLimit; i++ {
		assert.True(t, l.Allow("ip1", ActionJoin))
	}
	assert.False(t, l.Allow("ip1", ActionJoin))

	for i := 0; i < MessageLimit; i++ {
		assert.True(t, l.Allow("ip1", ActionMessage))
	}
	assert.False(t, l.Allow("ip1", ActionMessage))
}

func TestAllow_DenialHasNoSideEffect(t *testing.T) {
	l, clk := newTestLimiter()

	for i := 0; i < CreateLimit; i++ {
		l.Allow("ip1", ActionCreate)
	}

	// Hammering a denied action must not extend or reset the window.
	for i := 0; i < 100; i++ {
		assert.False(t, l.Allow("ip1", ActionCreate))
	}

	clk.Step(Window + time.Second)
	assert.True(t, l.Allow("ip1", ActionCreate))
}

func TestSweep(t *testing.T) {
	l, clk := newTestLimiter()

	l.Allow("old", ActionCreate)
	clk.Step(Window + time.Second)
	l.Allow("fresh", ActionCreate)

	assert.Equal(t, 2, l.Len())

	// "old" is now older than 2x window, "fresh" is not.
	clk.Step(Window)
	removed := l.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
}

func TestSweep_Empty(t *testing.T) {
	l, _ := newTestLimiter()
	assert.Zero(t, l.Sweep())
}

func TestAllow_UnknownAction(t *testing.T) {
	l, _ := newTestLimiter()
	assert.False(t, l.Allow("ip1", Action("delete")))
}
