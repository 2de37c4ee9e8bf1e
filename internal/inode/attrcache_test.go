package inode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xoriors/cryptfs/internal/clock"
)

func newTestAttr(size int64) Attr {
	return Attr{Kind: KindFile, Size: size, Mode: 0644, Nlink: 1}
}

func TestAttrCacheGetPrefersDirtyOverRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(1, newTestAttr(0)))

	c := NewAttrCache(reg, clock.RealClock{}, time.Minute, 0)
	defer c.Stop()

	c.Set(1, newTestAttr(100))

	got, err := c.Get(1)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.Size)

	regAttr, err := reg.Get(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, regAttr.Size, "Set must not hit the registry synchronously")
}

func TestAttrCacheFlushCommitsToRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(2, newTestAttr(0)))

	c := NewAttrCache(reg, clock.RealClock{}, time.Minute, 0)
	defer c.Stop()

	c.Set(2, newTestAttr(200))
	require.NoError(t, c.Flush(2))

	regAttr, err := reg.Get(2)
	require.NoError(t, err)
	assert.EqualValues(t, 200, regAttr.Size)
}

// TestAttrCacheWriteBackCommitsAfterDelay drives the cache's write-back
// timer with a SimulatedClock so the commit can be observed deterministically
// instead of racing a real sleep.
func TestAttrCacheWriteBackCommitsAfterDelay(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(3, newTestAttr(0)))

	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c := NewAttrCache(reg, sc, time.Minute, 5*time.Second)
	defer c.Stop()

	c.Set(3, newTestAttr(300))

	regAttr, err := reg.Get(3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, regAttr.Size, "write-back must not have fired yet")

	sc.AdvanceTime(5 * time.Second)

	require.Eventually(t, func() bool {
		regAttr, err := reg.Get(3)
		return err == nil && regAttr.Size == 300
	}, time.Second, time.Millisecond, "write-back timer never committed the dirty entry")
}

// TestAttrCacheWriteBackZeroDisablesTimer confirms a non-positive writeBack
// leaves entries dirty until something explicitly flushes them. The
// FakeClock fires any After call after 1ms, so a timer armed by mistake
// would commit the entry well within the test's sleep.
func TestAttrCacheWriteBackZeroDisablesTimer(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(4, newTestAttr(0)))

	fc := &clock.FakeClock{WaitTime: time.Millisecond}
	c := NewAttrCache(reg, fc, time.Minute, 0)
	defer c.Stop()

	c.Set(4, newTestAttr(400))
	time.Sleep(20 * time.Millisecond)

	regAttr, err := reg.Get(4)
	require.NoError(t, err)
	assert.EqualValues(t, 0, regAttr.Size, "writeBack<=0 must not arm a timer")
}

// TestAttrCacheWriteBackFiresOnFakeClock exercises the armed-timer path
// against FakeClock, which always fires After after its fixed WaitTime
// regardless of the requested duration.
func TestAttrCacheWriteBackFiresOnFakeClock(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(5, newTestAttr(0)))

	fc := &clock.FakeClock{WaitTime: 10 * time.Millisecond}
	c := NewAttrCache(reg, fc, time.Minute, time.Hour)
	defer c.Stop()

	c.Set(5, newTestAttr(500))

	require.Eventually(t, func() bool {
		regAttr, err := reg.Get(5)
		return err == nil && regAttr.Size == 500
	}, time.Second, time.Millisecond, "write-back timer never fired on FakeClock")
}

func TestAttrCacheInvalidateDropsDirtyWithoutWriteBack(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(6, newTestAttr(0)))

	c := NewAttrCache(reg, clock.RealClock{}, time.Minute, time.Millisecond)
	defer c.Stop()

	c.Set(6, newTestAttr(600))
	c.Invalidate(6)

	time.Sleep(20 * time.Millisecond)

	regAttr, err := reg.Get(6)
	require.NoError(t, err)
	assert.EqualValues(t, 0, regAttr.Size, "invalidated entry must not be written back")
}
