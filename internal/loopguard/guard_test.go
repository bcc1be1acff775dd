package loopguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestGuard_CooldownWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(WithClock(clock.Now))

	g.RecordReverseWrite("inc-1")

	clock.Advance(10 * time.Second)
	assert.True(t, g.ShouldSuppressForwardSync("inc-1"))
	assert.False(t, g.ShouldSuppressForwardSync("inc-2"))

	clock.Advance(21 * time.Second)
	assert.False(t, g.ShouldSuppressForwardSync("inc-1"))
	_, ok := g.LastReverseWrite("inc-1")
	assert.False(t, ok, "expired entry should be removed by the check")
}

func TestGuard_RetentionPrune(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(WithClock(clock.Now), WithCooldown(5*time.Second), WithRetention(time.Minute))

	g.RecordReverseWrite("old")
	clock.Advance(2 * time.Minute)
	g.RecordReverseWrite("new")

	assert.Equal(t, 1, g.Len())
	_, ok := g.LastReverseWrite("old")
	assert.False(t, ok)
}

func TestGuard_RetentionNeverShorterThanCooldown(t *testing.T) {
	g := NewGuard(WithCooldown(time.Minute), WithRetention(time.Second))
	assert.Equal(t, time.Minute, g.Cooldown())
	assert.Equal(t, time.Minute, g.retention)
}

func TestLocks_TryAcquire(t *testing.T) {
	l := NewLocks()

	release, ok := l.TryAcquire("inc-1")
	require.True(t, ok)
	assert.True(t, l.Held("inc-1"))

	_, ok = l.TryAcquire("inc-1")
	assert.False(t, ok)

	_, ok = l.TryAcquire("inc-2")
	assert.True(t, ok)

	release()
	release()
	assert.False(t, l.Held("inc-1"))

	release2, ok := l.TryAcquire("inc-1")
	require.True(t, ok)
	release2()
}

func TestLocks_ConcurrentAcquireSingleWinner(t *testing.T) {
	l := NewLocks()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.TryAcquire("same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestNewState(t *testing.T) {
	s := NewState(WithCooldown(10 * time.Second))
	assert.Equal(t, 10*time.Second, s.Guard.Cooldown())
	assert.NotSame(t, s.Forward, s.Reverse)
}
