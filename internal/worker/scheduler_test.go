package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerSchedulerFiresUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	cancel := TickerScheduler{}.Schedule(func() { calls.Add(1) }, 5*time.Millisecond)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestManualSchedulerTicksInRegistrationOrder(t *testing.T) {
	m := NewManualScheduler()
	var order []string
	m.Schedule(func() { order = append(order, "a") }, time.Second)
	m.Schedule(func() { order = append(order, "b") }, time.Second)

	m.Tick(2)
	assert.Equal(t, []string{"a", "b", "a", "b"}, order)
	assert.Equal(t, 2, m.Active())
}

func TestManualSchedulerCancelFromInsideCallback(t *testing.T) {
	m := NewManualScheduler()
	fired := 0
	var cancel func()
	cancel = m.Schedule(func() {
		fired++
		cancel()
	}, time.Second)

	m.Tick(5)
	assert.Equal(t, 1, fired)
	assert.Zero(t, m.Active())
}
