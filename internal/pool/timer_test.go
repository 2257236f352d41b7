package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(time.Second)
		assert.NotNil(timer1)
		PutTimer(timer1)

		timer2 := GetTimer(10 * time.Millisecond)
		assert.NotNil(timer2)

		select {
		case <-timer2.C:
		case <-time.After(time.Second):
			t.Fatal("reused timer did not fire")
		}
		PutTimer(timer2)
	})

	t.Run("Put Fired Timer", func(t *testing.T) {
		timer := GetTimer(time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		PutTimer(timer)

		timer = GetTimer(200 * time.Millisecond)
		select {
		case <-timer.C:
			t.Fatal("stale expiry leaked into a reused timer")
		case <-time.After(50 * time.Millisecond):
		}
		PutTimer(timer)
	})
}

func TestSleep(t *testing.T) {
	require := require.New(t)

	start := time.Now()
	require.NoError(Sleep(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start = time.Now()
	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Less(time.Since(start), time.Second)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	require.ErrorIs(Sleep(canceled, 0), context.Canceled)
}

func TestBackoff(t *testing.T) {
	assert := assert.New(t)

	b := &Backoff{}
	assert.Equal(50*time.Millisecond, b.Next())
	assert.Equal(100*time.Millisecond, b.Next())
	assert.Equal(200*time.Millisecond, b.Next())
	assert.Equal(400*time.Millisecond, b.Next())
	assert.Equal(800*time.Millisecond, b.Next())
	assert.Equal(time.Second, b.Next())
	assert.Equal(time.Second, b.Next())

	b.Reset()
	assert.Equal(50*time.Millisecond, b.Next())

	custom := &Backoff{Initial: 10 * time.Millisecond, Max: 25 * time.Millisecond, Factor: 3}
	assert.Equal(10*time.Millisecond, custom.Next())
	assert.Equal(25*time.Millisecond, custom.Next())
	assert.Equal(25*time.Millisecond, custom.Next())
}
