package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoop_TicksCallFetch(t *testing.T) {
	var calls int32
	l := New(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	l.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestLoop_StopHaltsFurtherTicks(t *testing.T) {
	var calls int32
	l := New(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	l.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	l.Stop()

	after := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls))
}

func TestLoop_FetchErrorDoesNotStopLoop(t *testing.T) {
	var calls int32
	l := New(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return assertError{}
	}, nil)

	l.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

type assertError struct{}

func (assertError) Error() string { return "synthetic fetch error" }
