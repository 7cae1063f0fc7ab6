package background_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushrelay-service/internal/background"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGroup_DrainWaitsForTasks(t *testing.T) {
	g := background.NewGroup(newTestLogger())
	var done atomic.Int32

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Go("sleepy", func(ctx context.Context) {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.Drain(ctx))

	assert.Equal(t, int32(5), done.Load())
	assert.Equal(t, int64(0), g.Pending())
}

func TestGroup_RefusesAfterClose(t *testing.T) {
	g := background.NewGroup(newTestLogger())
	g.Close()

	err := g.Go("late", func(ctx context.Context) {})
	assert.ErrorIs(t, err, background.ErrClosed)
}

func TestGroup_DrainDeadlineCancelsTasks(t *testing.T) {
	g := background.NewGroup(newTestLogger())
	cancelled := make(chan struct{})

	require.NoError(t, g.Go("stuck", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestGroup_RecoversPanics(t *testing.T) {
	g := background.NewGroup(newTestLogger())
	var changes atomic.Int32
	g.OnChange = func(int64) { changes.Add(1) }

	require.NoError(t, g.Go("boom", func(ctx context.Context) { panic("boom") }))
	require.NoError(t, g.Drain(context.Background()))

	assert.Equal(t, int64(0), g.Pending())
	assert.Equal(t, int32(2), changes.Load())
}
