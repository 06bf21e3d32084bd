package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/pipeline"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
	err     error
}

func (b *blockingRunner) Run(ctx context.Context) (pipeline.RunState, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return pipeline.RunState{RunID: "run-1", Status: tender.RunCompleted}, b.err
}

func TestTriggerRejectsOverlappingRuns(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{release: make(chan struct{})}
	s, err := New("0 7 * * *", runner, nil)
	require.NoError(t, err)

	require.NoError(t, s.Trigger())
	require.True(t, s.Running())
	require.ErrorIs(t, s.Trigger(), ErrRunInProgress)

	close(runner.release)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, runner.calls.Load())

	runner.release = make(chan struct{})
	close(runner.release)
	require.NoError(t, s.Trigger())
	require.Eventually(t, func() bool { return runner.calls.Load() == 2 && !s.Running() }, time.Second, 5*time.Millisecond)
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{release: make(chan struct{}), err: errors.New("no id")}
	s, err := New("*/5 * * * *", runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Trigger())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopCancel()
	require.Error(t, s.Stop(stopCtx), "the active run is still blocked")

	cancel()
	require.NoError(t, s.Stop(context.Background()))
	require.False(t, s.Running())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New("every morning", &blockingRunner{}, nil)
	require.Error(t, err)
	_, err = New("0 7 * * *", nil, nil)
	require.Error(t, err)
}
