package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 2, QueueSize: 8, TaskTimeout: time.Second}, nil)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{Name: "inc", Fn: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	p.Close()

	assert.Equal(t, int32(5), ran.Load())
	submitted, completed, failed := p.Stats()
	assert.Equal(t, int64(5), submitted)
	assert.Equal(t, int64(5), completed)
	assert.Equal(t, int64(0), failed)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig(), nil)
	p.Close()

	err := p.Submit(Task{Name: "late", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	p := New(Config{Workers: 1, QueueSize: 1, TaskTimeout: time.Second}, nil)
	// Unblock the parked worker before Close waits for it.
	defer p.Close()
	defer close(block)

	// Occupy the single worker, then fill the queue.
	require.NoError(t, p.Submit(Task{Name: "blocker", Fn: func(context.Context) error {
		<-block
		return nil
	}}))

	// Allow the worker to pick up the blocker before filling the queue.
	require.Eventually(t, func() bool {
		return p.Submit(Task{Name: "fill", Fn: func(context.Context) error { return nil }}) == nil
	}, time.Second, time.Millisecond)

	err := p.Submit(Task{Name: "overflow", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1, QueueSize: 1, TaskTimeout: 20 * time.Millisecond}, nil)

	require.NoError(t, p.Submit(Task{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	p.Close()

	_, _, failed := p.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1, QueueSize: 4, TaskTimeout: time.Second}, nil)

	require.NoError(t, p.Submit(Task{Name: "boom", Fn: func(context.Context) error {
		panic("boom")
	}}))
	var ran atomic.Bool
	require.NoError(t, p.Submit(Task{Name: "after", Fn: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))
	p.Close()

	assert.True(t, ran.Load(), "worker should survive a panicking task")
}

func TestWorkerPool_TaskErrorCounted(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1, QueueSize: 4, TaskTimeout: time.Second}, nil)
	require.NoError(t, p.Submit(Task{Name: "fail", Fn: func(context.Context) error {
		return errors.New("nope")
	}}))
	p.Close()

	_, completed, failed := p.Stats()
	assert.Equal(t, int64(0), completed)
	assert.Equal(t, int64(1), failed)
}
