package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRedeliverer struct {
	mu     sync.Mutex
	calls  int
	limits []int
	err    error
}

func (r *countingRedeliverer) RedeliverPending(ctx context.Context, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.limits = append(r.limits, limit)
	if r.err != nil {
		return 0, r.err
	}
	return 1, nil
}

func (r *countingRedeliverer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type orderWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w *orderWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.log = append(*w.log, "start "+w.name)
	return nil
}

func (w *orderWorker) Stop() error {
	*w.log = append(*w.log, "stop "+w.name)
	return nil
}

func (w *orderWorker) Name() string { return w.name }

func TestRedeliveryWorker_PollsUntilStopped(t *testing.T) {
	r := &countingRedeliverer{}
	w := NewRedeliveryWorker(RedeliveryConfig{Interval: 5 * time.Millisecond, BatchSize: 7}, r, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return r.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	after := r.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, r.Calls())

	delivered, failures, lastErr := w.Stats()
	assert.Equal(t, after, delivered)
	assert.Zero(t, failures)
	assert.NoError(t, lastErr)

	r.mu.Lock()
	assert.Equal(t, 7, r.limits[0])
	r.mu.Unlock()

	assert.NoError(t, w.Stop())
}

func TestRedeliveryWorker_RecordsFailures(t *testing.T) {
	boom := errors.New("outbox unavailable")
	r := &countingRedeliverer{err: boom}
	w := NewRedeliveryWorker(RedeliveryConfig{Interval: 5 * time.Millisecond}, r, nil)

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, failures, _ := w.Stats()
		return failures >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	_, _, lastErr := w.Stats()
	assert.ErrorIs(t, lastErr, boom)
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(&orderWorker{name: "a", log: &log})
	m.Register(&orderWorker{name: "b", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, 2, m.Count())
}

func TestManager_StartFailureStopsStartedWorkers(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(&orderWorker{name: "a", log: &log})
	m.Register(&orderWorker{name: "b", log: &log, startErr: errors.New("boom")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "stop a"}, log)
}
