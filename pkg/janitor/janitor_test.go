package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

var epoch = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func TestJanitor_RunsOnSchedule(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	j := New(WithClock(clock))

	ran := make(chan time.Time, 4)
	require.NoError(t, j.AddJob("retention", "@every 1h", func(ctx context.Context) (int, error) {
		ran <- clock.Now()
		return 3, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, j.Start(ctx))
	defer j.Stop()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(59 * time.Minute)
	select {
	case <-ran:
		t.Fatal("job ran before its schedule")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Minute)
	select {
	case at := <-ran:
		assert.Equal(t, epoch.Add(time.Hour), at)
	case <-ctx.Done():
		t.Fatal("job did not run")
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	select {
	case at := <-ran:
		assert.Equal(t, epoch.Add(2*time.Hour), at)
	case <-ctx.Done():
		t.Fatal("job did not run twice")
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	status := j.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 2, status[0].Runs)
	assert.Equal(t, 3, status[0].LastCount)
	assert.Equal(t, epoch.Add(3*time.Hour), status[0].NextRun)
}

func TestJanitor_StopEndsLoops(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	j := New(WithClock(clock))
	require.NoError(t, j.AddJob("graph", "@hourly", func(ctx context.Context) (int, error) { return 0, nil }))

	ctx := context.Background()
	require.NoError(t, j.Start(ctx))
	assert.NoError(t, j.Healthy(ctx))
	assert.ErrorIs(t, j.Start(ctx), ErrAlreadyRunning)

	j.Stop()
	assert.ErrorIs(t, j.Healthy(ctx), ErrNotRunning)
	j.Stop()
}

func TestJanitor_AddJobValidation(t *testing.T) {
	j := New()
	assert.ErrorIs(t, j.AddJob("bad", "every now and then", nil), ErrInvalidSchedule)

	noop := func(ctx context.Context) (int, error) { return 0, nil }
	require.NoError(t, j.AddJob("retention", "0 * * * *", noop))
	assert.ErrorIs(t, j.AddJob("retention", "@hourly", noop), ErrDuplicateJob)

	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()
	assert.ErrorIs(t, j.AddJob("late", "@hourly", noop), ErrAlreadyRunning)
}

func TestJanitor_RunNow(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	j := New(WithClock(clockwork.NewFakeClockAt(epoch)), WithMetrics(metrics))

	require.NoError(t, j.AddJob("ok", "@hourly", func(ctx context.Context) (int, error) { return 5, nil }))
	require.NoError(t, j.AddJob("fails", "@hourly", func(ctx context.Context) (int, error) { return 0, errors.New("boom") }))
	require.NoError(t, j.AddJob("panics", "@hourly", func(ctx context.Context) (int, error) { panic("bug") }))

	n, err := j.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = j.RunNow(context.Background(), "fails")
	assert.EqualError(t, err, "boom")

	_, err = j.RunNow(context.Background(), "panics")
	assert.EqualError(t, err, "panic: bug")

	_, err = j.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JanitorRunsTotal.WithLabelValues("ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JanitorRunsTotal.WithLabelValues("panics", "error")))

	status := j.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "fails", status[0].Name)
	assert.Equal(t, "boom", status[0].LastError)
}

func TestJanitor_StatusDuringRun(t *testing.T) {
	j := New(WithClock(clockwork.NewFakeClockAt(epoch)))
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, j.AddJob("slow", "@hourly", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 7, nil
	}))

	done := make(chan int)
	go func() {
		n, _ := j.RunNow(context.Background(), "slow")
		done <- n
	}()
	<-started

	statusCh := make(chan []JobStatus)
	go func() { statusCh <- j.Status() }()
	select {
	case status := <-statusCh:
		require.Len(t, status, 1)
		assert.Equal(t, 0, status[0].Runs)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a running job")
	}

	close(release)
	assert.Equal(t, 7, <-done)
	status := j.Status()
	assert.Equal(t, 1, status[0].Runs)
	assert.Equal(t, 7, status[0].LastCount)
}
