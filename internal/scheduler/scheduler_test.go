package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/linkkeeper/internal/jobs"
)

type runnerFunc func(ctx context.Context, opts jobs.Options) (jobs.Summary, error)

func (f runnerFunc) Run(ctx context.Context, opts jobs.Options) (jobs.Summary, error) {
	return f(ctx, opts)
}

func noop() runnerFunc {
	return func(context.Context, jobs.Options) (jobs.Summary, error) { return jobs.Summary{}, nil }
}

// fire invokes an entry through the cron chain without waiting for its schedule.
func fire(t *testing.T, s *Scheduler, name string) {
	t.Helper()
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	require.True(t, ok, "entry %s not registered", name)
	s.cron.Entry(id).WrappedJob.Run()
}

func TestAddValidatesEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core))

	require.NoError(t, s.Add(Entry{Name: "sync-externallinks", Job: noop()}))
	require.Equal(t, 1, logs.FilterMessage("job disabled").Len())
	require.Empty(t, s.Entries())

	err := s.Add(Entry{Name: "check-links", Spec: "every tuesday", Job: noop()})
	require.ErrorContains(t, err, "parse check-links schedule")

	require.Error(t, s.Add(Entry{Spec: "* * * * *", Job: noop()}))
	require.Error(t, s.Add(Entry{Name: "x", Spec: "* * * * *"}))

	require.NoError(t, s.Add(Entry{Name: "process-queue", Spec: "*/5 * * * *", Job: noop()}))
	require.ErrorContains(t, s.Add(Entry{Name: "process-queue", Spec: "@hourly", Job: noop()}), "duplicate")
}

func TestEntriesAreSortedWithNextRun(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Add(Entry{Name: "submit-archive", Spec: "0 */6 * * *", Job: noop()}))
	require.NoError(t, s.Add(Entry{Name: "check-links", Spec: "0 */4 * * *", Job: noop()}))
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		entries := s.Entries()
		return len(entries) == 2 && !entries[0].Next.IsZero() && !entries[1].Next.IsZero()
	}, time.Second, 10*time.Millisecond)

	entries := s.Entries()
	require.Equal(t, "check-links", entries[0].Name)
	require.Equal(t, "0 */4 * * *", entries[0].Spec)
	require.Equal(t, "submit-archive", entries[1].Name)
}

func TestTriggerPassesOptions(t *testing.T) {
	t.Parallel()

	var got jobs.Options
	s := New(nil)
	require.NoError(t, s.Add(Entry{
		Name:    "snapshot-critical",
		Spec:    "30 2 * * 0",
		Options: jobs.Options{Limit: 10, Domain: "homeofpoi.com"},
		Job: runnerFunc(func(_ context.Context, opts jobs.Options) (jobs.Summary, error) {
			got = opts
			return jobs.Summary{Job: "snapshot-critical"}, nil
		}),
	}))

	fire(t, s, "snapshot-critical")
	require.Equal(t, jobs.Options{Limit: 10, Domain: "homeofpoi.com"}, got)
}

func TestTriggerLogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core))
	require.NoError(t, s.Add(Entry{Name: "check-links", Spec: "@hourly", Job: runnerFunc(
		func(context.Context, jobs.Options) (jobs.Summary, error) {
			return jobs.Summary{}, errors.New("store down")
		})}))
	require.NoError(t, s.Add(Entry{Name: "submit-archive", Spec: "@hourly", Job: runnerFunc(
		func(context.Context, jobs.Options) (jobs.Summary, error) {
			return jobs.Summary{Unavailable: "archive"}, nil
		})}))

	fire(t, s, "check-links")
	fire(t, s, "submit-archive")

	failed := logs.FilterMessage("scheduled run failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "check-links", failed[0].ContextMap()["job"])
	skipped := logs.FilterMessage("scheduled run skipped").All()
	require.Len(t, skipped, 1)
	require.Equal(t, "archive", skipped[0].ContextMap()["unavailable"])
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(nil)
	require.NoError(t, s.Add(Entry{Name: "check-links", Spec: "@every 1h", Job: runnerFunc(
		func(context.Context, jobs.Options) (jobs.Summary, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return jobs.Summary{}, nil
		})}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fire(t, s, "check-links")
	}()
	<-started

	fire(t, s, "check-links")
	require.EqualValues(t, 1, calls.Load())

	close(release)
	wg.Wait()
	fire(t, s, "check-links")
	require.EqualValues(t, 2, calls.Load())
}

func TestPanicsAreRecovered(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Add(Entry{Name: "remediate-dead", Spec: "@daily", Job: runnerFunc(
		func(context.Context, jobs.Options) (jobs.Summary, error) {
			panic("boom")
		})}))

	require.NotPanics(t, func() { fire(t, s, "remediate-dead") })
}

func TestStopCancelsJobContext(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var sawCancel atomic.Bool
	s := New(nil)
	require.NoError(t, s.Add(Entry{Name: "process-queue", Spec: "@every 1h", Job: runnerFunc(
		func(ctx context.Context, _ jobs.Options) (jobs.Summary, error) {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return jobs.Summary{}, ctx.Err()
		})}))
	s.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fire(t, s, "process-queue")
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	<-done
	require.True(t, sawCancel.Load())
}
