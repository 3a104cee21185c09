package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/infra/logging"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	unlocked []string
}

func (f *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if _, ok := f.held[key]; ok {
		return "", adapter.ErrLockHeld
	}
	f.held[key] = "tok"
	return "tok", nil
}

func (f *fakeLocker) Unlock(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	f.unlocked = append(f.unlocked, key)
	return nil
}

func newTestScheduler(l adapter.Locker) *Scheduler {
	logger := zerolog.New(io.Discard)
	return New(time.UTC, l, time.Minute, &logger)
}

func TestRun_TakesAndReleasesJobLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}}
	s := newTestScheduler(locker)

	var gotJob string
	err := s.Run(context.Background(), "detect-devices", func(ctx context.Context) error {
		locker.mu.Lock()
		_, held := locker.held["lock:job:detect-devices"]
		locker.mu.Unlock()
		assert.True(t, held, "lock must be held while the job runs")
		assert.Equal(t, "detect-devices", logging.JobFrom(ctx))
		gotJob = "ran"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ran", gotJob)
	assert.Equal(t, []string{"lock:job:detect-devices"}, locker.unlocked)
}

func TestRun_SkipsWhenHeldElsewhere(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{"lock:job:notify": "other"}}
	s := newTestScheduler(locker)

	called := false
	err := s.Run(context.Background(), "notify", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, locker.unlocked)
}

func TestRun_LockBackendErrorFailsRun(t *testing.T) {
	boom := errors.New("redis down")
	s := newTestScheduler(&fakeLocker{held: map[string]string{}, err: boom})

	err := s.Run(context.Background(), "retention", func(context.Context) error {
		t.Fatal("job must not run without its lock")
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_PropagatesJobErrorAndUnlocks(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}}
	s := newTestScheduler(locker)
	boom := errors.New("tracking unavailable")

	err := s.Run(context.Background(), "reconcile", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"lock:job:reconcile"}, locker.unlocked)
}

func TestRun_CarriesRunIDInContext(t *testing.T) {
	s := newTestScheduler(nil)
	var ids []string
	job := func(ctx context.Context) error {
		ids = append(ids, logging.RunIDFrom(ctx))
		return nil
	}
	require.NoError(t, s.Run(context.Background(), "a", job))
	require.NoError(t, s.Run(context.Background(), "a", job))
	require.Len(t, ids, 2)
	assert.Len(t, ids[0], 26)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestAdd_RejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := newTestScheduler(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("detect-users", "0 0 * * *", noop))
	assert.Error(t, s.Add("detect-users", "0 1 * * *", noop))
	assert.Error(t, s.Add("broken", "not a spec", noop))
}

func TestStop_WaitsForRunningJob(t *testing.T) {
	s := newTestScheduler(nil)
	s.Start()

	started := make(chan struct{})
	var finished bool
	go func() {
		_ = s.Run(s.ctx, "slow", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			finished = true
			return ctx.Err()
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, finished)
}
