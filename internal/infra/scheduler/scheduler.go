package scheduler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on wall-clock cron specs. A job never overlaps
// itself in this process, and the locker keeps replicas from running the
// same job at the same time.
type Scheduler struct {
	cron    *cron.Cron
	locker  adapter.Locker
	lockTTL time.Duration
	log     *zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	names   map[string]struct{}
}

// New builds a scheduler in loc. A nil locker disables the cluster-wide guard.
func New(loc *time.Location, locker adapter.Locker, lockTTL time.Duration, logger *zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	cl := cronLogger{log: &l}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:  locker,
		lockTTL: lockTTL,
		log:     &l,
		ctx:     ctx,
		cancel:  cancel,
		names:   make(map[string]struct{}),
	}
}

// Add registers job under name with a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Run(s.ctx, name, job) }); err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", name, spec, err)
	}
	s.names[name] = struct{}{}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops firing new runs, cancels the ones in flight and waits for them
// up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	s.cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

// Run executes job once under the job lock and records the outcome. It is
// used by cron entries and can be called directly.
func (s *Scheduler) Run(ctx context.Context, name string, job Job) error {
	s.running.Add(1)
	defer s.running.Done()

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	ctx = logging.WithJob(logging.WithRunID(ctx, runID), name)
	log := logging.With(ctx, s.log)
	start := time.Now()

	if s.locker != nil {
		key := "lock:job:" + name
		token, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if errors.Is(err, adapter.ErrLockHeld) {
			log.Info().Msg("job skipped: held by another instance")
			metrics.ObserveJobRun(name, "skipped", time.Since(start))
			return nil
		}
		if err != nil {
			log.Error().Err(err).Msg("job lock unavailable")
			metrics.ObserveJobRun(name, "error", time.Since(start))
			return err
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Msg("job unlock failed")
			}
		}()
	}

	log.Info().Msg("job started")
	err := job(ctx)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("job failed")
		metrics.ObserveJobRun(name, "error", elapsed)
		return err
	}
	log.Info().Dur("duration", elapsed).Msg("job finished")
	metrics.ObserveJobRun(name, "ok", elapsed)
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
