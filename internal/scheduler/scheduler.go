// Package scheduler runs the periodic background jobs on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
)

// Job is one cycle of a background loop.
type Job func(ctx context.Context) error

// Scheduler gives every job its own cron entry, so a slow or failing job never delays another.
// A job still running when its next tick arrives skips that tick.
type Scheduler struct {
	cron  *cron.Cron
	log   *zap.Logger
	alert *logger.AdminNotifier

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	immediate []cron.EntryID
	started   bool
	// startRuns tracks the run-on-start goroutines, which cron does not wait for.
	startRuns sync.WaitGroup
}

func New(log *zap.Logger, alert *logger.AdminNotifier) *Scheduler {
	log = logger.Component(log, "scheduler")
	cl := cronLogger{log: log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		alert:  alert,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every runs job at a fixed interval and once right after Start. Each run gets the
// interval as its deadline.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	id, err := s.cron.AddJob("@every "+interval.String(), s.wrap(name, interval, job))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	s.immediate = append(s.immediate, id)
	s.mu.Unlock()
	s.log.Info("job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Cron runs job on a standard five-field cron spec in UTC.
func (s *Scheduler) Cron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.cron.AddJob(spec, s.wrap(name, timeout, job)); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins ticking and kicks off every interval job once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	for _, id := range s.immediate {
		job := s.cron.Entry(id).WrappedJob
		s.startRuns.Add(1)
		go func() {
			defer s.startRuns.Done()
			job.Run()
		}()
	}
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.startRuns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("jobs still running at shutdown")
	}
}

func (s *Scheduler) wrap(name string, timeout time.Duration, job Job) cron.Job {
	log := s.log.With(zap.String("job", name))
	return cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
				s.alert.Notify(fmt.Sprintf("Panic in job %s: %v", name, r))
			}
		}()
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		log.Debug("job done", zap.Duration("duration", time.Since(start)))
	})
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
