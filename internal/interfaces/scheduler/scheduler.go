package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/shared/logger"
)

const (
	DefaultPollInterval = 5 * time.Minute
	defaultDueBatch     = 100
	listTimeout         = time.Minute
)

// DueLister returns the connections whose next scheduled sync has passed.
// Satisfied by ledgersync.ConnectionRepository.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*ledgersync.Connection, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	PollInterval time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	RunOnStartup bool
}

// Scheduler polls for due connections and runs their syncs on a worker pool.
// It also accepts ad-hoc syncs through EnqueueSync.
type Scheduler struct {
	workerPool   *WorkerPool
	due          DueLister
	runner       SyncRunner
	pollInterval time.Duration
	runOnStartup bool
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config, due DueLister, runner SyncRunner) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	logger.Log.WithFields(logrus.Fields{
		"poll_interval": cfg.PollInterval,
		"workers":       cfg.WorkerCount,
		"job_delay":     cfg.JobDelay,
	}).Info("Scheduler initialized")

	return &Scheduler{
		workerPool:   NewWorkerPool(cfg.WorkerCount, cfg.JobDelay, cfg.QueueSize),
		due:          due,
		runner:       runner,
		pollInterval: cfg.PollInterval,
		runOnStartup: cfg.RunOnStartup,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker pool and the polling loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.poll()
		}()
	}

	s.wg.Add(1)
	go s.loop()

	logger.Log.Info("Scheduler started")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Log.Debug("Scheduler loop: context cancelled, shutting down")
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll submits a scheduled sync for every due connection and returns how
// many were queued.
func (s *Scheduler) poll() int {
	ctx, cancel := context.WithTimeout(s.ctx, listTimeout)
	defer cancel()

	conns, err := s.due.ListDue(ctx, s.now(), defaultDueBatch)
	if err != nil {
		logger.LogError("Scheduler: failed to list due connections", err)
		return 0
	}
	if len(conns) == 0 {
		logger.Log.Debug("Scheduler: no connections due")
		return 0
	}

	jobs := make([]Job, 0, len(conns))
	for _, conn := range conns {
		jobs = append(jobs, NewConnectionSyncJob(conn, ledgersync.SyncScheduled, s.runner))
	}
	return s.workerPool.SubmitBatch(jobs)
}

// EnqueueSync queues a sync of conn outside the schedule, such as the
// initial sync after authorization.
func (s *Scheduler) EnqueueSync(conn *ledgersync.Connection, syncType ledgersync.SyncType) error {
	return s.workerPool.Submit(NewConnectionSyncJob(conn, syncType, s.runner))
}

// TriggerNow polls immediately in the background.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll()
	}()
}

// Shutdown stops polling and drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	logger.Log.Info("Scheduler: initiating graceful shutdown")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Log.Warn("Scheduler: timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
}
