package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"homeledger/internal/shared/logger"
)

// DefaultJobTimeout bounds a single job execution.
const DefaultJobTimeout = 120 * time.Second

var (
	jobTracer          = otel.Tracer("homeledger/scheduler")
	jobMeter           = otel.Meter("homeledger/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrDuplicate  = errors.New("job already queued or running")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// WorkerPool runs jobs on a fixed number of goroutines fed from a bounded
// queue.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
}

// NewWorkerPool creates a new worker pool with the specified configuration.
// jobDelay is a pause after each job, for rate limiting.
func NewWorkerPool(workerCount int, jobDelay time.Duration, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: max(workerCount, 1),
		jobDelay:    jobDelay,
		jobTimeout:  DefaultJobTimeout,
		jobs:        make(chan Job, max(queueSize, 1)),
		ctx:         ctx,
		cancel:      cancel,
		inFlight:    map[string]struct{}{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	logger.Log.WithFields(logrus.Fields{"workers": wp.workerCount}).Info("Starting worker pool")

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	log := logger.Log.WithFields(logrus.Fields{"worker": id})
	log.Debug("Worker started")

	for {
		select {
		case <-wp.ctx.Done():
			log.Debug("Worker shutting down")
			return

		case job, ok := <-wp.jobs:
			if !ok {
				log.Debug("Job channel closed")
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					log.Debug("Worker shutting down during delay")
					return
				}
			}
		}
	}
}

// processJob executes a single job with error handling, logging, and telemetry.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	defer wp.release(job)

	log := logger.Log.WithFields(logrus.Fields{
		"worker":  workerID,
		"job":     job.Description(),
		"user_id": job.UserID(),
	})
	log.Info("Processing job")

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()

	if err := wp.execute(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		log.WithFields(logrus.Fields{"error": err}).Error("Job failed")
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	log.WithFields(logrus.Fields{"duration": time.Since(start)}).Info("Job completed")
}

// execute keeps a panicking job from taking its worker down.
func (wp *WorkerPool) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

// Submit queues a job without blocking. It returns ErrDuplicate when a job
// with the same key is queued or running and ErrQueueFull when the queue has
// no room.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed || wp.ctx.Err() != nil {
		return ErrPoolClosed
	}
	if _, ok := wp.inFlight[job.Key()]; ok {
		return ErrDuplicate
	}

	select {
	case wp.jobs <- job:
		wp.inFlight[job.Key()] = struct{}{}
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		logger.Log.WithFields(logrus.Fields{"job": job.Description()}).Warn("Job queue full, dropping job")
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, job.Description())
	}
}

// SubmitBatch submits each job and returns how many were queued.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			if !errors.Is(err, ErrDuplicate) {
				logger.Log.WithFields(logrus.Fields{"job": job.Description(), "error": err}).Warn("Failed to submit job")
			}
			continue
		}
		submitted++
	}
	logger.Log.WithFields(logrus.Fields{"submitted": submitted, "total": len(jobs)}).Info("Submitted jobs to worker pool")
	return submitted
}

func (wp *WorkerPool) release(job Job) {
	wp.mu.Lock()
	delete(wp.inFlight, job.Key())
	wp.mu.Unlock()
}

// ShutdownWithTimeout stops accepting jobs and waits for queued work to
// drain. When workers don't finish within the timeout the context is
// cancelled, which aborts running jobs.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	logger.Log.WithFields(logrus.Fields{"timeout": timeout}).Info("Worker pool: initiating graceful shutdown")

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Worker pool: all workers finished gracefully")
	case <-time.After(timeout):
		logger.Log.Warn("Worker pool: timeout reached, forcing shutdown")
	}
	wp.cancel()

	logger.Log.Info("Worker pool: shutdown complete")
}
