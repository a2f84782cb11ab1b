package queue

import (
	"context"
	"sync"

	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
)

// Job reasons
const (
	ReasonCreate         = "create"
	ReasonDomainVerified = "domain_verified"
	ReasonRecover        = "recover"
)

// ProvisionJob represents a provisioning run in the queue
type ProvisionJob struct {
	DeploymentID   string
	OrganizationID string
	Reason         string
}

// JobQueue manages the job queue with a bounded channel
type JobQueue struct {
	jobs   chan *ProvisionJob
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *ProvisionJob, bufferSize),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job to the queue without blocking. A full buffer is ErrQueueFull.
func (jq *JobQueue) Enqueue(job *ProvisionJob) error {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	fields := map[string]interface{}{
		"deployment_id": job.DeploymentID,
		"reason":        job.Reason,
	}
	if jq.closed {
		logger.WithFields(fields).Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	}

	select {
	case jq.jobs <- job:
		metrics.QueueDepth.Set(float64(len(jq.jobs)))
		logger.WithFields(fields).Info("Provisioning job enqueued successfully")
		return nil
	default:
		logger.WithFields(fields).Warn("Failed to enqueue job: queue is full")
		return ErrQueueFull
	}
}

// Len returns the number of jobs waiting
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Jobs returns the underlying channel for job consumption
func (jq *JobQueue) Jobs() <-chan *ProvisionJob {
	return jq.jobs
}

// Close closes the queue. Jobs already buffered are still delivered.
func (jq *JobQueue) Close() {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		return
	}
	jq.closed = true
	close(jq.done)
	close(jq.jobs)
}

// Handler runs one job. ctx is cancelled when the pool stops.
type Handler func(ctx context.Context, job *ProvisionJob) error

// WorkerPool manages multiple workers processing jobs
type WorkerPool struct {
	queue   *JobQueue
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *JobQueue, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:   queue,
		workers: numWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start(handler Handler) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i, handler)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int, handler Handler) {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.queue.jobs:
			if !ok {
				logger.WithField("worker", id).Debug("Worker exiting: jobs channel closed")
				return
			}
			if job == nil {
				continue
			}
			metrics.QueueDepth.Set(float64(len(wp.queue.jobs)))

			log := logger.WithFields(map[string]interface{}{
				"worker":        id,
				"deployment_id": job.DeploymentID,
				"reason":        job.Reason,
			})
			log.Info("Worker processing provisioning job")

			if err := handler(wp.ctx, job); err != nil {
				log.WithField("error", err.Error()).Error("Worker failed to process provisioning job")
			} else {
				log.Info("Worker completed provisioning job")
			}
		case <-wp.ctx.Done():
			logger.WithField("worker", id).Debug("Worker exiting: stop signal received")
			return
		}
	}
}

// Stop cancels running jobs and waits for all workers to exit
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
}

// Wait waits for all workers to finish
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
