package cardworker

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
)

const defaultQueueCapacity = 256

// DocumentRunner runs one document to completion with the engine of the
// calling worker.
type DocumentRunner interface {
	Run(ctx context.Context, doc SubmittedDocument, engines EngineProvider) ExtractionEnvelope
}

type poolJob struct {
	doc    SubmittedDocument
	future *Future
}

// WorkerPool is a fixed set of goroutines, each owning one EngineHolder and
// running one document at a time. Jobs are taken in submission order. Go panics
// are recovered per document; a fault in native engine code is not, and takes
// the whole process down. Run cli-worker processes behind AmqpDispatcher for
// process isolation.
type WorkerPool struct {
	runner DocumentRunner
	jobs   chan poolJob
	group  errgroup.Group
	size   int

	// mutex only guards closed; it is never held while waiting on the queue.
	mutex   deadlock.RWMutex
	closed  bool
	closing chan struct{}
	senders sync.WaitGroup
}

// PoolSize leaves one core to the request handling side and never goes below
// one worker.
func PoolSize(cpus int) int {
	if cpus-1 < 1 {
		return 1
	}
	return cpus - 1
}

// DefaultPoolSize sizes the pool for the current host.
func DefaultPoolSize() int {
	return PoolSize(runtime.NumCPU())
}

// NewWorkerPool starts size workers. Engines are loaded lazily by each worker on
// its first document.
func NewWorkerPool(runner DocumentRunner, factory RecognizerFactory, size int) *WorkerPool {
	return newWorkerPool(runner, factory, size, defaultQueueCapacity)
}

func newWorkerPool(runner DocumentRunner, factory RecognizerFactory, size int, queueCapacity int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	pool := &WorkerPool{
		runner:  runner,
		jobs:    make(chan poolJob, queueCapacity),
		size:    size,
		closing: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		workerID := i
		holder := NewEngineHolder(factory)
		pool.group.Go(func() error {
			return pool.work(workerID, holder)
		})
	}
	log.Info().Str("component", "CARD_POOL").Int("workers", size).Msg("worker pool started")
	return pool
}

// Size reports the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Submit queues doc. A submission still waiting for queue space when Shutdown
// starts fails with ErrDispatcherClosed.
func (p *WorkerPool) Submit(doc SubmittedDocument) *Future {
	p.mutex.RLock()
	if p.closed {
		p.mutex.RUnlock()
		return failedFuture(ErrDispatcherClosed)
	}
	p.senders.Add(1)
	p.mutex.RUnlock()
	defer p.senders.Done()

	future := newFuture()
	poolQueuedJobs.Inc()
	select {
	case p.jobs <- poolJob{doc: doc, future: future}:
		return future
	case <-p.closing:
		poolQueuedJobs.Dec()
		return failedFuture(ErrDispatcherClosed)
	}
}

// Shutdown stops accepting documents, lets the workers drain the queue and
// releases their engines.
func (p *WorkerPool) Shutdown() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mutex.Unlock()

	// no sender can be left mid-send once the queue is closed
	p.senders.Wait()
	close(p.jobs)

	err := p.group.Wait()
	log.Info().Str("component", "CARD_POOL").Msg("worker pool stopped")
	return err
}

func (p *WorkerPool) work(workerID int, holder *EngineHolder) error {
	for job := range p.jobs {
		poolQueuedJobs.Dec()
		poolBusyWorkers.Inc()
		envelope, err := p.process(workerID, holder, job.doc)
		poolBusyWorkers.Dec()
		job.future.resolve(envelope, err)
	}
	if err := holder.Release(); err != nil {
		return errors.Wrapf(err, "worker %d: release engine", workerID)
	}
	return nil
}

// process runs one document and turns a panic into ErrWorkerCrashed. The
// engine may be left inconsistent by the panic, so the worker starts over with
// a fresh one.
func (p *WorkerPool) process(workerID int, holder *EngineHolder, doc SubmittedDocument) (envelope ExtractionEnvelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			poolCrashCounter.Inc()
			log.Error().Str("component", "CARD_POOL").Str("RequestID", doc.RequestID).
				Int("worker", workerID).Int("engine_loads", holder.Loads()).
				Interface("panic", r).Bytes("stack", debug.Stack()).
				Msg("worker crashed")
			holder.Reset()
			envelope = ExtractionEnvelope{}
			err = errors.Wrapf(ErrWorkerCrashed, "worker %d: %v", workerID, r)
		}
	}()

	// The caller's context is not passed on: a document runs to
	// completion even when nobody waits for it any more.
	return p.runner.Run(context.Background(), doc, holder), nil
}
