package cardworker

import (
	"context"
	"sync"
)

// Dispatcher hands documents to workers. Submit never runs the pipeline on the
// calling goroutine.
type Dispatcher interface {
	Submit(doc SubmittedDocument) *Future
}

// Future is the pending result of one submitted document.
type Future struct {
	done     chan struct{}
	once     sync.Once
	envelope ExtractionEnvelope
	err      error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// failedFuture returns an already resolved future carrying err.
func failedFuture(err error) *Future {
	f := newFuture()
	f.resolve(ExtractionEnvelope{}, err)
	return f
}

// resolve completes the future. Only the first call has an effect.
func (f *Future) resolve(envelope ExtractionEnvelope, err error) {
	f.once.Do(func() {
		f.envelope = envelope
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the worker is done or ctx ends. Giving up does not stop the
// worker; its result is discarded.
func (f *Future) Wait(ctx context.Context) (ExtractionEnvelope, error) {
	select {
	case <-f.done:
		return f.envelope, f.err
	case <-ctx.Done():
		return ExtractionEnvelope{}, ctx.Err()
	}
}

// resolved is closed once the future is resolved.
func (f *Future) resolved() <-chan struct{} {
	return f.done
}

// ProcessDocument is the single inbound operation: it submits the upload and
// turns any execution error into the catch-all failure envelope, so callers
// always get a structured answer.
func ProcessDocument(ctx context.Context, d Dispatcher, raw []byte, filename string) ExtractionEnvelope {
	doc := NewSubmittedDocument(raw, filename)
	envelope, err := d.Submit(doc).Wait(ctx)
	if err != nil {
		pipelineOutcomes.WithLabelValues(StatusFailure, stageUnhandled).Inc()
		return UnhandledFailureEnvelope(err)
	}
	return envelope
}
