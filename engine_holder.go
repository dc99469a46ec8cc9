package cardworker

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// EngineProvider hands out the engine of the calling worker.
type EngineProvider interface {
	EnsureLoaded() (Recognizer, error)
}

// EngineHolder owns the recognition engine of exactly one worker. The engine is
// created on first use and kept for the lifetime of the worker. There is no
// locking: a worker runs one document at a time and never shares its holder.
type EngineHolder struct {
	factory RecognizerFactory
	engine  Recognizer
	loads   int
}

func NewEngineHolder(factory RecognizerFactory) *EngineHolder {
	return &EngineHolder{factory: factory}
}

// EnsureLoaded returns the worker's engine, loading it on the first call. A failed
// load is not remembered; the next call tries again.
func (h *EngineHolder) EnsureLoaded() (Recognizer, error) {
	if h.engine != nil {
		return h.engine, nil
	}

	start := time.Now()
	engine, err := h.factory()
	if err != nil {
		engineLoadCounter.With(prometheus.Labels{"result": "error"}).Inc()
		return nil, errors.Wrap(err, "load recognition engine")
	}
	h.engine = engine
	h.loads++
	engineLoadCounter.With(prometheus.Labels{"result": "ok"}).Inc()
	log.Info().Str("component", "CARD_ENGINE").Dur("load_time", time.Since(start)).
		Int("loads", h.loads).Msg("recognition engine loaded")
	return h.engine, nil
}

// Loads reports how many times the holder had to build an engine.
func (h *EngineHolder) Loads() int {
	return h.loads
}

// Reset drops the current engine so the next EnsureLoaded builds a fresh one.
// Workers call it after recovering from a crash, since the engine may have been
// left half way through a call.
func (h *EngineHolder) Reset() {
	if h.engine == nil {
		return
	}
	if err := h.engine.Close(); err != nil {
		log.Warn().Err(err).Str("component", "CARD_ENGINE").Msg("closing discarded engine failed")
	}
	h.engine = nil
}

// Release frees the engine when its worker stops.
func (h *EngineHolder) Release() error {
	if h.engine == nil {
		return nil
	}
	err := h.engine.Close()
	h.engine = nil
	return err
}
