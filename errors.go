package cardworker

import (
	"strconv"

	"github.com/pkg/errors"
)

// Failure kinds of a pipeline run. Stages wrap these so the orchestrator can map
// them to envelopes with errors.Is.
var (
	ErrDecodeFailure    = errors.New("document could not be decoded")
	ErrCardNotDetected  = errors.New("card not detected")
	ErrQualityRejected  = errors.New("card rejected by quality gate")
	ErrExtractionFailed = errors.New("extraction service call failed")
)

// Failures of the execution layer.
var (
	ErrWorkerCrashed    = errors.New("worker crashed while processing the document")
	ErrDispatcherClosed = errors.New("dispatcher is shut down")
	ErrResponseTimeout  = errors.New("timeout waiting for worker response")
)

// ExtractionError carries the upstream status and the best effort decoded body
// of a failed extraction call. StatusCode is zero for transport errors and timeouts.
type ExtractionError struct {
	StatusCode int
	Detail     string
}

func (e *ExtractionError) Error() string {
	if e.StatusCode != 0 {
		return "extractor error " + strconv.Itoa(e.StatusCode) + ": " + e.Detail
	}
	return "extractor error: " + e.Detail
}

func (e *ExtractionError) Unwrap() error {
	return ErrExtractionFailed
}
