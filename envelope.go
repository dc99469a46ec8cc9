package cardworker

import (
	"encoding/json"
	"strconv"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const (
	ReasonDecodingFailed   = "decoding failed"
	ReasonCardNotDetected  = "card not detected"
	ReasonExtractionFailed = "extraction failed"
	ReasonProcessingFailed = "processing failed"
	ReasonInvalidFileType  = "Invalid file type. Please upload either one of pdf, jpg, jpeg or png"

	detailCardNotDetected = "Please make sure all edges of the card are visible. " +
		"Retake or re-upload in better quality: good lighting, sharp focus, no shadows or glare."
)

// ExtractionEnvelope is the only externally observable result of a run.
type ExtractionEnvelope struct {
	Status   string               `json:"status"`
	Data     json.RawMessage      `json:"data,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Detail   string               `json:"detail,omitempty"`
	Rotation *RotationDiagnostics `json:"rotation,omitempty"`

	// stage names the terminal pipeline state, used for metrics and logs only.
	stage string
}

// RotationDiagnostics is the JSON form of a RotationOutcome.
type RotationDiagnostics struct {
	BestAngle int                          `json:"best_angle"`
	BestStats ConfidenceSummary            `json:"best_stats"`
	PerAngle  map[string]ConfidenceSummary `json:"per_angle"`
}

// Succeeded reports whether the envelope is a success envelope.
func (e ExtractionEnvelope) Succeeded() bool {
	return e.Status == StatusSuccess
}

func successEnvelope(data json.RawMessage, rotation *RotationDiagnostics) ExtractionEnvelope {
	return ExtractionEnvelope{
		Status:   StatusSuccess,
		Data:     data,
		Rotation: rotation,
		stage:    stageAssembling,
	}
}

func failureEnvelope(stage, reason, detail string, rotation *RotationDiagnostics) ExtractionEnvelope {
	return ExtractionEnvelope{
		Status:   StatusFailure,
		Reason:   reason,
		Detail:   detail,
		Rotation: rotation,
		stage:    stage,
	}
}

// UnhandledFailureEnvelope is the catch-all failure returned whenever a run
// could not produce an envelope of its own, e.g. after a worker crash.
func UnhandledFailureEnvelope(err error) ExtractionEnvelope {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return failureEnvelope(stageUnhandled, ReasonProcessingFailed, detail, nil)
}

// InvalidFileTypeEnvelope is returned by the front end before the pipeline is
// ever invoked.
func InvalidFileTypeEnvelope() ExtractionEnvelope {
	return failureEnvelope(stageRejected, ReasonInvalidFileType, "", nil)
}

// Diagnostics converts the outcome into its JSON form.
func (o RotationOutcome) Diagnostics() *RotationDiagnostics {
	perAngle := make(map[string]ConfidenceSummary, len(o.PerAngle))
	for angle, stats := range o.PerAngle {
		perAngle[strconv.Itoa(angle)] = stats
	}
	return &RotationDiagnostics{
		BestAngle: o.ChosenAngle,
		BestStats: o.PerAngle[o.ChosenAngle],
		PerAngle:  perAngle,
	}
}
