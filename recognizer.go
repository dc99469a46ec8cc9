package cardworker

import (
	"encoding/json"
	"image"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TextRegion is one recognized word or line with its bounds in the pixel space
// of the image handed to the recognizer.
type TextRegion struct {
	Text       string          `json:"text"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"`
}

// Recognizer is the heavy, stateful recognition engine. Implementations are not
// safe for concurrent use; each worker owns its own instance.
type Recognizer interface {
	Recognize(img image.Image) ([]TextRegion, error)
	Close() error
}

// RecognizerFactory builds a fresh engine. It is called at most once per worker
// unless the worker had to discard its engine after a crash.
type RecognizerFactory func() (Recognizer, error)

type EngineType int

const (
	EngineTesseract = EngineType(iota)
	EngineMock
)

func (e EngineType) String() string {
	switch e {
	case EngineTesseract:
		return "ENGINE_TESSERACT"
	case EngineMock:
		return "ENGINE_MOCK"
	}
	return ""
}

// ParseEngineType accepts the names used on the command line, eg "tesseract".
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToUpper(s) {
	case "TESSERACT", "ENGINE_TESSERACT":
		return EngineTesseract, nil
	case "MOCK", "ENGINE_MOCK":
		return EngineMock, nil
	}
	return EngineMock, errors.Errorf("unknown engine type %q", s)
}

func (e *EngineType) UnmarshalJSON(b []byte) error {

	var engineTypeStr string

	if err := json.Unmarshal(b, &engineTypeStr); err == nil {
		engineType, err := ParseEngineType(engineTypeStr)
		if err != nil {
			log.Warn().Str("component", "CARD_ENGINE").Str("engineString", engineTypeStr).
				Msg("Unexpected EngineType json")
		}
		*e = engineType
		return nil
	}

	// not a string .. maybe it's an int
	var engineTypeInt int
	if err := json.Unmarshal(b, &engineTypeInt); err != nil {
		return err
	}
	*e = EngineType(engineTypeInt)
	return nil
}

// NewRecognizerFactory returns the factory for the configured engine type.
func NewRecognizerFactory(engineConfig EngineConfig) RecognizerFactory {
	return func() (Recognizer, error) {
		switch engineConfig.Type {
		case EngineTesseract:
			return NewTesseractEngine(engineConfig)
		case EngineMock:
			return &MockEngine{}, nil
		}
		return nil, errors.Errorf("no recognizer for engine type %d", engineConfig.Type)
	}
}
