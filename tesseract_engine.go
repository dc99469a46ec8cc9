package cardworker

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TesseractEngine wraps one gosseract client. The client keeps the trained data
// loaded between calls, which is what makes reusing it across requests worth it.
type TesseractEngine struct {
	client *gosseract.Client
}

func NewTesseractEngine(engineConfig EngineConfig) (*TesseractEngine, error) {
	defer timeTrack(time.Now(), "engine_load", "tesseract client created", "")

	client := gosseract.NewClient()
	if len(engineConfig.Languages) > 0 {
		if err := client.SetLanguage(engineConfig.Languages...); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "set languages")
		}
	}
	for k, v := range engineConfig.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			_ = client.Close()
			return nil, errors.Wrapf(err, "set variable %s", k)
		}
	}

	log.Info().Str("component", "CARD_TESSERACT").
		Str("version", client.Version()).
		Strs("languages", engineConfig.Languages).
		Msg("tesseract engine ready")

	return &TesseractEngine{client: client}, nil
}

// Recognize returns the word boxes tesseract finds in img.
func (t *TesseractEngine) Recognize(img image.Image) ([]TextRegion, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode image for tesseract")
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, errors.Wrap(err, "set image")
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, errors.Wrap(err, "get bounding boxes")
	}

	regions := make([]TextRegion, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		regions = append(regions, TextRegion{
			Text:       word,
			Bounds:     b.Box,
			Confidence: b.Confidence / 100.0,
		})
	}
	return regions, nil
}

func (t *TesseractEngine) Close() error {
	return t.client.Close()
}
