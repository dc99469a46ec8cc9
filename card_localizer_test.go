package cardworker

import (
	"image"
	"image/color"
	"testing"

	"github.com/couchbaselabs/go.assert"
	"github.com/pkg/errors"
)

func TestLocalizeCard(t *testing.T) {
	card := NewRegionLocalizer().Localize(cardImage(), &MockEngine{})
	assert.True(t, card.Found)
	// text hull (100,60)-(500,320) padded by 8 percent on each side
	assert.Equals(t, card.Image.Bounds(), image.Rect(0, 0, 464, 300))
	assert.Equals(t, card.Image.RGBAAt(32, 20), color.RGBA{A: 255})
}

func TestLocalizeBlankImage(t *testing.T) {
	card := NewRegionLocalizer().Localize(blankImage(600, 380, color.White), &MockEngine{})
	assert.False(t, card.Found)
	assert.True(t, card.Image == nil)
}

func TestLocalizeNeedsConfidentRegions(t *testing.T) {
	stub := &stubRecognizer{regions: []TextRegion{
		{Bounds: image.Rect(10, 10, 200, 40), Confidence: 0.9},
		{Bounds: image.Rect(10, 60, 200, 90), Confidence: 0.2},
	}}
	card := NewRegionLocalizer().Localize(cardImage(), stub)
	assert.False(t, card.Found)
}

func TestLocalizeRejectsSpecks(t *testing.T) {
	stub := &stubRecognizer{regions: []TextRegion{
		{Bounds: image.Rect(10, 10, 20, 14), Confidence: 0.9},
		{Bounds: image.Rect(10, 16, 20, 20), Confidence: 0.9},
	}}
	card := NewRegionLocalizer().Localize(cardImage(), stub)
	assert.False(t, card.Found)
}

func TestLocalizeClipsToImage(t *testing.T) {
	stub := &stubRecognizer{regions: []TextRegion{
		{Bounds: image.Rect(0, 0, 600, 100), Confidence: 0.9},
		{Bounds: image.Rect(0, 300, 700, 400), Confidence: 0.9},
	}}
	card := NewRegionLocalizer().Localize(cardImage(), stub)
	assert.True(t, card.Found)
	assert.Equals(t, card.Image.Bounds(), image.Rect(0, 0, 600, 380))
}

func TestLocalizeEngineError(t *testing.T) {
	card := NewRegionLocalizer().Localize(cardImage(), &stubRecognizer{err: errors.New("boom")})
	assert.False(t, card.Found)
}
