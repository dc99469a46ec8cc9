package cardworker

import "image"

const (
	MockEngineText           = "mock"
	mockDarkThreshold        = 100
	mockHorizontalConfidence = 0.9
	mockVerticalConfidence   = 0.3
)

// MockEngine is a deterministic stand-in for tesseract. It reads every band of
// consecutive rows containing dark pixels as one line of text; a band wider than
// tall reads confidently, anything else (text running sideways) does not.
type MockEngine struct {
}

func (m *MockEngine) Recognize(img image.Image) ([]TextRegion, error) {
	b := img.Bounds()
	var regions []TextRegion
	var line image.Rectangle
	inLine := false

	flush := func() {
		if !inLine {
			return
		}
		conf := mockVerticalConfidence
		if line.Dx() > line.Dy() {
			conf = mockHorizontalConfidence
		}
		regions = append(regions, TextRegion{Text: MockEngineText, Bounds: line, Confidence: conf})
		inLine = false
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		minX, maxX := -1, -1
		for x := b.Min.X; x < b.Max.X; x++ {
			if luma(img.At(x, y)) < mockDarkThreshold {
				if minX < 0 {
					minX = x
				}
				maxX = x
			}
		}
		if minX < 0 {
			flush()
			continue
		}
		row := image.Rect(minX, y, maxX+1, y+1)
		if inLine {
			line = line.Union(row)
		} else {
			line = row
			inLine = true
		}
	}
	flush()

	return regions, nil
}

func (m *MockEngine) Close() error {
	return nil
}
