package cardworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
)

// cardImage draws a landscape card: white background with five long dark
// bars standing in for lines of text.
func cardImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 600, 380))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for i := 0; i < 5; i++ {
		y := 60 + i*60
		draw.Draw(img, image.Rect(100, y, 500, y+20), image.Black, image.Point{}, draw.Src)
	}
	return img
}

// tinyCardImage is readable but far below the minimum resolution.
func tinyCardImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(25, 20, 175, 30), image.Black, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(25, 60, 175, 70), image.Black, image.Point{}, draw.Src)
	return img
}

func blankImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func pngBytes(img image.Image) []byte {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// minimalPDF builds a syntactically complete PDF with the given number of empty
// letter sized pages.
func minimalPDF(pages int) []byte {
	var objects []string
	kids := &bytes.Buffer{}
	for i := 0; i < pages; i++ {
		fmt.Fprintf(kids, "%d 0 R ", 4+i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [ %s] /Count %d >>", kids.String(), pages),
		"<< /Length 0 >>\nstream\n\nendstream",
	)
	for i := 0; i < pages; i++ {
		objects = append(objects,
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 3 0 R >>")
	}

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, object := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, object)
	}
	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// stubRasterizer returns a fixed page instead of running pdftoppm.
type stubRasterizer struct {
	page  image.Image
	err   error
	calls int
	dpi   int
}

func (s *stubRasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) (image.Image, error) {
	s.calls++
	s.dpi = dpi
	return s.page, s.err
}

// stubRecognizer returns the same regions for every image.
type stubRecognizer struct {
	regions []TextRegion
	err     error
	calls   int
	closed  bool
}

func (s *stubRecognizer) Recognize(img image.Image) ([]TextRegion, error) {
	s.calls++
	return s.regions, s.err
}

func (s *stubRecognizer) Close() error {
	s.closed = true
	return nil
}

type extractCall struct {
	payload     []byte
	filename    string
	contentType string
}

// stubExtractor records its calls and answers with data or err. With panicMsg
// set it panics instead, simulating a worker dying mid document.
type stubExtractor struct {
	mutex    sync.Mutex
	data     json.RawMessage
	err      error
	panicMsg string
	calls    []extractCall
}

func (s *stubExtractor) Extract(ctx context.Context, payload []byte, filename string, contentType string) (json.RawMessage, error) {
	s.mutex.Lock()
	s.calls = append(s.calls, extractCall{payload: payload, filename: filename, contentType: contentType})
	s.mutex.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.data, s.err
}

func (s *stubExtractor) callCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.calls)
}

func mockFactory() RecognizerFactory {
	return NewRecognizerFactory(EngineConfig{Type: EngineMock})
}
