package cardworker

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// RasterDPI renders single page PDFs at print resolution, a 300/72 scale
	// on the native page units.
	RasterDPI = 300

	defaultRasterTimeout = 2 * time.Minute

	// MaxDecodedPixels bounds every raster a document may produce: twice the
	// 89.5 megapixel decompression bomb limit of common imaging libraries.
	MaxDecodedPixels = 2 * 89478485

	pointsPerInch = 72.0
)

var disablePdfcpuConfigDir sync.Once

// DecodedPages holds the rasters of one document, or, for multi page PDFs, the
// original bytes to be forwarded untouched.
type DecodedPages struct {
	Pages     []*image.RGBA
	Forward   []byte
	PageCount int
}

// ForwardAsIs reports whether the document skips the card stages.
func (d DecodedPages) ForwardAsIs() bool {
	return d.Forward != nil
}

// PageRasterizer renders the first page of a PDF.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi int) (image.Image, error)
}

// PdftoppmRasterizer renders through the poppler pdftoppm binary.
type PdftoppmRasterizer struct {
	Binary  string
	Timeout time.Duration
}

func (p PdftoppmRasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) (image.Image, error) {
	tmpFileNameInput, err := createTempFileName("")
	if err != nil {
		return nil, err
	}
	outputPrefix := tmpFileNameInput + "_page"
	tmpFileNameInput += ".pdf"
	defer removeTempFile(tmpFileNameInput)
	defer removeTempFile(outputPrefix + ".png")

	if err := saveBytesToFileName(pdf, tmpFileNameInput); err != nil {
		return nil, err
	}

	binary := p.Binary
	if binary == "" {
		binary = "pdftoppm"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRasterTimeout
	}
	args := []string{"-r", strconv.Itoa(dpi), "-png", "-f", "1", "-l", "1", "-singlefile", tmpFileNameInput, outputPrefix}
	if out, err := runExternalCmd(ctx, binary, args, timeout); err != nil {
		return nil, errors.Wrapf(err, "pdftoppm failed: %s", out)
	}

	resultBytes, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(resultBytes))
}

// Decoder turns raw uploads into rasters.
type Decoder struct {
	rasterizer PageRasterizer
	dpi        int
	maxPixels  int64
	pdfConf    *model.Configuration
}

func NewDecoder(rasterizer PageRasterizer) *Decoder {
	disablePdfcpuConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Decoder{
		rasterizer: rasterizer,
		dpi:        RasterDPI,
		maxPixels:  MaxDecodedPixels,
		pdfConf:    conf,
	}
}

// Decode dispatches on the declared extension. Every codec problem is reported
// as ErrDecodeFailure.
func (d *Decoder) Decode(ctx context.Context, raw []byte, ext string) (DecodedPages, error) {
	sniffed := detectFileType(raw)
	if (ext == ExtensionPDF) != (sniffed == FileTypePDF) {
		log.Debug().Str("component", "CARD_DECODER").Str("declared", ext).Str("sniffed", sniffed).
			Msg("declared extension does not match content")
	}

	if ext == ExtensionPDF {
		return d.decodePDF(ctx, raw)
	}

	// dimensions come from the header alone, before any pixel is allocated
	config, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return DecodedPages{}, errors.Wrapf(ErrDecodeFailure, "decode image header: %v", err)
	}
	if err = d.checkPixels(int64(config.Width), int64(config.Height)); err != nil {
		return DecodedPages{}, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return DecodedPages{}, errors.Wrapf(ErrDecodeFailure, "decode image: %v", err)
	}
	return DecodedPages{Pages: []*image.RGBA{flattenRGB(img)}, PageCount: 1}, nil
}

func (d *Decoder) decodePDF(ctx context.Context, raw []byte) (DecodedPages, error) {
	pageCount, err := api.PageCount(bytes.NewReader(raw), d.pdfConf)
	if err != nil {
		return DecodedPages{}, errors.Wrapf(ErrDecodeFailure, "open pdf: %v", err)
	}
	if pageCount < 1 {
		return DecodedPages{}, errors.Wrap(ErrDecodeFailure, "pdf has no pages")
	}
	if pageCount > 1 {
		return DecodedPages{Forward: raw, PageCount: pageCount}, nil
	}

	dims, err := api.PageDims(bytes.NewReader(raw), d.pdfConf)
	if err != nil || len(dims) == 0 {
		return DecodedPages{}, errors.Wrapf(ErrDecodeFailure, "read pdf page size: %v", err)
	}
	dpi := float64(d.dpi)
	width := int64(math.Ceil(dims[0].Width * dpi / pointsPerInch))
	height := int64(math.Ceil(dims[0].Height * dpi / pointsPerInch))
	if err = d.checkPixels(width, height); err != nil {
		return DecodedPages{}, err
	}

	if d.rasterizer == nil {
		return DecodedPages{}, errors.Wrap(ErrDecodeFailure, "no rasterizer configured")
	}
	img, err := d.rasterizer.Rasterize(ctx, raw, d.dpi)
	if err != nil {
		return DecodedPages{}, errors.Wrapf(ErrDecodeFailure, "rasterize pdf: %v", err)
	}
	return DecodedPages{Pages: []*image.RGBA{flattenRGB(img)}, PageCount: 1}, nil
}

func (d *Decoder) checkPixels(width, height int64) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrDecodeFailure, "empty raster %dx%d", width, height)
	}
	if width > d.maxPixels/height {
		return errors.Wrapf(ErrDecodeFailure, "raster %dx%d exceeds %d pixels", width, height, d.maxPixels)
	}
	return nil
}
