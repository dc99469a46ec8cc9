package cardworker

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// flattenRGB composes img onto a white canvas anchored at the origin, discarding
// any alpha channel.
func flattenRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// rotateImage rotates img counter-clockwise by a multiple of 90 degrees and
// expands the canvas to fit. Negative angles rotate clockwise.
func rotateImage(img image.Image, angle int) (image.Image, error) {
	quarter := ((angle % 360) + 360) % 360
	if quarter%90 != 0 {
		return nil, errors.Errorf("rotation by %d degrees is not supported", angle)
	}

	src := img
	if src.Bounds().Min != (image.Point{}) {
		src = flattenRGB(img)
	}
	w, h := float64(src.Bounds().Dx()), float64(src.Bounds().Dy())

	var s2d f64.Aff3
	var dstRect image.Rectangle
	switch quarter {
	case 0:
		return src, nil
	case 90:
		s2d = f64.Aff3{0, 1, 0, -1, 0, w}
		dstRect = image.Rect(0, 0, src.Bounds().Dy(), src.Bounds().Dx())
	case 180:
		s2d = f64.Aff3{-1, 0, w, 0, -1, h}
		dstRect = src.Bounds()
	case 270:
		s2d = f64.Aff3{0, -1, h, 1, 0, 0}
		dstRect = image.Rect(0, 0, src.Bounds().Dy(), src.Bounds().Dx())
	}

	dst := image.NewRGBA(dstRect)
	draw.NearestNeighbor.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// scaleLongEdge returns img scaled down so its longer side is at most maxLongEdge.
// Images already small enough are returned unchanged.
func scaleLongEdge(img image.Image, maxLongEdge int, scaler draw.Scaler) image.Image {
	b := img.Bounds()
	long := b.Dx()
	if b.Dy() > long {
		long = b.Dy()
	}
	if maxLongEdge <= 0 || long <= maxLongEdge {
		return img
	}
	ratio := float64(maxLongEdge) / float64(long)
	w := maxInt(1, int(float64(b.Dx())*ratio+0.5))
	h := maxInt(1, int(float64(b.Dy())*ratio+0.5))

	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// toGray converts img to an origin anchored grayscale image.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// cropRGBA copies rect of img into a new origin anchored image.
func cropRGBA(img image.Image, rect image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

func luma(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
