package cardworker

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	NormalizedLongEdge = 1600

	stretchLowPercentile  = 0.01
	stretchHighPercentile = 0.99
)

// NormalizeCard prepares a localized card for the quality gate and upload:
// grayscale, contrast stretched between the 1st and 99th luma percentile, and
// downscaled to at most NormalizedLongEdge on the long side.
func NormalizeCard(img image.Image) *image.Gray {
	gray := toGray(img)
	stretchContrast(gray)
	if scaled, ok := scaleLongEdge(gray, NormalizedLongEdge, draw.CatmullRom).(*image.Gray); ok {
		return scaled
	}
	return gray
}

// stretchContrast remaps pixel values in place so the low percentile becomes 0
// and the high percentile 255. Flat images are left untouched.
func stretchContrast(img *image.Gray) {
	var histogram [256]int
	for _, v := range img.Pix {
		histogram[v]++
	}
	total := len(img.Pix)
	if total == 0 {
		return
	}

	lo := percentile(histogram, total, stretchLowPercentile)
	hi := percentile(histogram, total, stretchHighPercentile)
	if hi <= lo {
		return
	}

	var lut [256]uint8
	span := float64(hi - lo)
	for v := 0; v < 256; v++ {
		switch {
		case v <= lo:
			lut[v] = 0
		case v >= hi:
			lut[v] = 255
		default:
			lut[v] = uint8(float64(v-lo)*255/span + 0.5)
		}
	}
	for i, v := range img.Pix {
		img.Pix[i] = lut[v]
	}
}

func percentile(histogram [256]int, total int, p float64) int {
	target := int(p * float64(total))
	seen := 0
	for v, count := range histogram {
		seen += count
		if seen > target {
			return v
		}
	}
	return 255
}
