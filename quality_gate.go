package cardworker

import (
	"image"

	"github.com/rs/zerolog/log"
)

const (
	ReasonLowResolution = "Image resolution is too low. Please upload a larger image of the card."
	ReasonTooDark       = "Image is too dark. Please retake the photo in better lighting."
	ReasonOverexposed   = "Image is overexposed. Please avoid glare and direct light on the card."
	ReasonBlurry        = "Image is blurry. Please retake the photo with the card in sharp focus."
	ReasonNotLegible    = "Text on the card is not legible. Please retake or re-upload in better quality."
)

// QualityVerdict carries a reason if and only if the card failed.
type QualityVerdict struct {
	Passed bool
	Reason string
}

func qualityPassed() QualityVerdict {
	return QualityVerdict{Passed: true}
}

func qualityFailed(reason string) QualityVerdict {
	return QualityVerdict{Reason: reason}
}

type QualityChecker interface {
	Check(card image.Image, engine Recognizer) QualityVerdict
}

// QualityGate applies its checks in order and reports the first failure.
type QualityGate struct {
	MinShortEdge      int
	MinMeanLuma       float64
	MaxMeanLuma       float64
	MinSharpness      float64
	MinWordConfidence float64
	MinLegibleWords   int
	MinMeanConfidence float64
}

func NewQualityGate() QualityGate {
	return QualityGate{
		MinShortEdge:      120,
		MinMeanLuma:       40,
		MaxMeanLuma:       235,
		MinSharpness:      60,
		MinWordConfidence: 0.5,
		MinLegibleWords:   3,
		MinMeanConfidence: 0.6,
	}
}

func (q QualityGate) Check(card image.Image, engine Recognizer) QualityVerdict {
	gray, ok := card.(*image.Gray)
	if !ok || gray.Rect.Min != (image.Point{}) {
		gray = toGray(card)
	}
	w, h := gray.Rect.Dx(), gray.Rect.Dy()

	short := w
	if h < short {
		short = h
	}
	if short < q.MinShortEdge {
		return qualityFailed(ReasonLowResolution)
	}

	brightness := meanLuma(gray)
	if brightness < q.MinMeanLuma {
		return qualityFailed(ReasonTooDark)
	}
	if brightness > q.MaxMeanLuma {
		return qualityFailed(ReasonOverexposed)
	}

	sharpness := laplacianVariance(gray)
	log.Debug().Str("component", "CARD_QUALITY").Float64("brightness", brightness).
		Float64("sharpness", sharpness).Msg("image statistics")
	if sharpness < q.MinSharpness {
		return qualityFailed(ReasonBlurry)
	}

	regions, err := engine.Recognize(gray)
	if err != nil {
		log.Warn().Err(err).Str("component", "CARD_QUALITY").Msg("recognition failed")
		return qualityFailed(ReasonNotLegible)
	}
	var words int
	var sum float64
	for _, region := range regions {
		if region.Confidence >= q.MinWordConfidence {
			words++
			sum += region.Confidence
		}
	}
	if words == 0 || words < q.MinLegibleWords || sum/float64(words) < q.MinMeanConfidence {
		return qualityFailed(ReasonNotLegible)
	}

	return qualityPassed()
}

func meanLuma(img *image.Gray) float64 {
	if len(img.Pix) == 0 {
		return 0
	}
	var sum int
	for _, v := range img.Pix {
		sum += int(v)
	}
	return float64(sum) / float64(len(img.Pix))
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels; sharp edges give large responses, blur flattens them.
func laplacianVariance(img *image.Gray) float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(img.Pix[y*img.Stride+x])
	}

	var sum, sumSq float64
	n := float64((w - 2) * (h - 2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sumSq += l * l
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
