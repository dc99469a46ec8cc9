package cardworker

import (
	"image"

	"github.com/rs/zerolog/log"
)

const (
	DefaultLocalizerMinConfidence   = 0.5
	DefaultLocalizerMinRegions      = 2
	DefaultLocalizerPadding         = 0.08
	DefaultLocalizerMinAreaFraction = 0.02
)

// LocalizedCard is either a cropped card or the not found marker.
type LocalizedCard struct {
	Image *image.RGBA
	Found bool
}

type CardLocalizer interface {
	Localize(img image.Image, engine Recognizer) LocalizedCard
}

// RegionLocalizer infers the card boundary from the union of confidently read
// text regions. Identity cards are text dense up to their edges, so the padded
// text hull is a close approximation of the card itself.
type RegionLocalizer struct {
	MinConfidence   float64
	MinRegions      int
	Padding         float64
	MinAreaFraction float64
}

func NewRegionLocalizer() RegionLocalizer {
	return RegionLocalizer{
		MinConfidence:   DefaultLocalizerMinConfidence,
		MinRegions:      DefaultLocalizerMinRegions,
		Padding:         DefaultLocalizerPadding,
		MinAreaFraction: DefaultLocalizerMinAreaFraction,
	}
}

func (l RegionLocalizer) Localize(img image.Image, engine Recognizer) LocalizedCard {
	regions, err := engine.Recognize(img)
	if err != nil {
		log.Warn().Err(err).Str("component", "CARD_LOCALIZER").Msg("recognition failed")
		return LocalizedCard{}
	}

	bounds := img.Bounds()
	var hull image.Rectangle
	confident := 0
	for _, region := range regions {
		if region.Confidence < l.MinConfidence {
			continue
		}
		r := region.Bounds.Intersect(bounds)
		if r.Empty() {
			continue
		}
		hull = hull.Union(r)
		confident++
	}

	log.Debug().Str("component", "CARD_LOCALIZER").Int("regions", len(regions)).
		Int("confident", confident).Str("hull", hull.String()).Msg("text hull computed")

	if confident < l.MinRegions {
		return LocalizedCard{}
	}

	padX := int(float64(hull.Dx()) * l.Padding)
	padY := int(float64(hull.Dy()) * l.Padding)
	card := image.Rect(hull.Min.X-padX, hull.Min.Y-padY, hull.Max.X+padX, hull.Max.Y+padY).Intersect(bounds)

	imageArea := float64(bounds.Dx() * bounds.Dy())
	if imageArea == 0 || float64(card.Dx()*card.Dy())/imageArea < l.MinAreaFraction {
		return LocalizedCard{}
	}

	return LocalizedCard{Image: cropRGBA(img, card), Found: true}
}
