package cardworker

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

var DefaultCandidateAngles = []int{0, 90, -90}

const (
	DefaultScoringLongEdge = 1100
	DefaultConfidenceFloor = 0.0
)

// ConfidenceSummary condenses the engine output for one candidate angle.
type ConfidenceSummary struct {
	Boxes          int     `json:"boxes"`
	Kept           int     `json:"kept"`
	MeanConfidence float64 `json:"mean_conf"`
	Score          float64 `json:"score"`
}

// RotationOutcome is the result of orientation resolution. ChosenAngle is always
// one of the candidates and PerAngle has one entry per candidate.
type RotationOutcome struct {
	ChosenAngle int
	Image       image.Image
	PerAngle    map[int]ConfidenceSummary
}

// RotationResolver picks the candidate angle under which the engine reads the
// most text with the most confidence.
type RotationResolver struct {
	Angles          []int
	MaxLongEdge     int
	ConfidenceFloor float64
}

func NewRotationResolver() RotationResolver {
	return RotationResolver{
		Angles:          DefaultCandidateAngles,
		MaxLongEdge:     DefaultScoringLongEdge,
		ConfidenceFloor: DefaultConfidenceFloor,
	}
}

// Resolve never fails: a candidate the engine cannot read scores zero, and with
// nothing readable the outcome is angle 0.
func (r RotationResolver) Resolve(img image.Image, engine Recognizer) RotationOutcome {
	angles := r.Angles
	if len(angles) == 0 {
		angles = DefaultCandidateAngles
	}

	perAngle := make(map[int]ConfidenceSummary, len(angles))
	bestIdx := -1
	for i, angle := range angles {
		if _, seen := perAngle[angle]; seen {
			continue
		}
		stats := r.scoreCandidate(img, angle, engine)
		perAngle[angle] = stats
		if bestIdx < 0 || betterCandidate(angle, stats, angles[bestIdx], perAngle[angles[bestIdx]]) {
			bestIdx = i
		}
	}

	chosen := angles[bestIdx]
	rotated, err := rotateImage(img, chosen)
	if err != nil {
		// scoreCandidate already rejected this angle, so it scored zero and
		// can only have won if every candidate failed.
		chosen, rotated = 0, img
		if _, ok := perAngle[0]; !ok {
			perAngle[0] = ConfidenceSummary{}
		}
	}
	return RotationOutcome{ChosenAngle: chosen, Image: rotated, PerAngle: perAngle}
}

func (r RotationResolver) scoreCandidate(img image.Image, angle int, engine Recognizer) ConfidenceSummary {
	rotated, err := rotateImage(img, angle)
	if err != nil {
		log.Warn().Err(err).Str("component", "CARD_ROTATION").Int("angle", angle).Msg("skipping candidate")
		return ConfidenceSummary{}
	}
	scoring := scaleLongEdge(rotated, r.MaxLongEdge, draw.ApproxBiLinear)

	regions, err := engine.Recognize(scoring)
	if err != nil {
		log.Warn().Err(err).Str("component", "CARD_ROTATION").Int("angle", angle).Msg("recognition failed")
		return ConfidenceSummary{}
	}
	return summarizeConfidence(regions, r.ConfidenceFloor)
}

// summarizeConfidence keeps regions above floor; the score grows with their mean
// confidence and, logarithmically, with how many there are.
func summarizeConfidence(regions []TextRegion, floor float64) ConfidenceSummary {
	stats := ConfidenceSummary{Boxes: len(regions)}
	var sum float64
	for _, region := range regions {
		if region.Confidence > floor {
			stats.Kept++
			sum += region.Confidence
		}
	}
	if stats.Kept > 0 {
		stats.MeanConfidence = sum / float64(stats.Kept)
		stats.Score = stats.MeanConfidence * math.Log1p(float64(stats.Kept))
	}
	return stats
}

// betterCandidate orders by score, then prefers angle 0, then the smaller
// magnitude. Equal on all three keeps the earlier candidate.
func betterCandidate(angle int, stats ConfidenceSummary, bestAngle int, best ConfidenceSummary) bool {
	if stats.Score != best.Score {
		return stats.Score > best.Score
	}
	if (angle == 0) != (bestAngle == 0) {
		return angle == 0
	}
	return absInt(angle) < absInt(bestAngle)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
