// Package calibrate turns raw vector index distances into explainable
// similarity scores and decision bands.
package calibrate

import "fmt"

// Band is the qualitative classification of a calibrated similarity score.
// Bands are advisory: the match decision itself is always the explicit
// threshold comparison performed by the verification engine.
type Band string

const (
	BandNone       Band = "none"
	BandAcceptable Band = "acceptable"
	BandGood       Band = "good"
	BandExcellent  Band = "excellent"
)

// maxCosineDistance is the upper bound of cosine distance over unit vectors.
// The similarity mapping below is only valid for that metric; changing the
// index metric requires changing this calibration.
const maxCosineDistance = 2.0

// Thresholds are the strictly increasing similarity cutoffs for the
// acceptable, good and excellent bands.
type Thresholds struct {
	Acceptable float64
	Good       float64
	Excellent  float64
}

// DefaultThresholds mirror the operational defaults of the platform.
var DefaultThresholds = Thresholds{
	Acceptable: 0.65,
	Good:       0.75,
	Excellent:  0.90,
}

// Calibrator maps raw cosine distances to similarity scores in [0,1] and
// classifies them into bands. It is a pure value, safe for concurrent use.
type Calibrator struct {
	thresholds Thresholds
}

// New validates the thresholds and returns a Calibrator.
func New(t Thresholds) (*Calibrator, error) {
	if !(t.Acceptable < t.Good && t.Good < t.Excellent) {
		return nil, fmt.Errorf("calibrate: thresholds must be strictly increasing, got %v < %v < %v",
			t.Acceptable, t.Good, t.Excellent)
	}
	if t.Acceptable < 0 || t.Excellent > 1 {
		return nil, fmt.Errorf("calibrate: thresholds must lie in [0,1]")
	}
	return &Calibrator{thresholds: t}, nil
}

// Calibrate converts a raw cosine distance into a similarity score and band.
// similarity = 1 - distance/2, clamped to [0,1]. Monotonically decreasing in
// the distance.
func (c *Calibrator) Calibrate(rawDistance float64) (float64, Band) {
	similarity := 1 - rawDistance/maxCosineDistance
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 1 {
		similarity = 1
	}
	return similarity, c.band(similarity)
}

func (c *Calibrator) band(similarity float64) Band {
	switch {
	case similarity >= c.thresholds.Excellent:
		return BandExcellent
	case similarity >= c.thresholds.Good:
		return BandGood
	case similarity >= c.thresholds.Acceptable:
		return BandAcceptable
	default:
		return BandNone
	}
}
