package embedding

import (
	"fmt"
	"math"
)

// Vector is a fixed-length facial embedding. The calibration formula downstream
// is only valid once the vector is unit-normalized, so normalization is checked
// at the boundaries rather than assumed.
type Vector []float32

// DimensionError reports an embedding whose length does not match the
// process-wide configured dimension. It indicates extractor misconfiguration,
// not a bad photo.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged since it has no direction to preserve.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}

	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CheckDimension validates that v has the expected length.
func CheckDimension(v Vector, expected int) error {
	if len(v) != expected {
		return &DimensionError{Expected: expected, Actual: len(v)}
	}
	return nil
}

// CosineDistance computes the cosine distance between two unit vectors.
// Range is [0,2]: 0 means identical direction, 2 means opposite.
func CosineDistance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
