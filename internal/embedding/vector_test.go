package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeProducesUnitLength(t *testing.T) {
	v := Normalize(Vector{3, 4})

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("expected unit length, got squared norm %v", sum)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("direction changed: %v", v)
	}
}

func TestNormalizeLeavesZeroVectorAlone(t *testing.T) {
	v := Normalize(Vector{0, 0, 0})
	for _, x := range v {
		if x != 0 {
			t.Fatalf("zero vector changed: %v", v)
		}
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	original := Vector{3, 4}
	Normalize(original)
	if original[0] != 3 || original[1] != 4 {
		t.Fatalf("input mutated: %v", original)
	}
}

func TestCheckDimension(t *testing.T) {
	if err := CheckDimension(Vector{1, 2, 3}, 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := CheckDimension(Vector{1, 2, 3}, 512)
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
	if dimErr.Expected != 512 || dimErr.Actual != 3 {
		t.Fatalf("unexpected error detail: %+v", dimErr)
	}
}

func TestCosineDistance(t *testing.T) {
	cases := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 0}, Vector{1, 0}, 0},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 1},
		{"opposite", Vector{1, 0}, Vector{-1, 0}, 2},
		{"length mismatch", Vector{1, 0}, Vector{1, 0, 0}, 2},
		{"empty", Vector{}, Vector{}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CosineDistance(tc.a, tc.b); math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
