package vectorindex

import (
	"context"
	"math"
	"testing"

	"github.com/example/faceproof/internal/embedding"
)

func unitVector(angle float64) embedding.Vector {
	return embedding.Vector{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

func TestMemoryIndexQueryNearestPicksClosestEntry(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Upsert(ctx, "far", unitVector(math.Pi/2), Metadata{Name: "Far"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, "near", unitVector(0.1), Metadata{Name: "Near"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	neighbor, found, err := idx.QueryNearest(ctx, unitVector(0))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !found {
		t.Fatal("expected a neighbor")
	}
	if neighbor.ID != "near" {
		t.Fatalf("expected nearest id 'near', got %q", neighbor.ID)
	}
	if neighbor.Meta.Name != "Near" {
		t.Fatalf("expected metadata to round-trip, got %+v", neighbor.Meta)
	}
}

func TestMemoryIndexQueryNearestDistanceOfIdenticalVectorIsZero(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	v := unitVector(0.7)
	if err := idx.Upsert(ctx, "a", v, Metadata{}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	neighbor, found, err := idx.QueryNearest(ctx, v)
	if err != nil || !found {
		t.Fatalf("expected neighbor, got found=%v err=%v", found, err)
	}
	if math.Abs(neighbor.Distance) > 1e-6 {
		t.Fatalf("expected distance ~0 for identical vector, got %v", neighbor.Distance)
	}
}

// TestMemoryIndexReportsCosineDistance pins the distance contract: a probe at
// a known angle from the enrolled vector must come back with exactly the
// cosine distance, since calibration downstream assumes the [0,2] range.
func TestMemoryIndexReportsCosineDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Upsert(ctx, "a", embedding.Vector{1, 0}, Metadata{}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	for _, want := range []float64{0.3, 0.7, 1.2} {
		cos := 1 - want
		probe := embedding.Vector{float32(cos), float32(math.Sqrt(1 - cos*cos))}

		neighbor, found, err := idx.QueryNearest(ctx, probe)
		if err != nil || !found {
			t.Fatalf("distance %v: expected neighbor, got found=%v err=%v", want, found, err)
		}
		if math.Abs(neighbor.Distance-want) > 1e-6 {
			t.Fatalf("expected cosine distance %v, got %v", want, neighbor.Distance)
		}
	}

	opposite := embedding.Vector{-1, 0}
	neighbor, _, err := idx.QueryNearest(ctx, opposite)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if math.Abs(neighbor.Distance-2) > 1e-6 {
		t.Fatalf("expected the cosine maximum of 2, got %v", neighbor.Distance)
	}
}

func TestMemoryIndexEmptyQueryReturnsNotFound(t *testing.T) {
	idx := NewMemoryIndex()

	_, found, err := idx.QueryNearest(context.Background(), unitVector(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no neighbor for empty index")
	}
}

func TestMemoryIndexUpsertReplacesByKey(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Upsert(ctx, "a", unitVector(0), Metadata{Name: "before"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, "a", unitVector(1), Metadata{Name: "after"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected upsert to replace, got %d entries", count)
	}

	neighbor, _, err := idx.QueryNearest(ctx, unitVector(1))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if neighbor.Meta.Name != "after" {
		t.Fatalf("expected replaced metadata, got %+v", neighbor.Meta)
	}
}

func TestMemoryIndexDeleteRemovesEntry(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Upsert(ctx, "a", unitVector(0), Metadata{}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("deleting an absent id should not error: %v", err)
	}

	_, found, err := idx.QueryNearest(context.Background(), unitVector(0))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if found {
		t.Fatal("expected entry to be gone after delete")
	}
}
