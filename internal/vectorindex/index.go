// Package vectorindex provides nearest-neighbor storage for facial embeddings.
//
// All backends report cosine distance over unit-normalized vectors, in [0,2].
// The calibration layer depends on that range; a backend with a different
// native metric must convert before returning.
package vectorindex

import (
	"context"

	"github.com/example/faceproof/internal/embedding"
)

// Metadata is the minimal denormalized subset stored next to a vector to
// avoid a record-store join on the hot verification path. It is a cache, not
// a source of truth: the record store wins whenever they diverge.
type Metadata struct {
	Name       string
	TrustScore float64
}

// Neighbor is the nearest entry returned by a query.
type Neighbor struct {
	ID       string
	Distance float64
	Meta     Metadata
}

// Index is the vector store contract consumed by the enrollment coordinator
// and the verification engine.
type Index interface {
	// Upsert stores or replaces the vector keyed by identity id.
	Upsert(ctx context.Context, id string, vec embedding.Vector, meta Metadata) error

	// Delete removes the vector keyed by identity id. Deleting an absent id
	// is not an error.
	Delete(ctx context.Context, id string) error

	// QueryNearest returns the single nearest neighbor to vec. The boolean is
	// false when the index holds no entries.
	QueryNearest(ctx context.Context, vec embedding.Vector) (Neighbor, bool, error)

	// Count reports the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
