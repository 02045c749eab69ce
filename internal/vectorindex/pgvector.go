package vectorindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/example/faceproof/internal/embedding"
)

// PgVectorIndex stores embeddings in a pgvector column on the same Postgres
// instance as the record store. The `<=>` operator reports cosine distance
// directly, so no conversion is applied.
type PgVectorIndex struct {
	db        *gorm.DB
	dimension int
}

// NewPgVectorIndex ensures the pgvector schema exists and returns the index.
func NewPgVectorIndex(db *gorm.DB, dimension int) (*PgVectorIndex, error) {
	idx := &PgVectorIndex{db: db, dimension: dimension}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("vectorindex: pgvector migrate: %w", err)
	}
	return idx, nil
}

func (p *PgVectorIndex) migrate() error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS face_embeddings (
			identity_id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			trust_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS idx_face_embeddings_embedding
			ON face_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, m := range migrations {
		if err := p.db.Exec(m).Error; err != nil {
			return err
		}
	}
	return nil
}

// Upsert stores or replaces the vector keyed by identity id.
func (p *PgVectorIndex) Upsert(ctx context.Context, id string, vec embedding.Vector, meta Metadata) error {
	return p.db.WithContext(ctx).Exec(`
		INSERT INTO face_embeddings (identity_id, embedding, name, trust_score, updated_at)
		VALUES (?, ?, ?, ?, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			name = EXCLUDED.name,
			trust_score = EXCLUDED.trust_score,
			updated_at = NOW()
	`, id, formatVector(vec), meta.Name, meta.TrustScore).Error
}

// Delete removes the vector keyed by identity id.
func (p *PgVectorIndex) Delete(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Exec(`DELETE FROM face_embeddings WHERE identity_id = ?`, id).Error
}

// QueryNearest returns the single nearest neighbor by cosine distance.
func (p *PgVectorIndex) QueryNearest(ctx context.Context, vec embedding.Vector) (Neighbor, bool, error) {
	query := formatVector(vec)
	row := p.db.WithContext(ctx).Raw(`
		SELECT identity_id, name, trust_score, embedding <=> ? AS distance
		FROM face_embeddings
		ORDER BY embedding <=> ?
		LIMIT 1
	`, query, query).Row()

	var n Neighbor
	if err := row.Scan(&n.ID, &n.Meta.Name, &n.Meta.TrustScore, &n.Distance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Neighbor{}, false, nil
		}
		return Neighbor{}, false, fmt.Errorf("vectorindex: pgvector query: %w", err)
	}
	return n, true, nil
}

// Count reports the number of stored vectors.
func (p *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var count int64
	if err := p.db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM face_embeddings`).Scan(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Close is a no-op; the shared gorm connection is owned by the caller.
func (p *PgVectorIndex) Close() error {
	return nil
}

// formatVector renders a vector in pgvector's text format: "[0.1,0.2,...]".
func formatVector(vec embedding.Vector) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
