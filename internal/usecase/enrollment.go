package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceproof/internal/embedding"
	"github.com/example/faceproof/internal/logging"
	"github.com/example/faceproof/internal/repository"
	"github.com/example/faceproof/internal/vectorindex"
)

// RecordStore defines the identity persistence operations the core needs.
type RecordStore interface {
	Put(ctx context.Context, record *repository.IdentityRecord) error
	Get(ctx context.Context, id string) (*repository.IdentityRecord, error)
	Delete(ctx context.Context, id string) error
}

// EnrollmentCoordinator performs the dual-write across the record store and
// the vector index. The two stores commit independently, so a failed vector
// write is compensated by undoing the record write before control returns to
// the caller; only then does the cross-store invariant hold again.
type EnrollmentCoordinator struct {
	records   RecordStore
	index     vectorindex.Index
	extractor embedding.Extractor
	locks     *keyedMutex
	metrics   *Metrics
	logger    *zap.Logger
	dimension int
}

// NewEnrollmentCoordinator constructs a coordinator for the given stores.
func NewEnrollmentCoordinator(records RecordStore, index vectorindex.Index, extractor embedding.Extractor, metrics *Metrics, logger *zap.Logger, dimension int) *EnrollmentCoordinator {
	return &EnrollmentCoordinator{
		records:   records,
		index:     index,
		extractor: extractor,
		locks:     newKeyedMutex(),
		metrics:   metrics,
		logger:    logger.Named("enrollment_coordinator"),
		dimension: dimension,
	}
}

// Enroll registers a new identity. Every call creates a fresh id; callers
// that retry a failed enrollment therefore never collide with a half-written
// previous attempt.
func (c *EnrollmentCoordinator) Enroll(ctx context.Context, input EnrollmentInput) (*EnrollmentOutcome, error) {
	if err := validateTrustScore(input.TrustScore); err != nil {
		c.metrics.ObserveEnrollment(&EnrollmentOutcome{FailureStage: StageValidation})
		return &EnrollmentOutcome{FailureStage: StageValidation}, err
	}

	id := uuid.NewString()
	opLogger := logging.WithIdentity(c.logger, "enrollment.enroll", id)

	// Extraction is the multi-second step; it runs before the per-id lock.
	vec, err := c.extract(ctx, input.PhotoPath)
	if err != nil {
		outcome := &EnrollmentOutcome{FailureStage: StageExtraction}
		c.metrics.ObserveEnrollment(outcome)
		return outcome, err
	}

	now := time.Now().UTC()
	record := &repository.IdentityRecord{
		ID:         id,
		Attributes: input.Attributes,
		TrustScore: input.TrustScore,
		PhotoPath:  input.PhotoPath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if err := c.records.Put(ctx, record); err != nil {
		// Nothing else was written; no compensation needed.
		outcome := &EnrollmentOutcome{FailureStage: StageRecordWrite}
		c.metrics.ObserveEnrollment(outcome)
		opLogger.Error("record write failed", zap.Error(err))
		return outcome, &StageError{Stage: StageRecordWrite, Err: err}
	}

	if err := c.index.Upsert(ctx, id, vec, metadataFor(input)); err != nil {
		outcome := &EnrollmentOutcome{FailureStage: StageVectorWrite}
		c.metrics.ObserveEnrollment(outcome)
		opLogger.Error("vector write failed, compensating", zap.Error(err))

		// The compensating delete must run even if the caller already gave
		// up, otherwise the half-written identity would outlive this call.
		if delErr := c.records.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			fatal := &InconsistentStateError{IdentityID: id, OrphanStore: "record_store", Err: delErr}
			opLogger.Error("compensation failed, manual reconciliation required",
				zap.String("orphan_store", fatal.OrphanStore), zap.Error(delErr))
			return outcome, fatal
		}

		return outcome, &StageError{Stage: StageVectorWrite, Err: err}
	}

	outcome := &EnrollmentOutcome{Succeeded: true, IdentityID: id}
	c.metrics.ObserveEnrollment(outcome)
	opLogger.Info("identity enrolled", zap.Float64("trust_score", input.TrustScore))
	return outcome, nil
}

// UpdateEnrollment replaces an existing identity's record and vector by key.
// If the vector write fails after the record was overwritten, the record is
// rolled back to its previous snapshot rather than deleted.
func (c *EnrollmentCoordinator) UpdateEnrollment(ctx context.Context, id string, input EnrollmentInput) (*EnrollmentOutcome, error) {
	if err := validateTrustScore(input.TrustScore); err != nil {
		c.metrics.ObserveEnrollment(&EnrollmentOutcome{FailureStage: StageValidation})
		return &EnrollmentOutcome{FailureStage: StageValidation}, err
	}

	opLogger := logging.WithIdentity(c.logger, "enrollment.update", id)

	vec, err := c.extract(ctx, input.PhotoPath)
	if err != nil {
		outcome := &EnrollmentOutcome{FailureStage: StageExtraction}
		c.metrics.ObserveEnrollment(outcome)
		return outcome, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	prev, err := c.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			outcome := &EnrollmentOutcome{FailureStage: StageValidation}
			c.metrics.ObserveEnrollment(outcome)
			return outcome, fmt.Errorf("%w %s", ErrUnknownIdentity, id)
		}
		outcome := &EnrollmentOutcome{FailureStage: StageRecordWrite}
		c.metrics.ObserveEnrollment(outcome)
		return outcome, &StageError{Stage: StageRecordWrite, Err: err}
	}

	record := &repository.IdentityRecord{
		ID:         id,
		Attributes: input.Attributes,
		TrustScore: input.TrustScore,
		PhotoPath:  input.PhotoPath,
		CreatedAt:  prev.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}

	if err := c.records.Put(ctx, record); err != nil {
		outcome := &EnrollmentOutcome{FailureStage: StageRecordWrite}
		c.metrics.ObserveEnrollment(outcome)
		opLogger.Error("record update failed", zap.Error(err))
		return outcome, &StageError{Stage: StageRecordWrite, Err: err}
	}

	if err := c.index.Upsert(ctx, id, vec, metadataFor(input)); err != nil {
		outcome := &EnrollmentOutcome{FailureStage: StageVectorWrite}
		c.metrics.ObserveEnrollment(outcome)
		opLogger.Error("vector update failed, restoring record snapshot", zap.Error(err))

		if restoreErr := c.records.Put(context.WithoutCancel(ctx), prev); restoreErr != nil {
			fatal := &InconsistentStateError{IdentityID: id, OrphanStore: "record_store", Err: restoreErr}
			opLogger.Error("snapshot restore failed, manual reconciliation required", zap.Error(restoreErr))
			return outcome, fatal
		}

		return outcome, &StageError{Stage: StageVectorWrite, Err: err}
	}

	outcome := &EnrollmentOutcome{Succeeded: true, IdentityID: id}
	c.metrics.ObserveEnrollment(outcome)
	opLogger.Info("identity updated", zap.Float64("trust_score", input.TrustScore))
	return outcome, nil
}

func (c *EnrollmentCoordinator) extract(ctx context.Context, photoPath string) (embedding.Vector, error) {
	raw, err := c.extractor.Extract(ctx, photoPath)
	if err != nil {
		return nil, err
	}
	vec := embedding.Normalize(raw)
	if err := embedding.CheckDimension(vec, c.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func validateTrustScore(score float64) error {
	if score < 0 || score > 10 {
		return fmt.Errorf("%w: trust score must be in [0,10], got %v", ErrInvalidInput, score)
	}
	return nil
}

// metadataFor builds the denormalized subset stored next to the vector. It is
// never read back as a source of truth.
func metadataFor(input EnrollmentInput) vectorindex.Metadata {
	return vectorindex.Metadata{
		Name:       input.Attributes["name"],
		TrustScore: input.TrustScore,
	}
}
