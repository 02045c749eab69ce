package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceproof/internal/calibrate"
	"github.com/example/faceproof/internal/embedding"
	"github.com/example/faceproof/internal/logging"
	"github.com/example/faceproof/internal/repository"
	"github.com/example/faceproof/internal/vectorindex"
)

// VerificationEngine answers "is this face enrolled?". It performs no
// mutation, so any number of verifications may run concurrently against the
// same stores.
type VerificationEngine struct {
	records          RecordStore
	index            vectorindex.Index
	extractor        embedding.Extractor
	calibrator       *calibrate.Calibrator
	metrics          *Metrics
	logger           *zap.Logger
	dimension        int
	defaultThreshold float64
}

// NewVerificationEngine constructs an engine for the given stores.
func NewVerificationEngine(records RecordStore, index vectorindex.Index, extractor embedding.Extractor, calibrator *calibrate.Calibrator, metrics *Metrics, logger *zap.Logger, dimension int, defaultThreshold float64) *VerificationEngine {
	return &VerificationEngine{
		records:          records,
		index:            index,
		extractor:        extractor,
		calibrator:       calibrator,
		metrics:          metrics,
		logger:           logger.Named("verification_engine"),
		dimension:        dimension,
		defaultThreshold: defaultThreshold,
	}
}

// Verify extracts an embedding from the probe photo, finds its nearest
// enrolled neighbor, calibrates the distance, and decides matched against the
// threshold. A threshold <= 0 selects the configured default. Probe-level
// extraction failures (blurry photo, no face) surface as typed errors the
// caller can report as normal negative outcomes.
func (e *VerificationEngine) Verify(ctx context.Context, probePath string, threshold float64) (*VerificationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(e.logger, "verification.verify", requestID)

	if threshold <= 0 {
		threshold = e.defaultThreshold
	}

	raw, err := e.extractor.Extract(ctx, probePath)
	if err != nil {
		return nil, err
	}
	vec := embedding.Normalize(raw)
	if err := embedding.CheckDimension(vec, e.dimension); err != nil {
		return nil, err
	}

	neighbor, found, err := e.index.QueryNearest(ctx, vec)
	if err != nil {
		wrapped := logging.NewOperationError("verification.query_nearest", requestID, err)
		opLogger.Error("vector index query failed", zap.Error(wrapped))
		return nil, wrapped
	}

	result := &VerificationResult{
		RequestID: requestID,
		Band:      calibrate.BandNone,
		Threshold: threshold,
	}

	if !found {
		// An empty population is a normal negative, not a failure.
		e.metrics.ObserveVerification(false)
		opLogger.Info("no enrolled identities")
		return result, nil
	}

	result.RawDistance = neighbor.Distance
	result.Similarity, result.Band = e.calibrator.Calibrate(neighbor.Distance)
	result.Matched = result.Similarity >= threshold

	if result.Matched {
		record, err := e.records.Get(ctx, neighbor.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// The index holds a vector with no backing record: the
			// cross-store invariant was violated upstream. Filtered to a
			// negative, never a match on incomplete data.
			e.metrics.ObserveIntegrityWarning()
			opLogger.Warn("integrity warning: dangling vector index entry",
				zap.String("identity_id", neighbor.ID),
				zap.Float64("similarity", result.Similarity))
			result.Matched = false
		case err != nil:
			wrapped := logging.NewOperationError("verification.fetch_record", requestID, err)
			opLogger.Error("record fetch failed", zap.Error(wrapped))
			return nil, wrapped
		default:
			result.IdentityID = neighbor.ID
			result.Record = record
		}
	}

	e.metrics.ObserveVerification(result.Matched)
	opLogger.Info("verification decided",
		zap.Bool("matched", result.Matched),
		zap.Float64("similarity", result.Similarity),
		zap.String("band", string(result.Band)))
	return result, nil
}
