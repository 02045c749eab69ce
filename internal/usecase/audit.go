package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/faceproof/internal/logging"
	"github.com/example/faceproof/internal/repository"
)

const verificationResultTTL = 5 * time.Minute

// VerificationLogStore defines the audit persistence the recorder needs.
type VerificationLogStore interface {
	Save(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error)
}

// AuditRecorder persists verification outcomes after the engine has decided.
// The engine itself stays mutation-free; recording is a caller concern.
type AuditRecorder struct {
	logs   VerificationLogStore
	cache  Cache
	logger *zap.Logger
}

// NewAuditRecorder constructs a recorder over the log store and cache.
func NewAuditRecorder(logs VerificationLogStore, cache Cache, logger *zap.Logger) *AuditRecorder {
	return &AuditRecorder{
		logs:   logs,
		cache:  cache,
		logger: logger.Named("audit_recorder"),
	}
}

type cachedVerification struct {
	RequestID         string    `json:"request_id"`
	Matched           bool      `json:"matched"`
	MatchedIdentityID string    `json:"matched_identity_id,omitempty"`
	RawDistance       float64   `json:"raw_distance"`
	Similarity        float64   `json:"similarity"`
	Band              string    `json:"band"`
	Threshold         float64   `json:"threshold"`
	CreatedAt         time.Time `json:"created_at"`
}

// Record writes the verification outcome to the audit table and caches it for
// the result-lookup endpoint.
func (a *AuditRecorder) Record(ctx context.Context, result *VerificationResult) error {
	log := &repository.VerificationLog{
		RequestID:         result.RequestID,
		Matched:           result.Matched,
		MatchedIdentityID: result.IdentityID,
		RawDistance:       result.RawDistance,
		Similarity:        result.Similarity,
		Band:              string(result.Band),
		Threshold:         result.Threshold,
		CreatedAt:         time.Now().UTC(),
	}
	if err := a.logs.Save(ctx, log); err != nil {
		return logging.NewOperationError("audit.save", result.RequestID, err)
	}

	serialized, err := json.Marshal(cachedVerification{
		RequestID:         log.RequestID,
		Matched:           log.Matched,
		MatchedIdentityID: log.MatchedIdentityID,
		RawDistance:       log.RawDistance,
		Similarity:        log.Similarity,
		Band:              log.Band,
		Threshold:         log.Threshold,
		CreatedAt:         log.CreatedAt,
	})
	if err != nil {
		return logging.NewOperationError("audit.encode", result.RequestID, err)
	}

	if err := a.cache.Set(ctx, cacheKey(result.RequestID), string(serialized), verificationResultTTL); err != nil {
		// The durable write already happened; a cache miss only costs a
		// database read on lookup.
		logging.WithOperation(a.logger, "audit.cache_set", result.RequestID).Warn("failed to cache result", zap.Error(err))
	}
	return nil
}

// GetResult retrieves a recent verification outcome, preferring the cache.
func (a *AuditRecorder) GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	if cached, err := a.cache.Get(ctx, cacheKey(requestID)); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(a.logger, "audit.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &repository.VerificationLog{
				RequestID:         payload.RequestID,
				Matched:           payload.Matched,
				MatchedIdentityID: payload.MatchedIdentityID,
				RawDistance:       payload.RawDistance,
				Similarity:        payload.Similarity,
				Band:              payload.Band,
				Threshold:         payload.Threshold,
				CreatedAt:         payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(a.logger, "audit.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return a.logs.FindByRequestID(ctx, requestID)
}

func cacheKey(requestID string) string {
	return "verification:" + requestID
}
