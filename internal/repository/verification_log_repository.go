package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceproof/internal/logging"
)

// VerificationLog is the audit record of one verification request. It lives
// outside the verification engine: the HTTP layer records outcomes after the
// engine returns.
type VerificationLog struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Matched           bool      `gorm:"column:matched"`
	MatchedIdentityID string    `gorm:"column:matched_identity_id;size:36;index"`
	RawDistance       float64   `gorm:"column:raw_distance"`
	Similarity        float64   `gorm:"column:similarity"`
	Band              string    `gorm:"column:band;size:16"`
	Threshold         float64   `gorm:"column:threshold"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// VerificationLogRepository provides persistence APIs for verification audit
// logs. Audit writes retry transient database errors since replaying them is
// idempotent by request id.
type VerificationLogRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationLogRepository creates a new repository instance.
func NewVerificationLogRepository(db *gorm.DB, logger *zap.Logger) *VerificationLogRepository {
	return &VerificationLogRepository{
		db:             db,
		logger:         logger.Named("verification_log_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationLogRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
}

// Save persists a verification log entry.
func (r *VerificationLogRepository) Save(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_verification_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves a verification log by its request id.
func (r *VerificationLogRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationLog, error) {
	var log VerificationLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// Aggregation holds summary statistics over all verification logs.
type Aggregation struct {
	TotalCount        int64
	MatchedCount      int64
	AverageSimilarity float64
}

// Aggregate computes summary statistics for the stats endpoint.
func (r *VerificationLogRepository) Aggregate(ctx context.Context) (*Aggregation, error) {
	var agg Aggregation
	err := r.db.WithContext(ctx).Model(&VerificationLog{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count, " +
			"COALESCE(AVG(similarity), 0) AS average_similarity").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationLogRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
