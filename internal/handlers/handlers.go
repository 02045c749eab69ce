package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceproof/internal/embedding"
	"github.com/example/faceproof/internal/repository"
	"github.com/example/faceproof/internal/storage"
	"github.com/example/faceproof/internal/usecase"
)

// MaxUploadSize caps photo uploads at 5 MiB.
const MaxUploadSize = 5 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Enroller is the enrollment surface the handlers call.
type Enroller interface {
	Enroll(ctx context.Context, input usecase.EnrollmentInput) (*usecase.EnrollmentOutcome, error)
	UpdateEnrollment(ctx context.Context, id string, input usecase.EnrollmentInput) (*usecase.EnrollmentOutcome, error)
}

// Verifier is the verification surface the handlers call.
type Verifier interface {
	Verify(ctx context.Context, probePath string, threshold float64) (*usecase.VerificationResult, error)
}

// Auditor records verification outcomes and serves result lookups.
type Auditor interface {
	Record(ctx context.Context, result *usecase.VerificationResult) error
	GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error)
}

// IdentityReader serves identity lookups and listings.
type IdentityReader interface {
	Get(ctx context.Context, id string) (*repository.IdentityRecord, error)
	List(ctx context.Context) ([]*repository.IdentityRecord, error)
	Count(ctx context.Context) (int64, error)
}

// StatsSource aggregates the verification audit trail.
type StatsSource interface {
	Aggregate(ctx context.Context) (*repository.Aggregation, error)
}

// VectorCounter reports the vector index population for the stats endpoint.
type VectorCounter interface {
	Count(ctx context.Context) (int, error)
}

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	Enroller   Enroller
	Verifier   Verifier
	Auditor    Auditor
	Identities IdentityReader
	Stats      StatsSource
	Vectors    VectorCounter
	Photos     *storage.PhotoStore
	Logger     *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything except
// the health check sits behind the auth middleware.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/identities", func(c *gin.Context) {
		input, cleanup, ok := bindEnrollmentInput(c, deps.Photos)
		if !ok {
			return
		}

		outcome, err := deps.Enroller.Enroll(c.Request.Context(), input)
		if err != nil {
			discardPhotoUnlessOrphaned(cleanup, err)
			respondEnrollmentError(c, deps.Logger, outcome, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"identity_id": outcome.IdentityID,
			"enrolled":    true,
		})
	})

	authed.PUT("/identities/:id", func(c *gin.Context) {
		id := c.Param("id")

		input, cleanup, ok := bindEnrollmentInput(c, deps.Photos)
		if !ok {
			return
		}

		// The record still points at the previous photo until the update
		// commits; remember it so it can be removed afterwards.
		var previousPhoto string
		if prev, err := deps.Identities.Get(c.Request.Context(), id); err == nil {
			previousPhoto = prev.PhotoPath
		}

		outcome, err := deps.Enroller.UpdateEnrollment(c.Request.Context(), id, input)
		if err != nil {
			discardPhotoUnlessOrphaned(cleanup, err)
			if errors.Is(err, usecase.ErrUnknownIdentity) {
				c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
				return
			}
			respondEnrollmentError(c, deps.Logger, outcome, err)
			return
		}

		if previousPhoto != "" && previousPhoto != input.PhotoPath {
			if err := deps.Photos.Remove(previousPhoto); err != nil {
				deps.Logger.Warn("failed to remove replaced photo",
					zap.String("identity_id", id), zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"identity_id": outcome.IdentityID,
			"enrolled":    true,
		})
	})

	authed.GET("/identities/:id", func(c *gin.Context) {
		record, err := deps.Identities.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
				return
			}
			deps.Logger.Error("identity lookup failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, identityResponse(record))
	})

	authed.GET("/identities", func(c *gin.Context) {
		records, err := deps.Identities.List(c.Request.Context())
		if err != nil {
			deps.Logger.Error("identity listing failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		out := make([]gin.H, 0, len(records))
		for _, record := range records {
			out = append(out, identityResponse(record))
		}
		c.JSON(http.StatusOK, gin.H{"identities": out, "count": len(out)})
	})

	authed.POST("/verify", func(c *gin.Context) {
		file, ok := openUpload(c)
		if !ok {
			return
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open photo"})
			return
		}
		defer src.Close()

		probePath, removeProbe, err := deps.Photos.SaveProbe(src)
		if err != nil {
			deps.Logger.Error("probe spool failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store photo"})
			return
		}
		defer removeProbe()

		threshold, ok := parseThreshold(c)
		if !ok {
			return
		}

		result, err := deps.Verifier.Verify(c.Request.Context(), probePath, threshold)
		if err != nil {
			respondVerificationError(c, deps.Logger, err)
			return
		}

		if err := deps.Auditor.Record(c.Request.Context(), result); err != nil {
			deps.Logger.Error("audit write failed", zap.String("request_id", result.RequestID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}

		c.JSON(http.StatusOK, verificationResponse(result))
	})

	authed.GET("/verifications/:id", func(c *gin.Context) {
		log, err := deps.Auditor.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":          log.RequestID,
			"matched":             log.Matched,
			"matched_identity_id": log.MatchedIdentityID,
			"raw_distance":        log.RawDistance,
			"similarity":          log.Similarity,
			"band":                log.Band,
			"threshold":           log.Threshold,
			"created_at":          log.CreatedAt,
		})
	})

	authed.GET("/stats", func(c *gin.Context) {
		enrolled, err := deps.Identities.Count(c.Request.Context())
		if err != nil {
			deps.Logger.Error("identity count failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		indexed, err := deps.Vectors.Count(c.Request.Context())
		if err != nil {
			deps.Logger.Error("vector count failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		agg, err := deps.Stats.Aggregate(c.Request.Context())
		if err != nil {
			deps.Logger.Error("audit aggregation failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"enrolled_identities": enrolled,
			"indexed_vectors":     indexed,
			"verifications":       agg.TotalCount,
			"matches":             agg.MatchedCount,
			"average_similarity":  agg.AverageSimilarity,
		})
	})
}

// bindEnrollmentInput validates the multipart form and spools the reference
// photo. The returned cleanup removes the photo; call it when enrollment fails
// so a rejected attempt leaves no file behind.
func bindEnrollmentInput(c *gin.Context, photos *storage.PhotoStore) (usecase.EnrollmentInput, func(), bool) {
	var input usecase.EnrollmentInput

	trustScore, err := strconv.ParseFloat(c.PostForm("trust_score"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trust_score must be a number"})
		return input, nil, false
	}

	attributes := map[string]string{}
	if raw := c.PostForm("attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attributes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "attributes must be a JSON object of strings"})
			return input, nil, false
		}
	}

	file, ok := openUpload(c)
	if !ok {
		return input, nil, false
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open photo"})
		return input, nil, false
	}
	defer src.Close()

	// The photo file is keyed independently of the identity id, which does
	// not exist yet on first enrollment.
	photoPath, err := photos.SaveReference(uuid.NewString(), src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store photo"})
		return input, nil, false
	}

	input.TrustScore = trustScore
	input.Attributes = attributes
	input.PhotoPath = photoPath
	return input, func() { _ = photos.Remove(photoPath) }, true
}

// discardPhotoUnlessOrphaned removes the spooled photo of a failed
// enrollment. When the failure left an orphaned record behind, that record
// still references the photo, so it is kept as evidence for manual
// reconciliation.
func discardPhotoUnlessOrphaned(cleanup func(), err error) {
	var inconsistent *usecase.InconsistentStateError
	if errors.As(err, &inconsistent) {
		return
	}
	cleanup()
}

func openUpload(c *gin.Context) (*multipart.FileHeader, bool) {
	file, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo exceeds the upload limit"})
		return nil, false
	}
	if contentType := file.Header.Get("Content-Type"); !allowedContentTypes[contentType] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "photo must be JPEG or PNG"})
		return nil, false
	}
	return file, true
}

func parseThreshold(c *gin.Context) (float64, bool) {
	raw := c.PostForm("threshold")
	if raw == "" {
		return 0, true // engine falls back to the configured default
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil || threshold <= 0 || threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be in (0,1]"})
		return 0, false
	}
	return threshold, true
}

// respondEnrollmentError maps enrollment failures to HTTP statuses. Operator
// detail goes to the log; clients get a stable, non-leaking message.
func respondEnrollmentError(c *gin.Context, logger *zap.Logger, outcome *usecase.EnrollmentOutcome, err error) {
	var extractionErr *embedding.ExtractionError
	var dimensionErr *embedding.DimensionError
	var inconsistent *usecase.InconsistentStateError

	switch {
	case errors.As(err, &extractionErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": extractionErr.UserMessage()})
	case errors.As(err, &dimensionErr):
		logger.Error("extractor returned wrong dimension", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "face extraction produced an unusable result"})
	case errors.Is(err, usecase.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &inconsistent):
		logger.Error("enrollment left inconsistent state",
			zap.String("identity_id", inconsistent.IdentityID),
			zap.String("orphan_store", inconsistent.OrphanStore),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment failed"})
	default:
		stage := usecase.FailureStage("")
		if outcome != nil {
			stage = outcome.FailureStage
		}
		logger.Error("enrollment failed", zap.String("stage", string(stage)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry the enrollment"})
	}
}

func respondVerificationError(c *gin.Context, logger *zap.Logger, err error) {
	var extractionErr *embedding.ExtractionError
	var dimensionErr *embedding.DimensionError

	switch {
	case errors.As(err, &extractionErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": extractionErr.UserMessage()})
	case errors.As(err, &dimensionErr):
		logger.Error("extractor returned wrong dimension", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "face extraction produced an unusable result"})
	default:
		logger.Error("verification failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry the verification"})
	}
}

func identityResponse(record *repository.IdentityRecord) gin.H {
	return gin.H{
		"id":          record.ID,
		"attributes":  record.Attributes,
		"trust_score": record.TrustScore,
		"created_at":  record.CreatedAt,
		"updated_at":  record.UpdatedAt,
	}
}

func verificationResponse(result *usecase.VerificationResult) gin.H {
	resp := gin.H{
		"request_id":   result.RequestID,
		"matched":      result.Matched,
		"raw_distance": result.RawDistance,
		"similarity":   result.Similarity,
		"band":         string(result.Band),
		"threshold":    result.Threshold,
	}
	if result.Matched && result.Record != nil {
		resp["identity"] = identityResponse(result.Record)
	}
	return resp
}
