package config

import (
	"fmt"
	"os"
	"strconv"
)

// DistanceMetricCosine is the only metric the calibration formula in
// internal/calibrate is valid for. Raw distances are cosine distances over
// unit-normalized vectors, in [0,2].
const DistanceMetricCosine = "cosine"

// Config captures every tunable the service reads from the environment.
type Config struct {
	Addr          string
	DatabaseDSN   string
	RedisAddr     string
	ExtractorAddr string

	MediaDir      string
	MaxUploadSize int64

	EmbeddingDim   int
	DistanceMetric string

	// VectorBackend selects the vector index implementation:
	// "pgvector" (durable) or "memory" (development and tests).
	VectorBackend string

	DefaultThreshold float64
	BandAcceptable   float64
	BandGood         float64
	BandExcellent    float64

	JWTSecret   string
	JWTAudience string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:          getEnv("FACEPROOF_ADDR", ":8080"),
		DatabaseDSN:   getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceproof port=5432 sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		ExtractorAddr: getEnv("EXTRACTOR_ADDR", "http://extractor:9090"),

		MediaDir:      getEnv("MEDIA_DIR", "media"),
		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 5<<20),

		EmbeddingDim:   int(getEnvInt64("EMBEDDING_DIM", 512)),
		DistanceMetric: getEnv("DISTANCE_METRIC", DistanceMetricCosine),

		VectorBackend: getEnv("VECTOR_BACKEND", "pgvector"),

		DefaultThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.65),
		BandAcceptable:   getEnvFloat("BAND_ACCEPTABLE", 0.65),
		BandGood:         getEnvFloat("BAND_GOOD", 0.75),
		BandExcellent:    getEnvFloat("BAND_EXCELLENT", 0.90),

		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}
}

// Validate rejects configurations the core cannot operate under.
func (c Config) Validate() error {
	if c.DistanceMetric != DistanceMetricCosine {
		return fmt.Errorf("config: unsupported distance metric %q, calibration requires %q", c.DistanceMetric, DistanceMetricCosine)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	if !(c.BandAcceptable < c.BandGood && c.BandGood < c.BandExcellent) {
		return fmt.Errorf("config: band thresholds must be strictly increasing, got %v < %v < %v",
			c.BandAcceptable, c.BandGood, c.BandExcellent)
	}
	if c.DefaultThreshold <= 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("config: default similarity threshold must be in (0,1], got %v", c.DefaultThreshold)
	}
	switch c.VectorBackend {
	case "memory", "pgvector":
	default:
		return fmt.Errorf("config: unknown vector backend %q", c.VectorBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
