package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceproof/internal/logging"
)

// HTTPExtractor calls an out-of-process face embedding sidecar over HTTP/JSON.
// The sidecar runs the detection and embedding model; this client only ships
// photo bytes and classifies the response.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPExtractor constructs a client for the extractor sidecar at baseURL.
func NewHTTPExtractor(baseURL string, logger *zap.Logger) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("extractor_client"),
	}
}

type extractRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type extractResponse struct {
	Embedding []float32 `json:"embedding"`
	FaceCount int       `json:"face_count"`
	Error     string    `json:"error,omitempty"`
}

// Extract reads the photo at photoPath and asks the sidecar for its embedding.
// A file that cannot be read never reaches the sidecar; it fails as
// ImageUnreadable up front.
func (e *HTTPExtractor) Extract(ctx context.Context, photoPath string) (Vector, error) {
	data, err := os.ReadFile(photoPath)
	if err != nil {
		return nil, &ExtractionError{Kind: ImageUnreadable, Message: err.Error()}
	}

	payload, err := json.Marshal(extractRequest{ImageBase64: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, fmt.Errorf("encode extract request: %w", err)
	}

	url := e.baseURL + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("extractor.extract", "", err)
		e.logger.Error("extractor call failed", zap.Error(wrapped), zap.String("url", url))
		return nil, wrapped
	}
	defer resp.Body.Close()

	var decoded extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode extract response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, classifyExtractionError(decoded)
	default:
		return nil, fmt.Errorf("extractor returned status %d: %s", resp.StatusCode, decoded.Error)
	}

	if decoded.FaceCount > 1 {
		return nil, &ExtractionError{
			Kind:    MultipleFacesDetected,
			Message: fmt.Sprintf("%d faces found", decoded.FaceCount),
		}
	}
	if decoded.FaceCount == 0 || len(decoded.Embedding) == 0 {
		return nil, &ExtractionError{Kind: NoFaceDetected}
	}

	return Vector(decoded.Embedding), nil
}

func classifyExtractionError(resp extractResponse) error {
	switch {
	case strings.Contains(resp.Error, "no face"):
		return &ExtractionError{Kind: NoFaceDetected, Message: resp.Error}
	case strings.Contains(resp.Error, "multiple faces"):
		return &ExtractionError{Kind: MultipleFacesDetected, Message: resp.Error}
	case strings.Contains(resp.Error, "unreadable"), strings.Contains(resp.Error, "decode"):
		return &ExtractionError{Kind: ImageUnreadable, Message: resp.Error}
	default:
		return fmt.Errorf("extractor rejected photo: %s", resp.Error)
	}
}
