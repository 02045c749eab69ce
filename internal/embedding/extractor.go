package embedding

import "context"

// Extractor produces a facial embedding for the photo stored at photoPath.
//
// Implementations classify failures into the sentinel errors below so callers
// can distinguish a bad photo (expected, actionable) from an unavailable
// extractor (transient).
type Extractor interface {
	Extract(ctx context.Context, photoPath string) (Vector, error)
}

// ExtractionError is a classified extraction failure caused by the input
// photo rather than by the extractor service itself.
type ExtractionError struct {
	Kind    ExtractionFailure
	Message string
}

// ExtractionFailure enumerates the photo-level failure classes.
type ExtractionFailure string

const (
	// NoFaceDetected means the detector found zero faces in the photo.
	NoFaceDetected ExtractionFailure = "no_face_detected"
	// MultipleFacesDetected means the detector found more than one face.
	MultipleFacesDetected ExtractionFailure = "multiple_faces_detected"
	// ImageUnreadable means the photo could not be read or decoded at all.
	ImageUnreadable ExtractionFailure = "image_unreadable"
)

func (e *ExtractionError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

// UserMessage maps the failure class to an actionable message for end users.
func (e *ExtractionError) UserMessage() string {
	switch e.Kind {
	case NoFaceDetected:
		return "No face detected. Please provide a clear face photo."
	case MultipleFacesDetected:
		return "Photo must contain exactly one face."
	case ImageUnreadable:
		return "The photo could not be read. Please upload a valid image file."
	default:
		return "The photo could not be processed."
	}
}
