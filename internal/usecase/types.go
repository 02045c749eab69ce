package usecase

import (
	"errors"
	"fmt"

	"github.com/example/faceproof/internal/calibrate"
	"github.com/example/faceproof/internal/repository"
)

// ErrInvalidInput marks failures caused by the caller's input, detected
// before any store I/O happens.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnknownIdentity marks an update addressed to an id that was never
// enrolled. It wraps ErrInvalidInput since the id came from the caller.
var ErrUnknownIdentity = fmt.Errorf("%w: unknown identity", ErrInvalidInput)

// FailureStage identifies where an enrollment stopped. It drives compensation
// and gives callers a precise failure report.
type FailureStage string

const (
	StageValidation  FailureStage = "validation"
	StageExtraction  FailureStage = "extraction"
	StageRecordWrite FailureStage = "recordWrite"
	StageVectorWrite FailureStage = "vectorWrite"
)

// EnrollmentInput is the caller-supplied material for one enrollment.
type EnrollmentInput struct {
	// Attributes are opaque profile fields, passed through unvalidated.
	Attributes map[string]string
	// TrustScore must lie in [0,10].
	TrustScore float64
	// PhotoPath references the stored photo; it is forwarded to the
	// extractor, never read here.
	PhotoPath string
}

// EnrollmentOutcome reports the result of an enrollment attempt.
type EnrollmentOutcome struct {
	Succeeded    bool
	IdentityID   string
	FailureStage FailureStage
}

// VerificationResult is the transient outcome of one verification request.
// It is never persisted by the engine itself.
type VerificationResult struct {
	RequestID   string
	Matched     bool
	IdentityID  string
	RawDistance float64
	Similarity  float64
	Band        calibrate.Band
	Threshold   float64
	// Record is the full identity record, present iff Matched.
	Record *repository.IdentityRecord
}

// StageError wraps a transient store or extractor failure with the
// enrollment stage it interrupted. Callers may retry the whole operation;
// the coordinator itself never does.
type StageError struct {
	Stage FailureStage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("enrollment failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InconsistentStateError is fatal: a partial enrollment could not be
// compensated, so the two stores disagree about the given identity. It
// requires manual reconciliation and is never repaired automatically.
type InconsistentStateError struct {
	IdentityID  string
	OrphanStore string
	Err         error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state: orphaned identity %s in %s: %v", e.IdentityID, e.OrphanStore, e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }
