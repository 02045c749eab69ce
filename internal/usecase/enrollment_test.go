package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/faceproof/internal/embedding"
	"github.com/example/faceproof/internal/repository"
	"github.com/example/faceproof/internal/vectorindex"
)

const testDimension = 2

type stubRecordStore struct {
	records    map[string]*repository.IdentityRecord
	putErr     error
	getErr     error
	deleteErr  error
	putCalls   int
	deleteCtxs []context.Context
}

func newStubRecordStore() *stubRecordStore {
	return &stubRecordStore{records: map[string]*repository.IdentityRecord{}}
}

func (s *stubRecordStore) Put(ctx context.Context, record *repository.IdentityRecord) error {
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *stubRecordStore) Get(ctx context.Context, id string) (*repository.IdentityRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	record, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *stubRecordStore) Delete(ctx context.Context, id string) error {
	s.deleteCtxs = append(s.deleteCtxs, ctx)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.records, id)
	return nil
}

type stubIndex struct {
	*vectorindex.MemoryIndex
	upsertErr error
}

func newStubIndex() *stubIndex {
	return &stubIndex{MemoryIndex: vectorindex.NewMemoryIndex()}
}

func (s *stubIndex) Upsert(ctx context.Context, id string, vec embedding.Vector, meta vectorindex.Metadata) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.MemoryIndex.Upsert(ctx, id, vec, meta)
}

type stubExtractor struct {
	vector embedding.Vector
	err    error
	calls  int
}

func (s *stubExtractor) Extract(ctx context.Context, photoPath string) (embedding.Vector, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

// vectorAtCosineDistance returns a 2D unit vector at cosine distance d from (1,0).
func vectorAtCosineDistance(d float64) embedding.Vector {
	cos := 1 - d
	sin := math.Sqrt(1 - cos*cos)
	return embedding.Vector{float32(cos), float32(sin)}
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func newCoordinator(records RecordStore, index vectorindex.Index, extractor embedding.Extractor) *EnrollmentCoordinator {
	return NewEnrollmentCoordinator(records, index, extractor, testMetrics(), zap.NewNop(), testDimension)
}

func validInput() EnrollmentInput {
	return EnrollmentInput{
		Attributes: map[string]string{"name": "Ada Lovelace", "employer": "Analytical Engines Ltd"},
		TrustScore: 7.5,
		PhotoPath:  "media/reference/ada.img",
	}
}

func TestEnrollWritesBothStores(t *testing.T) {
	records := newStubRecordStore()
	index := newStubIndex()
	extractor := &stubExtractor{vector: embedding.Vector{3, 4}} // normalized inside

	coordinator := newCoordinator(records, index, extractor)
	outcome, err := coordinator.Enroll(context.Background(), validInput())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !outcome.Succeeded || outcome.IdentityID == "" {
		t.Fatalf("expected succeeded outcome with id, got %+v", outcome)
	}

	if _, err := records.Get(context.Background(), outcome.IdentityID); err != nil {
		t.Fatalf("record missing after enroll: %v", err)
	}

	neighbor, found, err := index.QueryNearest(context.Background(), embedding.Normalize(embedding.Vector{3, 4}))
	if err != nil || !found {
		t.Fatalf("expected enrolled vector in index, found=%v err=%v", found, err)
	}
	if neighbor.ID != outcome.IdentityID {
		t.Fatalf("index id %q does not match record id %q", neighbor.ID, outcome.IdentityID)
	}
	if neighbor.Distance > 1e-6 {
		t.Fatalf("expected distance ~0 for enrolled vector, got %v", neighbor.Distance)
	}
	if neighbor.Meta.Name != "Ada Lovelace" || neighbor.Meta.TrustScore != 7.5 {
		t.Fatalf("unexpected denormalized metadata: %+v", neighbor.Meta)
	}
}

func TestEnrollRejectsTrustScoreBeforeAnyIO(t *testing.T) {
	records := newStubRecordStore()
	extractor := &stubExtractor{vector: vectorAtCosineDistance(0)}
	coordinator := newCoordinator(records, newStubIndex(), extractor)

	for _, score := range []float64{-0.1, 10.1, 42} {
		input := validInput()
		input.TrustScore = score
		outcome, err := coordinator.Enroll(context.Background(), input)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("score %v: expected ErrInvalidInput, got %v", score, err)
		}
		if outcome.FailureStage != StageValidation {
			t.Fatalf("score %v: expected validation stage, got %s", score, outcome.FailureStage)
		}
	}
	if extractor.calls != 0 {
		t.Fatalf("extractor must not be called for invalid input, got %d calls", extractor.calls)
	}
	if records.putCalls != 0 {
		t.Fatalf("record store must not be touched for invalid input, got %d puts", records.putCalls)
	}
}

func TestEnrollClassifiesExtractionFailures(t *testing.T) {
	for _, kind := range []embedding.ExtractionFailure{
		embedding.NoFaceDetected,
		embedding.MultipleFacesDetected,
		embedding.ImageUnreadable,
	} {
		records := newStubRecordStore()
		extractor := &stubExtractor{err: &embedding.ExtractionError{Kind: kind}}
		coordinator := newCoordinator(records, newStubIndex(), extractor)

		outcome, err := coordinator.Enroll(context.Background(), validInput())
		var extractionErr *embedding.ExtractionError
		if !errors.As(err, &extractionErr) || extractionErr.Kind != kind {
			t.Fatalf("kind %s: expected typed extraction error, got %v", kind, err)
		}
		if outcome.FailureStage != StageExtraction {
			t.Fatalf("kind %s: expected extraction stage, got %s", kind, outcome.FailureStage)
		}
		if records.putCalls != 0 {
			t.Fatalf("kind %s: record store must stay untouched", kind)
		}
	}
}

func TestEnrollRejectsWrongDimension(t *testing.T) {
	extractor := &stubExtractor{vector: embedding.Vector{1, 0, 0}} // dimension 3, expected 2
	coordinator := newCoordinator(newStubRecordStore(), newStubIndex(), extractor)

	outcome, err := coordinator.Enroll(context.Background(), validInput())
	var dimErr *embedding.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
	if dimErr.Expected != testDimension || dimErr.Actual != 3 {
		t.Fatalf("unexpected dimensions in error: %+v", dimErr)
	}
	if outcome.FailureStage != StageExtraction {
		t.Fatalf("expected extraction stage, got %s", outcome.FailureStage)
	}
}

func TestEnrollRecordWriteFailureNeedsNoCompensation(t *testing.T) {
	records := newStubRecordStore()
	records.putErr = errors.New("database down")
	index := newStubIndex()
	coordinator := newCoordinator(records, index, &stubExtractor{vector: vectorAtCosineDistance(0)})

	outcome, err := coordinator.Enroll(context.Background(), validInput())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRecordWrite {
		t.Fatalf("expected recordWrite StageError, got %v", err)
	}
	if outcome.FailureStage != StageRecordWrite {
		t.Fatalf("expected recordWrite stage, got %s", outcome.FailureStage)
	}

	count, _ := index.Count(context.Background())
	if count != 0 {
		t.Fatalf("vector index must stay empty, got %d entries", count)
	}
	if len(records.deleteCtxs) != 0 {
		t.Fatal("no compensation delete expected when nothing else was written")
	}
}

func TestEnrollCompensatesRecordOnVectorWriteFailure(t *testing.T) {
	records := newStubRecordStore()
	index := newStubIndex()
	index.upsertErr = errors.New("vector index down")
	coordinator := newCoordinator(records, index, &stubExtractor{vector: vectorAtCosineDistance(0)})

	outcome, err := coordinator.Enroll(context.Background(), validInput())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageVectorWrite {
		t.Fatalf("expected vectorWrite StageError, got %v", err)
	}
	if outcome.FailureStage != StageVectorWrite {
		t.Fatalf("expected vectorWrite stage, got %s", outcome.FailureStage)
	}
	if len(records.records) != 0 {
		t.Fatalf("expected compensating delete to remove the record, %d remain", len(records.records))
	}
}

func TestEnrollEscalatesWhenCompensationFails(t *testing.T) {
	records := newStubRecordStore()
	records.deleteErr = errors.New("delete also failed")
	index := newStubIndex()
	index.upsertErr = errors.New("vector index down")
	coordinator := newCoordinator(records, index, &stubExtractor{vector: vectorAtCosineDistance(0)})

	outcome, err := coordinator.Enroll(context.Background(), validInput())
	var fatal *InconsistentStateError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected InconsistentStateError, got %v", err)
	}
	if fatal.IdentityID == "" {
		t.Fatalf("fatal error must carry the orphaned id, got %+v", fatal)
	}
	if fatal.OrphanStore != "record_store" {
		t.Fatalf("expected record_store orphan, got %s", fatal.OrphanStore)
	}
	if outcome.FailureStage != StageVectorWrite {
		t.Fatalf("expected vectorWrite stage, got %s", outcome.FailureStage)
	}
}

func TestEnrollCompensatesEvenAfterCancellation(t *testing.T) {
	records := newStubRecordStore()
	index := newStubIndex()
	index.upsertErr = context.Canceled
	coordinator := newCoordinator(records, index, &stubExtractor{vector: vectorAtCosineDistance(0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coordinator.Enroll(ctx, validInput()); err == nil {
		t.Fatal("expected error")
	}

	if len(records.deleteCtxs) != 1 {
		t.Fatalf("expected exactly one compensation delete, got %d", len(records.deleteCtxs))
	}
	if err := records.deleteCtxs[0].Err(); err != nil {
		t.Fatalf("compensation must run on a context detached from cancellation, got %v", err)
	}
	if len(records.records) != 0 {
		t.Fatal("expected record to be compensated away despite cancellation")
	}
}

func TestUpdateEnrollmentRollsBackToSnapshotOnVectorFailure(t *testing.T) {
	records := newStubRecordStore()
	index := newStubIndex()
	extractor := &stubExtractor{vector: vectorAtCosineDistance(0)}
	coordinator := newCoordinator(records, index, extractor)

	enrolled, err := coordinator.Enroll(context.Background(), validInput())
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	index.upsertErr = errors.New("vector index down")
	update := validInput()
	update.Attributes = map[string]string{"name": "Ada K. Lovelace"}
	update.TrustScore = 9.0

	outcome, err := coordinator.UpdateEnrollment(context.Background(), enrolled.IdentityID, update)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageVectorWrite {
		t.Fatalf("expected vectorWrite StageError, got %v", err)
	}
	if outcome.Succeeded {
		t.Fatal("expected failed outcome")
	}

	restored, err := records.Get(context.Background(), enrolled.IdentityID)
	if err != nil {
		t.Fatalf("record must survive a failed update: %v", err)
	}
	if restored.TrustScore != 7.5 || restored.Attributes["name"] != "Ada Lovelace" {
		t.Fatalf("expected snapshot restore, got %+v", restored)
	}
}

func TestUpdateEnrollmentEscalatesWhenRestoreFails(t *testing.T) {
	records := newStubRecordStore()
	index := newStubIndex()
	extractor := &stubExtractor{vector: vectorAtCosineDistance(0)}
	coordinator := newCoordinator(records, index, extractor)

	enrolled, err := coordinator.Enroll(context.Background(), validInput())
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	index.upsertErr = errors.New("vector index down")
	// The update Put succeeds, the snapshot restore Put fails.
	failingRecords := &flakyRecordStore{stubRecordStore: records, failFromCall: records.putCalls + 2}
	coordinator = newCoordinator(failingRecords, index, extractor)

	_, err = coordinator.UpdateEnrollment(context.Background(), enrolled.IdentityID, validInput())
	var fatal *InconsistentStateError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected InconsistentStateError, got %v", err)
	}
	if fatal.IdentityID != enrolled.IdentityID {
		t.Fatalf("expected orphaned id %s, got %s", enrolled.IdentityID, fatal.IdentityID)
	}
}

func TestUpdateEnrollmentUnknownIdentityIsInvalidInput(t *testing.T) {
	coordinator := newCoordinator(newStubRecordStore(), newStubIndex(), &stubExtractor{vector: vectorAtCosineDistance(0)})

	outcome, err := coordinator.UpdateEnrollment(context.Background(), "no-such-id", validInput())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if outcome.FailureStage != StageValidation {
		t.Fatalf("expected validation stage, got %s", outcome.FailureStage)
	}
}

// flakyRecordStore lets Put succeed until a given call number, then fail.
type flakyRecordStore struct {
	*stubRecordStore
	failFromCall int
}

func (f *flakyRecordStore) Put(ctx context.Context, record *repository.IdentityRecord) error {
	if f.stubRecordStore.putCalls+1 >= f.failFromCall {
		f.stubRecordStore.putCalls++
		return errors.New("database down")
	}
	return f.stubRecordStore.Put(ctx, record)
}
