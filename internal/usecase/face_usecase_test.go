package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/biometric"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/template"
)

type stubVerifier struct {
	enrollFn func(ctx context.Context, image []byte) (template.EncryptedTemplate, error)
	verifyFn func(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error)
}

func (s *stubVerifier) Enroll(ctx context.Context, image []byte) (template.EncryptedTemplate, error) {
	return s.enrollFn(ctx, image)
}

func (s *stubVerifier) Verify(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error) {
	return s.verifyFn(ctx, image, stored)
}

type stubStore struct {
	templates map[string]string
	audits    []*repository.VerificationAudit
	upsertErr error
	metrics   *repository.MetricsAggregation
}

func newStubStore() *stubStore {
	return &stubStore{templates: make(map[string]string)}
}

func (s *stubStore) UpsertTemplate(ctx context.Context, userID, encrypted string) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.templates[userID] = encrypted
	return nil
}

func (s *stubStore) FindTemplateByUser(ctx context.Context, userID string) (*repository.FaceTemplate, error) {
	encrypted, ok := s.templates[userID]
	if !ok {
		return nil, repository.ErrTemplateNotFound
	}
	return &repository.FaceTemplate{UserID: userID, Template: encrypted}, nil
}

func (s *stubStore) SaveAudit(ctx context.Context, audit *repository.VerificationAudit) error {
	s.audits = append(s.audits, audit)
	return nil
}

func (s *stubStore) FindAuditByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationAudit, error) {
	for _, audit := range s.audits {
		if audit.RequestID == requestID && audit.UserID == userID {
			return audit, nil
		}
	}
	return nil, errors.New("audit not found")
}

func (s *stubStore) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.metrics == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.metrics, nil
}

type memoryCache struct {
	values map[string]string
	setErr error
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	if c.getErr != nil {
		return "", c.getErr
	}
	value, ok := c.values[key]
	if !ok {
		return "", errors.New("missing key")
	}
	return value, nil
}

func newTestUseCase(verifier Verifier, store TemplateStore, cache Cache) *FaceUseCase {
	return NewFaceUseCase(verifier, store, cache, zap.NewNop())
}

func TestEnrollUserPersistsTemplate(t *testing.T) {
	verifier := &stubVerifier{
		enrollFn: func(ctx context.Context, image []byte) (template.EncryptedTemplate, error) {
			return template.EncryptedTemplate("iv:ciphertext"), nil
		},
	}
	store := newStubStore()
	uc := newTestUseCase(verifier, store, newMemoryCache())

	requestID, err := uc.EnrollUser(context.Background(), "user-1", []byte("photo"))
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected a request id")
	}
	if store.templates["user-1"] != "iv:ciphertext" {
		t.Fatalf("template not persisted: %+v", store.templates)
	}
}

func TestEnrollUserPipelineFailureDoesNotPersist(t *testing.T) {
	verifier := &stubVerifier{
		enrollFn: func(ctx context.Context, image []byte) (template.EncryptedTemplate, error) {
			return "", biometric.ErrNoFaceDetected
		},
	}
	store := newStubStore()
	uc := newTestUseCase(verifier, store, newMemoryCache())

	if _, err := uc.EnrollUser(context.Background(), "user-1", []byte("photo")); !errors.Is(err, biometric.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if len(store.templates) != 0 {
		t.Fatal("failed enrollment must not persist a template")
	}
}

func TestVerifyUserWithoutEnrollment(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error) {
			t.Fatal("verifier must not run without a stored template")
			return biometric.VerificationResult{}, nil
		},
	}
	uc := newTestUseCase(verifier, newStubStore(), newMemoryCache())

	_, _, err := uc.VerifyUser(context.Background(), "user-1", []byte("photo"))
	if !errors.Is(err, ErrTemplateNotEnrolled) {
		t.Fatalf("expected ErrTemplateNotEnrolled, got %v", err)
	}
}

func TestVerifyUserSuccessAuditsAndCaches(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error) {
			if stored != "iv:ciphertext" {
				t.Fatalf("stored template not passed through, got %q", stored)
			}
			return biometric.VerificationResult{IsMatch: true, Confidence: 0.93}, nil
		},
	}
	store := newStubStore()
	store.templates["user-1"] = "iv:ciphertext"
	cache := newMemoryCache()
	uc := newTestUseCase(verifier, store, cache)

	requestID, result, err := uc.VerifyUser(context.Background(), "user-1", []byte("photo"))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.IsMatch || result.Confidence != 0.93 {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(store.audits) != 1 {
		t.Fatalf("expected one audit row, got %d", len(store.audits))
	}
	audit := store.audits[0]
	if audit.RequestID != requestID || audit.UserID != "user-1" || !audit.IsMatch || audit.Score != 0.93 || audit.FailureKind != "" {
		t.Fatalf("unexpected audit row %+v", audit)
	}

	cached, ok := cache.values["face:verification:"+requestID]
	if !ok {
		t.Fatalf("result not cached, keys: %v", cache.values)
	}
	var payload cachedResult
	if err := json.Unmarshal([]byte(cached), &payload); err != nil {
		t.Fatalf("cached payload not JSON: %v", err)
	}
	if payload.UserID != "user-1" || !payload.IsMatch || payload.Score != 0.93 {
		t.Fatalf("unexpected cached payload %+v", payload)
	}
}

func TestVerifyUserFailureAuditsKind(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error) {
			return biometric.VerificationResult{}, biometric.ErrLivenessFailed
		},
	}
	store := newStubStore()
	store.templates["user-1"] = "iv:ciphertext"
	cache := newMemoryCache()
	uc := newTestUseCase(verifier, store, cache)

	_, _, err := uc.VerifyUser(context.Background(), "user-1", []byte("photo"))
	if !errors.Is(err, biometric.ErrLivenessFailed) {
		t.Fatalf("expected ErrLivenessFailed, got %v", err)
	}

	if len(store.audits) != 1 {
		t.Fatalf("failed verification must still be audited, got %d rows", len(store.audits))
	}
	if store.audits[0].FailureKind != "liveness_failed" {
		t.Fatalf("unexpected failure kind %q", store.audits[0].FailureKind)
	}
	if len(cache.values) != 0 {
		t.Fatal("failed verification must not be cached")
	}
}

func TestVerifyUserCacheFailureIsNonFatal(t *testing.T) {
	verifier := &stubVerifier{
		verifyFn: func(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error) {
			return biometric.VerificationResult{IsMatch: true, Confidence: 0.9}, nil
		},
	}
	store := newStubStore()
	store.templates["user-1"] = "iv:ciphertext"
	cache := newMemoryCache()
	cache.setErr = errors.New("redis down")
	uc := newTestUseCase(verifier, store, cache)
	uc.retryAttempts = 1

	if _, _, err := uc.VerifyUser(context.Background(), "user-1", []byte("photo")); err != nil {
		t.Fatalf("cache failure must not fail the verification, got %v", err)
	}
}

func TestGetResultPrefersCache(t *testing.T) {
	store := newStubStore()
	cache := newMemoryCache()
	uc := newTestUseCase(&stubVerifier{}, store, cache)

	payload, _ := json.Marshal(cachedResult{
		RequestID: "req-1",
		UserID:    "user-1",
		Score:     0.88,
		IsMatch:   true,
		CreatedAt: time.Now().UTC(),
	})
	cache.values["face:verification:req-1"] = string(payload)

	audit, err := uc.GetResult(context.Background(), "user-1", "req-1")
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if audit.Score != 0.88 || !audit.IsMatch {
		t.Fatalf("unexpected cached result %+v", audit)
	}
}

func TestGetResultRejectsForeignCacheEntry(t *testing.T) {
	store := newStubStore()
	store.audits = append(store.audits, &repository.VerificationAudit{RequestID: "req-1", UserID: "user-2", Score: 0.5})
	cache := newMemoryCache()
	uc := newTestUseCase(&stubVerifier{}, store, cache)

	payload, _ := json.Marshal(cachedResult{RequestID: "req-1", UserID: "user-1", Score: 0.88, IsMatch: true})
	cache.values["face:verification:req-1"] = string(payload)

	// user-2 asks for a request cached under user-1; the cache entry must be
	// ignored and the audit row consulted instead.
	audit, err := uc.GetResult(context.Background(), "user-2", "req-1")
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if audit.Score != 0.5 {
		t.Fatalf("expected store fallback, got %+v", audit)
	}
}

func TestGetResultFallsBackToStore(t *testing.T) {
	store := newStubStore()
	store.audits = append(store.audits, &repository.VerificationAudit{RequestID: "req-2", UserID: "user-1", Score: 0.42})
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	uc := newTestUseCase(&stubVerifier{}, store, cache)
	uc.retryAttempts = 1

	audit, err := uc.GetResult(context.Background(), "user-1", "req-2")
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if audit.Score != 0.42 {
		t.Fatalf("expected audit row from store, got %+v", audit)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	store := newStubStore()
	store.metrics = &repository.MetricsAggregation{TotalCount: 8, MatchCount: 6, AverageScore: 0.77}
	uc := newTestUseCase(&stubVerifier{}, store, newMemoryCache())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if summary.TotalRequests != 8 || summary.Matches != 6 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.MatchRate != 0.75 {
		t.Fatalf("unexpected match rate %v", summary.MatchRate)
	}
	if summary.AverageScore != 0.77 {
		t.Fatalf("unexpected average score %v", summary.AverageScore)
	}
}

func TestGetMetricsSummaryEmptyTable(t *testing.T) {
	uc := newTestUseCase(&stubVerifier{}, newStubStore(), newMemoryCache())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if summary.TotalRequests != 0 || summary.MatchRate != 0 {
		t.Fatalf("empty table should yield zero summary, got %+v", summary)
	}
}

func TestFailureKindLabels(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"no face":       {biometric.ErrNoFaceDetected, "no_face_detected"},
		"multiple":      {biometric.ErrMultipleFacesDetected, "multiple_faces_detected"},
		"low quality":   {biometric.ErrLowFaceConfidence, "low_face_confidence"},
		"liveness":      {biometric.ErrLivenessFailed, "liveness_failed"},
		"corrupted":     {template.ErrTemplateCorrupted, "template_corrupted"},
		"plain failure": {errors.New("boom"), "internal"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := failureKind(tc.err); got != tc.want {
				t.Fatalf("failureKind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestResultCacheKeyFormat(t *testing.T) {
	if key := resultCacheKey("abc"); !strings.HasPrefix(key, "face:verification:") {
		t.Fatalf("unexpected cache key %q", key)
	}
}
