// Package usecase joins the biometric pipeline to the host application's
// persistence: template storage, verification audits and short-lived result
// caching. The biometric packages know nothing about this layer.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/biometric"
	"github.com/example/face-verify/internal/faceprovider"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/template"
)

// ErrTemplateNotEnrolled is returned by VerifyUser when the user has no
// stored template yet.
var ErrTemplateNotEnrolled = repository.ErrTemplateNotFound

const resultCacheTTL = 5 * time.Minute

// Verifier is the slice of the biometric service used here; narrowed for
// testability.
type Verifier interface {
	Enroll(ctx context.Context, image []byte) (template.EncryptedTemplate, error)
	Verify(ctx context.Context, image []byte, stored template.EncryptedTemplate) (biometric.VerificationResult, error)
}

// TemplateStore is the persistence surface the flows need.
type TemplateStore interface {
	UpsertTemplate(ctx context.Context, userID, encrypted string) error
	FindTemplateByUser(ctx context.Context, userID string) (*repository.FaceTemplate, error)
	SaveAudit(ctx context.Context, audit *repository.VerificationAudit) error
	FindAuditByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationAudit, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// FaceUseCase orchestrates enroll/verify against storage and cache.
type FaceUseCase struct {
	verifier       Verifier
	store          TemplateStore
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewFaceUseCase constructs the host-boundary flow.
func NewFaceUseCase(verifier Verifier, store TemplateStore, cache Cache, logger *zap.Logger) *FaceUseCase {
	return &FaceUseCase{
		verifier:       verifier,
		store:          store,
		cache:          cache,
		logger:         logger.Named("face_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

type cachedResult struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Score     float64   `json:"score"`
	IsMatch   bool      `json:"is_match"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrollUser runs the enrollment pipeline and persists the encrypted
// template for the user, replacing any previous enrollment.
func (uc *FaceUseCase) EnrollUser(ctx context.Context, userID string, image []byte) (string, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll_user", requestID)

	encrypted, err := uc.verifier.Enroll(ctx, image)
	if err != nil {
		opLogger.Warn("enrollment pipeline failed", zap.Error(err), zap.String("user_id", userID))
		return "", err
	}

	if err := uc.store.UpsertTemplate(ctx, userID, string(encrypted)); err != nil {
		opLogger.Error("failed to persist template", zap.Error(err), zap.String("user_id", userID))
		return "", err
	}

	opLogger.Info("user enrolled", zap.String("user_id", userID))
	return requestID, nil
}

// VerifyUser loads the user's template, runs the verification pipeline,
// writes an audit row and caches the outcome. Pipeline failures are audited
// with their kind and returned unchanged.
func (uc *FaceUseCase) VerifyUser(ctx context.Context, userID string, image []byte) (string, biometric.VerificationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_user", requestID)

	stored, err := uc.store.FindTemplateByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			opLogger.Warn("verify without enrollment", zap.String("user_id", userID))
			return "", biometric.VerificationResult{}, ErrTemplateNotEnrolled
		}
		opLogger.Error("failed to load template", zap.Error(err), zap.String("user_id", userID))
		return "", biometric.VerificationResult{}, err
	}

	result, err := uc.verifier.Verify(ctx, image, template.EncryptedTemplate(stored.Template))
	audit := &repository.VerificationAudit{
		RequestID: requestID,
		UserID:    userID,
		Score:     result.Confidence,
		IsMatch:   result.IsMatch,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		audit.FailureKind = failureKind(err)
		if auditErr := uc.store.SaveAudit(ctx, audit); auditErr != nil {
			opLogger.Error("failed to audit failed verification", zap.Error(auditErr))
		}
		opLogger.Warn("verification pipeline failed", zap.Error(err), zap.String("user_id", userID))
		return "", biometric.VerificationResult{}, err
	}

	if auditErr := uc.store.SaveAudit(ctx, audit); auditErr != nil {
		opLogger.Error("failed to audit verification", zap.Error(auditErr))
		return "", biometric.VerificationResult{}, auditErr
	}

	uc.cacheResult(ctx, opLogger, requestID, userID, result)

	return requestID, result, nil
}

// GetResult retrieves a recent verification outcome, preferring the cache.
func (uc *FaceUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationAudit, error) {
	cacheKey := resultCacheKey(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedResult
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.VerificationAudit{
				RequestID: payload.RequestID,
				UserID:    payload.UserID,
				Score:     payload.Score,
				IsMatch:   payload.IsMatch,
				CreatedAt: payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.store.FindAuditByRequestIDAndUser(ctx, requestID, userID)
}

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests int64   `json:"total_requests"`
	Matches       int64   `json:"matches"`
	MatchRate     float64 `json:"match_rate"`
	AverageScore  float64 `json:"average_score"`
}

// GetMetricsSummary aggregates verification metrics from audit rows.
func (uc *FaceUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	agg, err := uc.store.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests: agg.TotalCount,
		Matches:       agg.MatchCount,
		AverageScore:  agg.AverageScore,
	}
	if agg.TotalCount > 0 {
		summary.MatchRate = float64(agg.MatchCount) / float64(agg.TotalCount)
	}
	return summary, nil
}

func (uc *FaceUseCase) cacheResult(ctx context.Context, opLogger *zap.Logger, requestID, userID string, result biometric.VerificationResult) {
	payload := cachedResult{
		RequestID: requestID,
		UserID:    userID,
		Score:     result.Confidence,
		IsMatch:   result.IsMatch,
		CreatedAt: time.Now().UTC(),
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		opLogger.Warn("failed to serialize result for cache", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultCacheKey(requestID), string(serialized), resultCacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}
}

func resultCacheKey(requestID string) string {
	return fmt.Sprintf("face:verification:%s", requestID)
}

// failureKind labels a pipeline failure for the audit row.
func failureKind(err error) string {
	switch {
	case errors.Is(err, biometric.ErrNoFaceDetected):
		return "no_face_detected"
	case errors.Is(err, biometric.ErrMultipleFacesDetected):
		return "multiple_faces_detected"
	case errors.Is(err, biometric.ErrLowFaceConfidence):
		return "low_face_confidence"
	case errors.Is(err, biometric.ErrLivenessFailed):
		return "liveness_failed"
	case errors.Is(err, template.ErrTemplateCorrupted):
		return "template_corrupted"
	default:
		if kind := faceprovider.KindOf(err); kind != "" {
			return "provider_" + string(kind)
		}
		return "internal"
	}
}

func (uc *FaceUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *FaceUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
