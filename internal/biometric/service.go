// Package biometric sequences the face verification pipeline: detection,
// quality gating, liveness, template codec and similarity scoring. It holds
// no cross-call state and persists nothing; the encrypted template it
// returns from Enroll is the caller's to store.
package biometric

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/config"
	"github.com/example/face-verify/internal/faceprovider"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/scoring"
	"github.com/example/face-verify/internal/template"
)

// Pipeline stage names used in logs.
const (
	stageDetecting       = "detecting"
	stageQualityChecking = "quality_checking"
	stageLivenessCheck   = "liveness_checking"
	stageEncoding        = "encoding"
	stageDecoding        = "decoding"
	stageScoring         = "scoring"
)

// authRetryBackoff is the single pause before the one allowed retry after
// an auth-kind provider failure.
const authRetryBackoff = 500 * time.Millisecond

// VerificationResult is the outcome of a Verify call.
type VerificationResult struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
}

// Service runs Enroll and Verify as independent sequential pipelines. It is
// safe for concurrent use; the credential cache is the only shared state.
type Service struct {
	provider faceprovider.Client
	creds    *faceprovider.CredentialCache
	gate     *Gate
	codec    *template.Codec
	scorer   *scoring.Scorer
	policy   config.Policy
	logger   *zap.Logger
}

// NewService wires the pipeline components together.
func NewService(provider faceprovider.Client, creds *faceprovider.CredentialCache, codec *template.Codec, policy config.Policy, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		creds:    creds,
		gate:     NewGate(policy.EnrollConfidence),
		codec:    codec,
		scorer:   scoring.NewScorer(policy.AgeDivisor, policy.LandmarkDivisor, policy.GenderBonus, policy.MatchThreshold),
		policy:   policy,
		logger:   logger.Named("biometric"),
	}
}

// Enroll turns a photograph into an encrypted template. The caller is
// responsible for persisting the returned template against an identity.
func (s *Service) Enroll(ctx context.Context, image []byte) (template.EncryptedTemplate, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "biometric.enroll", requestID)

	face, err := s.detectSingle(ctx, opLogger, image, s.gate.CheckForEnrollment)
	if err != nil {
		return "", err
	}

	opLogger.Debug("encoding template", zap.String("stage", stageEncoding), zap.String("face_token", face.FaceToken))
	encrypted, err := s.codec.Encode(template.NewFeatureRecord(face))
	if err != nil {
		opLogger.Error("template encoding failed", zap.Error(err))
		return "", err
	}

	opLogger.Info("enrollment complete", zap.Float64("confidence", face.Confidence))
	return encrypted, nil
}

// Verify decides whether the photograph belongs to the person the stored
// template was enrolled for. Liveness gates scoring: a sub-threshold
// liveness score fails the call before the stored template is even decoded.
func (s *Service) Verify(ctx context.Context, image []byte, stored template.EncryptedTemplate) (VerificationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "biometric.verify", requestID)

	face, err := s.detectSingle(ctx, opLogger, image, s.gate.CheckForVerification)
	if err != nil {
		return VerificationResult{}, err
	}

	opLogger.Debug("checking liveness", zap.String("stage", stageLivenessCheck))
	liveness, err := withAuthRetryValue(ctx, s, func(token string) (float64, error) {
		return s.provider.CheckLiveness(ctx, token, image)
	})
	if err != nil {
		opLogger.Error("liveness check failed", zap.Error(err))
		return VerificationResult{}, err
	}
	if liveness < s.policy.LivenessThreshold {
		opLogger.Warn("liveness below threshold", zap.Float64("liveness", liveness))
		return VerificationResult{}, ErrLivenessFailed
	}

	opLogger.Debug("decoding stored template", zap.String("stage", stageDecoding))
	enrolled, err := s.codec.Decode(stored)
	if err != nil {
		opLogger.Error("stored template unreadable", zap.Error(err))
		return VerificationResult{}, err
	}

	opLogger.Debug("scoring", zap.String("stage", stageScoring))
	current := template.NewFeatureRecord(face)
	score := s.scorer.Score(current, enrolled)
	result := VerificationResult{IsMatch: s.scorer.IsMatch(score), Confidence: score}

	opLogger.Info("verification complete",
		zap.Bool("is_match", result.IsMatch),
		zap.Float64("score", score),
		zap.Float64("liveness", liveness))
	return result, nil
}

// detectSingle runs detection plus the given gate rule.
func (s *Service) detectSingle(ctx context.Context, opLogger *zap.Logger, image []byte, gate func([]faceprovider.DetectedFace) (faceprovider.DetectedFace, error)) (faceprovider.DetectedFace, error) {
	opLogger.Debug("detecting faces", zap.String("stage", stageDetecting))
	faces, err := withAuthRetryValue(ctx, s, func(token string) ([]faceprovider.DetectedFace, error) {
		return s.provider.Detect(ctx, token, image)
	})
	if err != nil {
		opLogger.Error("detection failed", zap.Error(err))
		return faceprovider.DetectedFace{}, err
	}

	opLogger.Debug("applying quality gate", zap.String("stage", stageQualityChecking), zap.Int("face_count", len(faces)))
	face, err := gate(faces)
	if err != nil {
		opLogger.Warn("quality gate rejected image", zap.Error(err), zap.Int("face_count", len(faces)))
		return faceprovider.DetectedFace{}, err
	}
	return face, nil
}

// withAuthRetryValue obtains a token, runs the call, and retries exactly
// once with a short backoff after an auth-kind failure, forcing a
// re-exchange first. Any other failure kind returns immediately.
func withAuthRetryValue[T any](ctx context.Context, s *Service, call func(token string) (T, error)) (T, error) {
	var zero T

	token, err := s.creds.Token(ctx)
	if err != nil {
		return zero, err
	}

	value, err := call(token)
	if err == nil || !faceprovider.IsKind(err, faceprovider.KindAuth) {
		return value, err
	}

	select {
	case <-time.After(authRetryBackoff):
	case <-ctx.Done():
		return zero, faceprovider.NewProviderError(faceprovider.KindRequest, "biometric.retry", ctx.Err())
	}

	s.creds.Invalidate()
	token, err = s.creds.Token(ctx)
	if err != nil {
		return zero, err
	}
	return call(token)
}

// CompareWithProvider exposes the provider's own pairwise metric for
// callers holding two photographs. The value is provider-scaled and serves
// only as a secondary cross-check; it never feeds the Verify decision,
// which uses the local scorer exclusively.
func (s *Service) CompareWithProvider(ctx context.Context, imageA, imageB []byte) (float64, error) {
	return withAuthRetryValue(ctx, s, func(token string) (float64, error) {
		return s.provider.MatchPair(ctx, token, imageA, imageB)
	})
}
