package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/face-verify/internal/logging"
)

// ErrTemplateNotFound means no template has been enrolled for the user.
var ErrTemplateNotFound = errors.New("no face template enrolled for user")

// FaceTemplate is the persisted encrypted template for a user. The template
// column holds the opaque iv:ciphertext string produced by the codec; this
// layer never sees plaintext biometric data.
type FaceTemplate struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     string    `gorm:"column:user_id;uniqueIndex;size:64"`
	Template   string    `gorm:"column:template;type:text"`
	EnrolledAt time.Time `gorm:"column:enrolled_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (FaceTemplate) TableName() string {
	return "face_templates"
}

// VerificationAudit is one row per verification attempt, successful or not.
type VerificationAudit struct {
	ID          uint      `gorm:"primaryKey"`
	RequestID   string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID      string    `gorm:"column:user_id;index;size:64"`
	Score       float64   `gorm:"column:score"`
	IsMatch     bool      `gorm:"column:is_match"`
	FailureKind string    `gorm:"column:failure_kind;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationAudit) TableName() string {
	return "verification_audits"
}

// MetricsAggregation summarizes the audit table.
type MetricsAggregation struct {
	TotalCount   int64
	MatchCount   int64
	AverageScore float64
}

// TemplateRepository persists encrypted templates and verification audits.
// Transient database errors are retried with exponential backoff.
type TemplateRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewTemplateRepository creates a new repository instance.
func NewTemplateRepository(db *gorm.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:             db,
		logger:         logger.Named("template_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *TemplateRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&FaceTemplate{}, &VerificationAudit{})
}

// UpsertTemplate stores the user's template, replacing any previous
// enrollment.
func (r *TemplateRepository) UpsertTemplate(ctx context.Context, userID, encrypted string) error {
	now := time.Now().UTC()
	row := &FaceTemplate{UserID: userID, Template: encrypted, EnrolledAt: now, UpdatedAt: now}
	return r.executeWithRetry(ctx, "repository.upsert_template", userID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"template", "updated_at"}),
		}).Create(row).Error
	})
}

// FindTemplateByUser returns the user's stored template.
func (r *TemplateRepository) FindTemplateByUser(ctx context.Context, userID string) (*FaceTemplate, error) {
	var row FaceTemplate
	err := r.executeWithRetry(ctx, "repository.find_template", userID, func() error {
		return r.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &row, nil
}

// SaveAudit persists one verification attempt.
func (r *TemplateRepository) SaveAudit(ctx context.Context, audit *VerificationAudit) error {
	return r.executeWithRetry(ctx, "repository.save_audit", audit.RequestID, func() error {
		return r.db.WithContext(ctx).Create(audit).Error
	})
}

// FindAuditByRequestIDAndUser retrieves one audit row owned by the user.
func (r *TemplateRepository) FindAuditByRequestIDAndUser(ctx context.Context, requestID, userID string) (*VerificationAudit, error) {
	var row VerificationAudit
	err := r.executeWithRetry(ctx, "repository.find_audit", requestID, func() error {
		return r.db.WithContext(ctx).First(&row, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AggregateMetrics summarizes verification outcomes across all users.
func (r *TemplateRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationAudit{}).
			Select("COUNT(*) AS total_count, COALESCE(SUM(CASE WHEN is_match THEN 1 ELSE 0 END), 0) AS match_count, COALESCE(AVG(score), 0) AS average_score").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry retries fn on transient errors only; permanent failures
// return immediately wrapped as OperationError.
func (r *TemplateRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
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

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
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
