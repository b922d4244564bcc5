package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

// AuditRepository stores session audit events.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	prepareAudit(log)
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, ip_address, user_agent, metadata, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :ip_address, :user_agent, :metadata, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// LogAuditRepository writes audit events to the structured log. It serves the
// memory driver where no audit table exists.
type LogAuditRepository struct {
	logger *zap.Logger
}

// NewLogAuditRepository constructs a log backed audit sink.
func NewLogAuditRepository(logger *zap.Logger) *LogAuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAuditRepository{logger: logger.Named("audit")}
}

func (r *LogAuditRepository) Create(_ context.Context, log *models.AuditLog) error {
	prepareAudit(log)
	fields := []zap.Field{
		zap.String("audit_id", log.ID),
		zap.String("action", log.Action),
		zap.String("resource", log.Resource),
		zap.String("ip", log.IPAddress),
		zap.Time("at", log.CreatedAt),
	}
	if log.UserID != nil {
		fields = append(fields, zap.String("user_id", *log.UserID))
	}
	if log.ResourceID != nil {
		fields = append(fields, zap.String("resource_id", *log.ResourceID))
	}
	if len(log.Metadata) > 0 {
		fields = append(fields, zap.ByteString("metadata", log.Metadata))
	}
	r.logger.Info("audit_event", fields...)
	return nil
}

func prepareAudit(log *models.AuditLog) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
}
