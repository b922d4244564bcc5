package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/pkg/jobs"
)

const auditJobType = "auth_audit"

type auditDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditEvent describes a session event for the audit trail.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	Meta      models.ClientMeta
	Details   map[string]interface{}
}

// AuditService hands session events to the background audit queue. Recording
// never blocks or fails the request that produced the event.
type AuditService struct {
	queue   auditDispatcher
	metrics *MetricsService
	logger  *zap.Logger
	clock   Clock
}

// NewAuditService constructs the audit recorder.
func NewAuditService(queue auditDispatcher, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{queue: queue, metrics: metrics, logger: logger, clock: SystemClock{}}
}

// Record enqueues event; a full or stopped queue drops it with a warning.
func (s *AuditService) Record(_ context.Context, event AuditEvent) {
	if s == nil || s.queue == nil {
		return
	}
	entry, err := s.toLog(event)
	if err != nil {
		s.logger.Warn("failed to build audit entry", zap.String("action", event.Action), zap.Error(err))
		return
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry}); err != nil {
		s.metrics.RecordAuditDropped()
		s.logger.Warn("audit event dropped", zap.String("action", event.Action), zap.Error(err))
	}
}

func (s *AuditService) toLog(event AuditEvent) (*models.AuditLog, error) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    event.Action,
		Resource:  models.AuditResourceSession,
		IPAddress: event.Meta.IP,
		UserAgent: event.Meta.UserAgent,
		CreatedAt: s.clock.Now(),
	}
	if event.UserID != "" {
		userID := event.UserID
		entry.UserID = &userID
	}
	if event.SessionID != "" {
		sessionID := event.SessionID
		entry.ResourceID = &sessionID
	}
	details := map[string]interface{}{}
	for k, v := range event.Details {
		details[k] = v
	}
	if event.Meta.Device != "" {
		details["device"] = event.Meta.Device
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal audit details: %w", err)
		}
		entry.Metadata = raw
	}
	return entry, nil
}

// AuditWorker persists queued audit entries.
type AuditWorker struct {
	writer  auditWriter
	timeout time.Duration
}

// NewAuditWorker constructs a worker writing through writer.
func NewAuditWorker(writer auditWriter, timeout time.Duration) *AuditWorker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &AuditWorker{writer: writer, timeout: timeout}
}

// Handle processes a queue job.
func (w *AuditWorker) Handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.writer.Create(ctx, entry)
}
