package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/auditlog"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/repomanager"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// AuditLog keeps the one mutable row per logical submission.
type AuditLog struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewAuditLog(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) *AuditLog {
	return &AuditLog{
		db:          db,
		repomanager: rm,
		logger:      logger.With("module", "audit_log"),
		now:         time.Now,
	}
}

// Record upserts the entry for submissionID. A repeated call replaces the
// status, payload, response and message and increments the retry counter.
func (a *AuditLog) Record(ctx context.Context, submissionID string, status models.AuditStatus,
	payloadSent, response json.RawMessage, message string) (*models.AuditLogEntry, error) {

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown audit status %q", common.ErrValidation, status)
	}
	if err := a.repomanager.EnsureSchema(ctx, a.db); err != nil {
		return nil, err
	}

	e := &models.AuditLogEntry{
		SubmissionID: submissionID,
		Status:       status,
		PayloadSent:  payloadSent,
		Response:     response,
		Message:      message,
		SubmittedAt:  a.now().UTC(),
	}
	if err := a.repomanager.AuditLog(a.db).Record(ctx, e); err != nil {
		a.logger.Error(ctx, "failed to record audit entry", "submission_id", submissionID, "error", err.Error())
		return nil, err
	}
	return e, nil
}

func (a *AuditLog) Get(ctx context.Context, submissionID string) (*models.AuditLogEntry, error) {
	if err := a.repomanager.EnsureSchema(ctx, a.db); err != nil {
		return nil, err
	}
	return a.repomanager.AuditLog(a.db).Get(ctx, submissionID)
}

func (a *AuditLog) List(ctx context.Context, f auditlog.Filter) ([]*models.AuditLogEntry, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown audit status %q", common.ErrValidation, f.Status)
	}
	if err := a.repomanager.EnsureSchema(ctx, a.db); err != nil {
		return nil, err
	}
	return a.repomanager.AuditLog(a.db).List(ctx, f)
}
