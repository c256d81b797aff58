// Package auditlog persists the per-submission audit row in tracker_submission_log.
package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// DefaultLimit applies when Filter.Limit is not positive.
const DefaultLimit = 50

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Record upserts e. A row that already reached SUCCESS is never overwritten;
// Record then returns common.ErrAlreadySubmitted.
func (r *PostgresRepository) Record(ctx context.Context, e *models.AuditLogEntry) error {
	query := `
		INSERT INTO tracker_submission_log (submission_id, status, payload_sent, dhis2_response, dhis2_message, retries, submitted_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (submission_id) DO UPDATE SET
			status = EXCLUDED.status,
			payload_sent = EXCLUDED.payload_sent,
			dhis2_response = EXCLUDED.dhis2_response,
			dhis2_message = EXCLUDED.dhis2_message,
			submitted_at = EXCLUDED.submitted_at,
			retries = tracker_submission_log.retries + 1
		WHERE tracker_submission_log.status <> 'SUCCESS'
		RETURNING retries
	`
	var retries int
	err := r.db.QueryRowContext(ctx, query,
		e.SubmissionID, string(e.Status), nullJSON(e.PayloadSent), nullJSON(e.Response), e.Message, e.SubmittedAt,
	).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrAlreadySubmitted
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	e.Retries = retries
	return nil
}

const selectColumns = `submission_id, status, payload_sent, dhis2_response, dhis2_message, retries, submitted_at`

func (r *PostgresRepository) Get(ctx context.Context, submissionID string) (*models.AuditLogEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM tracker_submission_log WHERE submission_id=$1`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*models.AuditLogEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := max(f.Offset, 0)

	var (
		rows *sql.Rows
		err  error
	)
	if f.Status != "" {
		query := `SELECT ` + selectColumns + ` FROM tracker_submission_log
			WHERE status=$1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.db.QueryContext(ctx, query, string(f.Status), limit, offset)
	} else {
		query := `SELECT ` + selectColumns + ` FROM tracker_submission_log
			ORDER BY submitted_at DESC LIMIT $1 OFFSET $2`
		rows, err = r.db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.AuditLogEntry, error) {
	var (
		e                 models.AuditLogEntry
		status            string
		payload, response []byte
	)
	if err := s.Scan(&e.SubmissionID, &status, &payload, &response, &e.Message, &e.Retries, &e.SubmittedAt); err != nil {
		return nil, err
	}
	e.Status = models.AuditStatus(status)
	e.PayloadSent = payload
	e.Response = response
	return &e, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
