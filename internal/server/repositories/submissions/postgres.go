// Package submissions persists submission attempts in tracker_submissions.
package submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, uid, survey_id, tracked_entity_instance, facility_id, facility_name, org_unit,
		form_data, dhis2_response, submission_status, submitted_at`

// Create inserts one attempt. Several rows may share a uid.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.SubmissionRecord) error {
	query := `
		INSERT INTO tracker_submissions (id, uid, survey_id, tracked_entity_instance, facility_id, facility_name, org_unit,
			form_data, dhis2_response, submission_status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UID, rec.SurveyID, rec.TrackedEntity,
		rec.Location.FacilityID, rec.Location.FacilityName, rec.Location.OrgUnitRef,
		[]byte(rec.FormData), nullJSON(rec.Response), string(rec.Status), rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Latest returns the most recent attempt for uid.
func (r *PostgresRepository) Latest(ctx context.Context, uid string) (*models.SubmissionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM tracker_submissions
		WHERE uid=$1 ORDER BY submitted_at DESC LIMIT 1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select submission: %w", err)
	}
	return rec, nil
}

// ListByUID returns every attempt for uid, oldest first.
func (r *PostgresRepository) ListByUID(ctx context.Context, uid string) ([]*models.SubmissionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM tracker_submissions
		WHERE uid=$1 ORDER BY submitted_at`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to select submissions: %w", err)
	}
	defer rows.Close()

	var result []*models.SubmissionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.SubmissionRecord, error) {
	var (
		rec                               models.SubmissionRecord
		tei, facilityID, facilityName, ou sql.NullString
		formData, response                []byte
		status                            string
	)
	err := s.Scan(&rec.ID, &rec.UID, &rec.SurveyID, &tei, &facilityID, &facilityName, &ou,
		&formData, &response, &status, &rec.SubmittedAt)
	if err != nil {
		return nil, err
	}
	if tei.Valid {
		rec.TrackedEntity = &tei.String
	}
	rec.Location = models.Location{FacilityID: facilityID.String, FacilityName: facilityName.String, OrgUnitRef: ou.String}
	rec.FormData = formData
	rec.Response = response
	rec.Status = models.SubmissionStatus(status)
	return &rec, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
