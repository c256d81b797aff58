package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/repomanager"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/uid"
)

// PersistInput describes one finished attempt.
type PersistInput struct {
	SurveyID string
	Form     *models.FormSubmission
	// Response is the registry document. When it is empty and Err is set, the
	// error is stored in its place.
	Response json.RawMessage
	Err      error
	Location models.Location
	// UID is the logical submission id; a fresh one is minted when empty.
	UID           string
	TrackedEntity string
	Success       bool
}

// SubmissionStore appends attempts to tracker_submissions.
type SubmissionStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewSubmissionStore(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) *SubmissionStore {
	return &SubmissionStore{
		db:          db,
		repomanager: rm,
		logger:      logger.With("module", "submission_store"),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Persist inserts a new record. It never updates an earlier attempt.
func (s *SubmissionStore) Persist(ctx context.Context, in PersistInput) (*models.SubmissionRecord, error) {
	if err := s.repomanager.EnsureSchema(ctx, s.db); err != nil {
		return nil, err
	}

	formData, err := json.Marshal(in.Form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}

	rec := &models.SubmissionRecord{
		ID:          s.newID(),
		UID:         in.UID,
		SurveyID:    in.SurveyID,
		Location:    in.Location,
		FormData:    formData,
		Response:    in.Response,
		Status:      models.SubmissionFailed,
		SubmittedAt: s.now().UTC(),
	}
	if rec.UID == "" {
		rec.UID = uid.Generate()
	}
	if in.Success {
		rec.Status = models.SubmissionSubmitted
		if in.TrackedEntity != "" {
			tei := in.TrackedEntity
			rec.TrackedEntity = &tei
		}
	}
	if len(rec.Response) == 0 && in.Err != nil {
		rec.Response, _ = json.Marshal(map[string]string{"error": in.Err.Error()})
	}

	if err := s.repomanager.Submissions(s.db).Create(ctx, rec); err != nil {
		s.logger.Error(ctx, "failed to persist submission", "uid", rec.UID, "error", err.Error())
		return nil, err
	}
	s.logger.Debug(ctx, "submission persisted", "uid", rec.UID, "id", rec.ID, "status", string(rec.Status))
	return rec, nil
}

// Latest returns the most recent attempt for logicalUID through db, which may be a
// transaction.
func (s *SubmissionStore) Latest(ctx context.Context, db dbx.DBTX, logicalUID string) (*models.SubmissionRecord, error) {
	return s.repomanager.Submissions(db).Latest(ctx, logicalUID)
}

// Attempts returns every stored attempt for logicalUID, oldest first.
func (s *SubmissionStore) Attempts(ctx context.Context, logicalUID string) ([]*models.SubmissionRecord, error) {
	if err := s.repomanager.EnsureSchema(ctx, s.db); err != nil {
		return nil, err
	}
	recs, err := s.repomanager.Submissions(s.db).ListByUID(ctx, logicalUID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, common.ErrNotFound
	}
	return recs, nil
}
