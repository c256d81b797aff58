package submissions

import (
	"context"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// Repository stores submission attempts. Records are never updated.
type Repository interface {
	Create(ctx context.Context, rec *models.SubmissionRecord) error
	Latest(ctx context.Context, uid string) (*models.SubmissionRecord, error)
	ListByUID(ctx context.Context, uid string) ([]*models.SubmissionRecord, error)
}
