package auditlog

import (
	"context"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// Filter narrows List. A zero Status matches every status.
type Filter struct {
	Status models.AuditStatus
	Limit  int
	Offset int
}

// Repository keeps one row per logical submission.
type Repository interface {
	// Record inserts or replaces the entry for e.SubmissionID. Replacing
	// increments the retry counter; e.Retries is set to the stored value.
	// A SUCCESS row is terminal: Record returns common.ErrAlreadySubmitted
	// and leaves it untouched.
	Record(ctx context.Context, e *models.AuditLogEntry) error
	Get(ctx context.Context, submissionID string) (*models.AuditLogEntry, error)
	List(ctx context.Context, f Filter) ([]*models.AuditLogEntry, error)
}
