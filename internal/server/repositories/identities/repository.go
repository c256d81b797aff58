package identities

import (
	"context"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

// Repository resolves the registry destination configured for a survey.
type Repository interface {
	// Resolve returns common.ErrNotFound when the survey has no configuration.
	Resolve(ctx context.Context, surveyID string) (*models.RegistryIdentity, error)
}
