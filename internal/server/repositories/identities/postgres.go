// Package identities reads survey registry configuration from
// survey_registry_configs joined with registry_instances.
package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Resolve(ctx context.Context, surveyID string) (*models.RegistryIdentity, error) {
	query := `
		SELECT c.program_id, c.tracked_entity_type_id, i.instance_key, i.base_url,
			i.username, i.password, i.verify_tls, i.active
		FROM survey_registry_configs c
		JOIN registry_instances i ON i.instance_key = c.instance_key
		WHERE c.survey_id=$1
	`
	var id models.RegistryIdentity
	err := r.db.QueryRowContext(ctx, query, surveyID).Scan(
		&id.ProgramID, &id.TrackedEntityTypeID, &id.InstanceKey, &id.BaseURL,
		&id.Credentials.Username, &id.Credentials.Password, &id.VerifyTLS, &id.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &id, nil
}
