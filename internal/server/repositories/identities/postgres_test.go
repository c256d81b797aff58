package identities

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const q = `(?s)FROM\s+survey_registry_configs\s+c\s+JOIN\s+registry_instances\s+i\s+ON\s+i\.instance_key\s*=\s*c\.instance_key\s+WHERE\s+c\.survey_id=\$1`

func TestResolve_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(q).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"program_id", "tracked_entity_type_id", "instance_key", "base_url",
			"username", "password", "verify_tls", "active"}).
			AddRow("prg1", "tet1", "uganda", "https://hmis.example.org", "admin", "secret", false, true))

	got, err := repo.Resolve(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "prg1", got.ProgramID)
	assert.Equal(t, "tet1", got.TrackedEntityTypeID)
	assert.Equal(t, "https://hmis.example.org", got.BaseURL)
	assert.Equal(t, "admin", got.Credentials.Username)
	assert.False(t, got.VerifyTLS)
	assert.True(t, got.Active)
}

func TestResolve_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(q).WithArgs("s2").WillReturnError(sql.ErrNoRows)

	_, err := repo.Resolve(context.Background(), "s2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestResolve_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(q).WithArgs("s1").WillReturnError(errors.New("db err"))

	_, err := repo.Resolve(context.Background(), "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}
