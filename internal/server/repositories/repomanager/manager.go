package repomanager

import (
	"context"
	"database/sql"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/auditlog"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/identities"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/submissions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	// EnsureSchema runs the migrations at most once successfully per manager.
	EnsureSchema(context.Context, *sql.DB) error
	Submissions(db dbx.DBTX) submissions.Repository
	AuditLog(db dbx.DBTX) auditlog.Repository
	Identities(db dbx.DBTX) identities.Repository
}
