package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/metrics"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/auditlog"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/identities"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/submissions"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/storage"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/attachments"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/payload"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/registry"
)

// --- repositories ---

type fakeSubmissions struct {
	mu        sync.Mutex
	records   []*models.SubmissionRecord
	createErr error
}

func (f *fakeSubmissions) Create(ctx context.Context, rec *models.SubmissionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeSubmissions) Latest(ctx context.Context, uid string) (*models.SubmissionRecord, error) {
	all, _ := f.ListByUID(ctx, uid)
	if len(all) == 0 {
		return nil, common.ErrNotFound
	}
	return all[len(all)-1], nil
}

func (f *fakeSubmissions) ListByUID(_ context.Context, uid string) ([]*models.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SubmissionRecord
	for _, r := range f.records {
		if r.UID == uid {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeAudit struct {
	mu        sync.Mutex
	rows      map[string]*models.AuditLogEntry
	recordErr error
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{rows: map[string]*models.AuditLogEntry{}}
}

func (f *fakeAudit) Record(ctx context.Context, e *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if prev, ok := f.rows[e.SubmissionID]; ok {
		if prev.Status == models.AuditSuccess {
			return common.ErrAlreadySubmitted
		}
		e.Retries = prev.Retries + 1
	} else {
		e.Retries = 0
	}
	cp := *e
	f.rows[e.SubmissionID] = &cp
	return nil
}

func (f *fakeAudit) status(id string) models.AuditStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.rows[id]; ok {
		return e.Status
	}
	return ""
}

func (f *fakeAudit) Get(_ context.Context, id string) (*models.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeAudit) List(_ context.Context, flt auditlog.Filter) ([]*models.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.AuditLogEntry, 0)
	for _, e := range f.rows {
		if flt.Status == "" || e.Status == flt.Status {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeIdentities struct {
	bySurvey map[string]*models.RegistryIdentity
	err      error
}

func (f *fakeIdentities) Resolve(_ context.Context, surveyID string) (*models.RegistryIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.bySurvey[surveyID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

type fakeRepoManager struct {
	subs  *fakeSubmissions
	audit *fakeAudit
	ids   *fakeIdentities
	// sqlRepos serves submissions and the audit log from the Postgres
	// repositories over the handle they are given.
	sqlRepos bool

	mu          sync.Mutex
	ensureCalls int
	ensureErr   error
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) EnsureSchema(context.Context, *sql.DB) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	return m.ensureErr
}

func (m *fakeRepoManager) Submissions(db dbx.DBTX) submissions.Repository {
	if m.sqlRepos {
		return submissions.NewPostgresRepository(db)
	}
	return m.subs
}

func (m *fakeRepoManager) AuditLog(db dbx.DBTX) auditlog.Repository {
	if m.sqlRepos {
		return auditlog.NewPostgresRepository(db)
	}
	return m.audit
}

func (m *fakeRepoManager) Identities(dbx.DBTX) identities.Repository { return m.ids }

// --- registry ---

type fakeClient struct {
	mu        sync.Mutex
	submitted []*payload.Payload
	uploaded  []string
	respond   func(p *payload.Payload) (*registry.RawResponse, error)
	failFiles map[string]bool
	onUpload  func()
}

func (c *fakeClient) Submit(_ context.Context, p *payload.Payload) (*registry.RawResponse, error) {
	c.mu.Lock()
	c.submitted = append(c.submitted, p)
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return jsonResponse(200, `{"status":"OK"}`), nil
	}
	return respond(p)
}

func (c *fakeClient) UploadFileResource(ctx context.Context, filename, _ string, data []byte) (string, error) {
	if c.onUpload != nil {
		c.onUpload()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFiles[filename] {
		return "", errors.New("upload refused")
	}
	c.uploaded = append(c.uploaded, filename+":"+string(data))
	return "fr-" + filename, nil
}

func jsonResponse(status int, body string) *registry.RawResponse {
	r := &registry.RawResponse{HTTPStatus: status, Raw: []byte(body)}
	var m map[string]any
	if json.Unmarshal([]byte(body), &m) == nil {
		r.Body = m
	}
	return r
}

// --- fixture ---

var testIdentity = &models.RegistryIdentity{
	ProgramID:           "PROG1",
	TrackedEntityTypeID: "TET1",
	InstanceKey:         "main",
	BaseURL:             "https://registry.example.org",
	Credentials:         models.Credentials{Username: "u", Password: "p"},
	VerifyTLS:           true,
	Active:              true,
}

type fixture struct {
	pipeline     *Pipeline
	rm           *fakeRepoManager
	client       *fakeClient
	store        *storage.Memory
	db           *sql.DB
	mock         sqlmock.Sqlmock
	clientBuilds atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		rm: &fakeRepoManager{
			subs:  &fakeSubmissions{},
			audit: newFakeAudit(),
			ids:   &fakeIdentities{bySurvey: map[string]*models.RegistryIdentity{"survey1": testIdentity}},
		},
		client: &fakeClient{},
		store:  storage.NewMemory(),
		db:     db,
		mock:   mock,
	}

	logger := logging.Discard()
	resolver := attachments.NewResolver(f.store, 2, storage.NewKey, logger)
	factory := func(*models.RegistryIdentity) RegistryClient {
		f.clientBuilds.Add(1)
		return f.client
	}
	f.pipeline = NewPipeline(db, f.rm, resolver, factory, metrics.New(), logger)

	n := 0
	f.pipeline.builder = &payload.Builder{
		NewUID: func() string {
			n++
			return fmt.Sprintf("uid%08d", n)
		},
		Now: func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
	}
	return f
}

func basicForm() *models.FormSubmission {
	return &models.FormSubmission{
		Attributes: map[string]models.Value{"attr1": models.Text("John")},
		StageEvents: []models.StageEvent{{
			StageID: "STAGE1", OccurrenceKey: "0",
			Values: map[string]models.Value{"de1": models.Number("42")},
		}},
		Location: models.Location{FacilityID: "f1", FacilityName: "Clinic", OrgUnitRef: "OU1"},
	}
}
