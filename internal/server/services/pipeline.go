// Package services orchestrates a submission from identity resolution to the
// audit log, and replays failed submissions on request.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/dbx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/metrics"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/repomanager"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/attachments"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/payload"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/registry"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/uid"
)

const messageEmptyPayload = "payload has no attributes or events; not sent"

// RegistryClient is the part of registry.Client the pipeline uses.
type RegistryClient interface {
	attachments.Uploader
	Submit(ctx context.Context, p *payload.Payload) (*registry.RawResponse, error)
}

// ClientFactory builds a client for one attempt.
type ClientFactory func(identity *models.RegistryIdentity) RegistryClient

// NewRegistryClientFactory returns a factory of registry.Client with timeout.
func NewRegistryClientFactory(timeout time.Duration) ClientFactory {
	return func(identity *models.RegistryIdentity) RegistryClient {
		return registry.NewClient(identity, registry.Options{Timeout: timeout})
	}
}

// PersistenceError reports that an attempt could not be recorded. The
// registry outcome in the same Result still holds.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Result is the outcome of one attempt.
type Result struct {
	// RecordID is the id of the stored attempt; empty if it was not stored.
	RecordID string
	// LogicalUID keys the audit log and is stable across retries.
	LogicalUID    string
	Status        models.AuditStatus
	Outcome       registry.Outcome
	TrackedEntity string
	Retries       int
	// FailedAttachments lists references that could not be uploaded.
	FailedAttachments []string
	// UnreplayableAttachments lists references with no local copy; a retry
	// cannot resend them.
	UnreplayableAttachments []string
	PersistErr              error
}

// Pipeline runs submissions. It is safe for concurrent use.
type Pipeline struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	resolver    *attachments.Resolver
	builder     *payload.Builder
	newClient   ClientFactory
	store       *SubmissionStore
	audit       *AuditLog
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewPipeline(db *sql.DB, rm repomanager.RepositoryManager, resolver *attachments.Resolver,
	newClient ClientFactory, m *metrics.Metrics, logger logging.Logger) *Pipeline {

	return &Pipeline{
		db:          db,
		repomanager: rm,
		resolver:    resolver,
		builder:     payload.NewBuilder(),
		newClient:   newClient,
		store:       NewSubmissionStore(db, rm, logger),
		audit:       NewAuditLog(db, rm, logger),
		metrics:     m,
		logger:      logger.With("module", "pipeline"),
	}
}

// AuditLog exposes the audit log for read access.
func (p *Pipeline) AuditLog() *AuditLog {
	return p.audit
}

// Attempts returns the attempt history of submissionID, oldest first.
func (p *Pipeline) Attempts(ctx context.Context, submissionID string) ([]*models.SubmissionRecord, error) {
	if !uid.Valid(submissionID) {
		return nil, fmt.Errorf("%w: malformed submission id %q", common.ErrValidation, submissionID)
	}
	return p.store.Attempts(ctx, submissionID)
}

type attempt struct {
	surveyID      string
	form          *models.FormSubmission
	logicalUID    string
	trackedEntity string
}

// Submit sends form for surveyID. An error is returned only when the survey
// has no usable registry configuration or the survey lookup itself fails;
// every other failure is reported through the Result and recorded.
func (p *Pipeline) Submit(ctx context.Context, surveyID string, form *models.FormSubmission) (*Result, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: empty submission", common.ErrValidation)
	}
	identity, err := p.resolveIdentity(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, identity, attempt{surveyID: surveyID, form: form}), nil
}

// Retry replays the latest stored attempt of submissionID. Submissions whose
// audit status is SUCCESS are refused and left untouched.
func (p *Pipeline) Retry(ctx context.Context, submissionID string) (*Result, error) {
	if !uid.Valid(submissionID) {
		return nil, fmt.Errorf("%w: malformed submission id %q", common.ErrValidation, submissionID)
	}
	if err := p.repomanager.EnsureSchema(ctx, p.db); err != nil {
		return nil, err
	}

	var (
		entry *models.AuditLogEntry
		rec   *models.SubmissionRecord
	)
	err := dbx.ReadSnapshot(ctx, p.db, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		entry, err = p.repomanager.AuditLog(tx).Get(ctx, submissionID)
		if err != nil {
			return err
		}
		if entry.Status == models.AuditSuccess {
			return common.ErrAlreadySubmitted
		}
		rec, err = p.store.Latest(ctx, tx, submissionID)
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("no stored attempt for %s: %w", submissionID, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	form, err := rec.Form()
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored submission: %w", err)
	}
	identity, err := p.resolveIdentity(ctx, rec.SurveyID)
	if err != nil {
		return nil, err
	}

	p.metrics.ObserveRetry()
	p.logger.Info(ctx, "retrying submission", "submission_id", submissionID, "previous_status", string(entry.Status))

	return p.run(ctx, identity, attempt{
		surveyID:      rec.SurveyID,
		form:          form,
		logicalUID:    submissionID,
		trackedEntity: previousTrackedEntity(rec, entry),
	}), nil
}

func (p *Pipeline) resolveIdentity(ctx context.Context, surveyID string) (*models.RegistryIdentity, error) {
	if err := p.repomanager.EnsureSchema(ctx, p.db); err != nil {
		return nil, err
	}
	identity, err := p.repomanager.Identities(p.db).Resolve(ctx, surveyID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: survey %s has no registry configuration", common.ErrConfig, surveyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry identity: %w", err)
	}
	if !identity.Active {
		return nil, fmt.Errorf("%w: registry instance %s is inactive", common.ErrConfig, identity.InstanceKey)
	}
	return identity, nil
}

// run executes one attempt and always records it. Once dispatched the attempt
// is detached from the caller: uploads, the registry call and both writes run
// to completion under their own timeouts.
func (p *Pipeline) run(ctx context.Context, identity *models.RegistryIdentity, a attempt) *Result {
	ctx = context.WithoutCancel(ctx)
	if a.logicalUID == "" {
		a.logicalUID = uid.Generate()
	}
	log := p.logger.With("submission_id", a.logicalUID, "survey_id", a.surveyID)
	res := &Result{LogicalUID: a.logicalUID}

	ex := p.execute(ctx, identity, a, res)

	message := res.Outcome.Message
	if ex.failure != nil {
		res.Outcome = registry.Outcome{Message: ex.failure.Error()}
		message = ex.failure.Error()
	}
	if res.Status == models.AuditSuccess {
		message = "accepted (" + res.Outcome.Signal + ")"
		log.Info(ctx, "submission accepted", "signal", res.Outcome.Signal, "tracked_entity", res.TrackedEntity)
	} else {
		log.Warn(ctx, "submission not accepted", "status", string(res.Status), "message", message)
	}
	p.metrics.ObserveSubmission(res.Status)

	p.record(ctx, log, res, a, ex, message)
	return res
}

// execution is what one attempt produced before it is recorded.
type execution struct {
	form     *models.FormSubmission
	sent     *payload.Payload
	response *registry.RawResponse
	failure  error
}

// execute resolves attachments, builds and sends the payload, and sets
// res.Status. Local failures are returned in execution.failure.
func (p *Pipeline) execute(ctx context.Context, identity *models.RegistryIdentity, a attempt, res *Result) execution {
	ex := execution{form: a.form}

	if strings.TrimSpace(ex.form.Location.OrgUnitRef) == "" {
		res.Status, ex.failure = models.AuditFailed, payload.ErrMissingOrgUnit
		return ex
	}

	client := p.newClient(identity)

	var resolved map[string]string
	if len(ex.form.Attachments) > 0 {
		r := p.resolver.Resolve(ctx, ex.form.Attachments, timedUploader{up: client, metrics: p.metrics})
		p.metrics.ObserveUploads(len(r.Remote), len(r.Failed))
		for ref := range r.Failed {
			res.FailedAttachments = append(res.FailedAttachments, ref)
		}
		sort.Strings(res.FailedAttachments)
		res.UnreplayableAttachments = r.Unreplayable
		ex.form = withStorageKeys(ex.form, r.Stored)
		resolved = r.Remote
	}

	pl, err := p.builder.Build(ex.form, identity, resolved, payload.Options{TrackedEntity: a.trackedEntity})
	if errors.Is(err, payload.ErrMissingOrgUnit) {
		res.Status, ex.failure = models.AuditFailed, err
		return ex
	}
	if err != nil {
		res.Status, ex.failure = models.AuditError, err
		return ex
	}
	if pl.Empty() {
		res.Status, ex.failure = models.AuditSkipped, errors.New(messageEmptyPayload)
		return ex
	}
	ex.sent = pl

	start := time.Now()
	ex.response, err = client.Submit(ctx, pl)
	p.metrics.ObserveRegistryCall(metrics.OpSubmit, time.Since(start))
	if err != nil {
		res.Status, ex.failure = models.AuditError, err
		return ex
	}

	res.Outcome = registry.Classify(ex.response)
	if res.Outcome.Success {
		res.Status = models.AuditSuccess
		res.TrackedEntity = pl.TrackedEntityID()
		return ex
	}
	res.Status = models.AuditFailed
	return ex
}

func (p *Pipeline) record(ctx context.Context, log logging.Logger, res *Result, a attempt, ex execution, message string) {
	var payloadJSON json.RawMessage
	if ex.sent != nil {
		if b, err := json.Marshal(ex.sent); err == nil {
			payloadJSON = b
		}
	}
	doc := ex.response.Document()

	rec, err := p.store.Persist(ctx, PersistInput{
		SurveyID:      a.surveyID,
		Form:          ex.form,
		Response:      doc,
		Err:           ex.failure,
		Location:      ex.form.Location,
		UID:           a.logicalUID,
		TrackedEntity: res.TrackedEntity,
		Success:       res.Status == models.AuditSuccess,
	})
	if err != nil {
		log.Error(ctx, "submission record not stored", "error", err.Error())
		res.PersistErr = &PersistenceError{Stage: "submission", Err: err}
	} else {
		res.RecordID = rec.ID
	}

	entry, err := p.audit.Record(ctx, a.logicalUID, res.Status, payloadJSON, doc, message)
	if errors.Is(err, common.ErrAlreadySubmitted) {
		// A concurrent attempt reached SUCCESS first; the terminal row stays.
		log.Warn(ctx, "audit entry already terminal", "status", string(res.Status))
		if res.PersistErr == nil {
			res.PersistErr = &PersistenceError{Stage: "audit", Err: err}
		}
		return
	}
	if err != nil {
		log.Error(ctx, "audit entry not stored", "error", err.Error())
		if res.PersistErr == nil {
			res.PersistErr = &PersistenceError{Stage: "audit", Err: err}
		}
		return
	}
	res.Retries = entry.Retries
}

// previousTrackedEntity returns the entity UID used by an earlier attempt so
// a replay updates the same entity instead of creating a second one.
func previousTrackedEntity(rec *models.SubmissionRecord, entry *models.AuditLogEntry) string {
	if rec.TrackedEntity != nil && *rec.TrackedEntity != "" {
		return *rec.TrackedEntity
	}
	if len(entry.PayloadSent) == 0 {
		return ""
	}
	var prev payload.Payload
	if err := json.Unmarshal(entry.PayloadSent, &prev); err != nil {
		return ""
	}
	return prev.TrackedEntityID()
}

// withStorageKeys returns a copy of form whose attachments point at their
// local copies, so the stored form can be replayed without the bytes.
func withStorageKeys(form *models.FormSubmission, stored map[string]string) *models.FormSubmission {
	out := *form
	out.Attachments = make(map[string]models.Attachment, len(form.Attachments))
	for ref, att := range form.Attachments {
		if key, ok := stored[ref]; ok {
			att.StorageKey = key
		}
		out.Attachments[ref] = att
	}
	return &out
}

type timedUploader struct {
	up      attachments.Uploader
	metrics *metrics.Metrics
}

func (t timedUploader) UploadFileResource(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	start := time.Now()
	id, err := t.up.UploadFileResource(ctx, filename, contentType, data)
	t.metrics.ObserveRegistryCall(metrics.OpUpload, time.Since(start))
	return id, err
}
