package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/auditlog"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/uid"
)

func newStoreFixture() (*SubmissionStore, *AuditLog, *fakeRepoManager) {
	rm := &fakeRepoManager{subs: &fakeSubmissions{}, audit: newFakeAudit(), ids: &fakeIdentities{}}
	return NewSubmissionStore(nil, rm, logging.Discard()), NewAuditLog(nil, rm, logging.Discard()), rm
}

func TestPersist_MintsUIDWhenMissing(t *testing.T) {
	store, _, rm := newStoreFixture()

	rec, err := store.Persist(context.Background(), PersistInput{
		SurveyID: "survey1",
		Form:     basicForm(),
		Location: basicForm().Location,
		Err:      errors.New("boom"),
	})
	require.NoError(t, err)

	assert.True(t, uid.Valid(rec.UID))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.SubmissionFailed, rec.Status)
	assert.JSONEq(t, `{"error":"boom"}`, string(rec.Response))
	assert.Equal(t, 1, rm.ensureCalls)
}

func TestPersist_SameUIDInsertsTwice(t *testing.T) {
	store, _, rm := newStoreFixture()

	for i := 0; i < 2; i++ {
		_, err := store.Persist(context.Background(), PersistInput{SurveyID: "s", Form: basicForm(), UID: "abcDEF12345"})
		require.NoError(t, err)
	}
	recs, _ := rm.subs.ListByUID(context.Background(), "abcDEF12345")
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

func TestPersist_TrackedEntityOnlyOnSuccess(t *testing.T) {
	store, _, _ := newStoreFixture()

	failed, err := store.Persist(context.Background(), PersistInput{Form: basicForm(), TrackedEntity: "tei00000001"})
	require.NoError(t, err)
	assert.Nil(t, failed.TrackedEntity)

	ok, err := store.Persist(context.Background(), PersistInput{
		Form: basicForm(), TrackedEntity: "tei00000001", Success: true,
		Response: json.RawMessage(`{"status":"OK"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, ok.TrackedEntity)
	assert.Equal(t, "tei00000001", *ok.TrackedEntity)
	assert.Equal(t, models.SubmissionSubmitted, ok.Status)
}

func TestPersist_SchemaError(t *testing.T) {
	store, _, rm := newStoreFixture()
	rm.ensureErr = errors.New("no db")

	_, err := store.Persist(context.Background(), PersistInput{Form: basicForm()})
	assert.Error(t, err)
	assert.Empty(t, rm.subs.records)
}

func TestAuditLog_RecordUpserts(t *testing.T) {
	_, audit, _ := newStoreFixture()
	ctx := context.Background()

	e, err := audit.Record(ctx, "abcDEF12345", models.AuditError, nil, nil, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Retries)

	e, err = audit.Record(ctx, "abcDEF12345", models.AuditSuccess, json.RawMessage(`{}`), json.RawMessage(`{"status":"OK"}`), "accepted")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Retries)

	got, err := audit.Get(ctx, "abcDEF12345")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSuccess, got.Status)
	assert.Equal(t, "accepted", got.Message)
}

func TestAuditLog_RejectsUnknownStatus(t *testing.T) {
	_, audit, rm := newStoreFixture()

	_, err := audit.Record(context.Background(), "abcDEF12345", models.AuditStatus("DONE"), nil, nil, "")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, rm.audit.rows)

	_, err = audit.List(context.Background(), auditlog.Filter{Status: "DONE"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAuditLog_ListByStatus(t *testing.T) {
	_, audit, _ := newStoreFixture()
	ctx := context.Background()
	_, _ = audit.Record(ctx, "aaaaaaaaaa1", models.AuditFailed, nil, nil, "x")
	_, _ = audit.Record(ctx, "aaaaaaaaaa2", models.AuditSuccess, nil, nil, "y")

	got, err := audit.List(ctx, auditlog.Filter{Status: models.AuditFailed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aaaaaaaaaa1", got[0].SubmissionID)
}

func TestAttempts_OldestFirst(t *testing.T) {
	store, _, _ := newStoreFixture()

	_, err := store.Attempts(context.Background(), "abcDEF12345")
	assert.ErrorIs(t, err, common.ErrNotFound)

	for _, ok := range []bool{false, true} {
		_, err := store.Persist(context.Background(), PersistInput{SurveyID: "s", Form: basicForm(), UID: "abcDEF12345", Success: ok})
		require.NoError(t, err)
	}
	recs, err := store.Attempts(context.Background(), "abcDEF12345")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.SubmissionFailed, recs[0].Status)
	assert.Equal(t, models.SubmissionSubmitted, recs[1].Status)
}
