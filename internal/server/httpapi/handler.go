package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/common"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/repositories/auditlog"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/services"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

const (
	maxMultipartMemory = 32 << 20
	submissionPart     = "submission"
)

// Pipeline runs submissions and retries.
type Pipeline interface {
	Submit(ctx context.Context, surveyID string, form *models.FormSubmission) (*services.Result, error)
	Retry(ctx context.Context, submissionID string) (*services.Result, error)
	Attempts(ctx context.Context, submissionID string) ([]*models.SubmissionRecord, error)
}

// AuditReader serves the operator view of the audit log.
type AuditReader interface {
	Get(ctx context.Context, submissionID string) (*models.AuditLogEntry, error)
	List(ctx context.Context, f auditlog.Filter) ([]*models.AuditLogEntry, error)
}

type Handler struct {
	pipeline Pipeline
	audit    AuditReader
	health   func(ctx context.Context) error
	logger   logging.Logger
}

// NewHandler builds a Handler. health may be nil.
func NewHandler(p Pipeline, audit AuditReader, health func(ctx context.Context) error, logger logging.Logger) *Handler {
	return &Handler{pipeline: p, audit: audit, health: health, logger: logger.With("module", "http")}
}

type resultResponse struct {
	SubmissionID      string             `json:"submission_id"`
	RecordID          string             `json:"record_id,omitempty"`
	Status            models.AuditStatus `json:"status"`
	Success           bool               `json:"success"`
	Message           string             `json:"message,omitempty"`
	TrackedEntity     string             `json:"tracked_entity,omitempty"`
	Retries           int                `json:"retries"`
	FailedAttachments []string           `json:"failed_attachments,omitempty"`
	// Unreplayable are attachments a retry would drop.
	Unreplayable []string `json:"unreplayable_attachments,omitempty"`
	Warning      string   `json:"warning,omitempty"`
}

func newResultResponse(res *services.Result) resultResponse {
	out := resultResponse{
		SubmissionID:      res.LogicalUID,
		RecordID:          res.RecordID,
		Status:            res.Status,
		Success:           res.Outcome.Success,
		Message:           res.Outcome.Message,
		TrackedEntity:     res.TrackedEntity,
		Retries:           res.Retries,
		FailedAttachments: res.FailedAttachments,
		Unreplayable:      res.UnreplayableAttachments,
	}
	if res.PersistErr != nil {
		out.Warning = "attempt not fully recorded"
	}
	return out
}

func resultStatus(res *services.Result) int {
	if res.Status == models.AuditSuccess {
		return http.StatusCreated
	}
	return http.StatusOK
}

// Submit accepts either a JSON FormSubmission or a multipart form whose
// "submission" field carries the JSON and whose file parts are named by
// their attachment reference.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")

	form, err := h.decodeSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pipeline.Submit(r.Context(), surveyID, form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res), newResultResponse(res))
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.Retry(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res), newResultResponse(res))
}

// Attempts lists every stored attempt of a submission, oldest first.
func (h *Handler) Attempts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.pipeline.Attempts(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": recs})
}

func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.audit.Get(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) ListLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := auditlog.Filter{Status: models.AuditStatus(strings.ToUpper(q.Get("status")))}

	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrConfig):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "submission not found")
	case errors.Is(err, common.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) decodeSubmission(w http.ResponseWriter, r *http.Request) (*models.FormSubmission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var form models.FormSubmission
		if err := readJSON(w, r, &form); err != nil {
			return nil, fmt.Errorf("invalid request body")
		}
		if len(form.Attachments) > 0 {
			return nil, fmt.Errorf("attachments must be sent as multipart file parts")
		}
		return &form, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	raw := r.FormValue(submissionPart)
	if raw == "" {
		return nil, fmt.Errorf("missing %q part", submissionPart)
	}
	var form models.FormSubmission
	if err := json.Unmarshal([]byte(raw), &form); err != nil {
		return nil, fmt.Errorf("invalid %q part", submissionPart)
	}

	form.Attachments = make(map[string]models.Attachment, len(r.MultipartForm.File))
	for ref, headers := range r.MultipartForm.File {
		if !models.ValidRef(ref) {
			return nil, fmt.Errorf("invalid attachment reference %q", ref)
		}
		if len(headers) != 1 {
			return nil, fmt.Errorf("attachment %q must have exactly one file", ref)
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q", ref)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q", ref)
		}
		form.Attachments[ref] = models.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		}
	}
	return &form, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
