package models

import (
	"encoding/json"
	"time"
)

// SubmissionStatus is the status of one persisted attempt.
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionRecord is one attempt to send a form to the registry. Records are
// append-only: a retry inserts a new record carrying the same UID.
type SubmissionRecord struct {
	ID            string           `json:"id"`
	UID           string           `json:"uid"`
	SurveyID      string           `json:"survey_id"`
	TrackedEntity *string          `json:"tracked_entity,omitempty"`
	Location      Location         `json:"location"`
	FormData      json.RawMessage  `json:"form_data"`
	Response      json.RawMessage  `json:"registry_response,omitempty"`
	Status        SubmissionStatus `json:"status"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}

// Form decodes the stored submission for replay.
func (r *SubmissionRecord) Form() (*FormSubmission, error) {
	var f FormSubmission
	if err := json.Unmarshal(r.FormData, &f); err != nil {
		return nil, err
	}
	f.Location = r.Location
	return &f, nil
}

// AuditStatus is the current state of a logical submission.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
	AuditError   AuditStatus = "ERROR"
	AuditSkipped AuditStatus = "SKIPPED"
	AuditPending AuditStatus = "PENDING"
)

// Valid reports whether s is one of the known audit statuses.
func (s AuditStatus) Valid() bool {
	switch s {
	case AuditSuccess, AuditFailed, AuditError, AuditSkipped, AuditPending:
		return true
	}
	return false
}

// AuditLogEntry is the mutable row keyed by the logical submission id.
type AuditLogEntry struct {
	SubmissionID string          `json:"submission_id"`
	Status       AuditStatus     `json:"status"`
	PayloadSent  json.RawMessage `json:"payload_sent,omitempty"`
	Response     json.RawMessage `json:"registry_response,omitempty"`
	Message      string          `json:"message"`
	Retries      int             `json:"retries"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}
