// Package models defines the tracker pipeline's domain types: the normalized
// form submission handed in by the survey collaborators, the registry
// identity it is sent to, and the records persisted for every attempt.
package models

import (
	"fmt"
	"strings"
)

// FormSubmission is a normalized survey response ready for the registry.
type FormSubmission struct {
	Attributes  map[string]Value      `json:"attributes"`
	StageEvents []StageEvent          `json:"stage_events"`
	Location    Location              `json:"location"`
	Attachments map[string]Attachment `json:"attachments,omitempty"`
}

// StageEvent is one occurrence of a program stage, e.g. a single visit.
type StageEvent struct {
	StageID       string           `json:"stage_id"`
	OccurrenceKey string           `json:"occurrence_key"`
	EventDate     string           `json:"event_date,omitempty"`
	Values        map[string]Value `json:"values"`
}

// Location is the resolved place of record. OrgUnitRef is mandatory.
type Location struct {
	FacilityID   string `json:"facility_id,omitempty"`
	FacilityName string `json:"facility_name,omitempty"`
	OrgUnitRef   string `json:"org_unit"`
}

// Attachment is an uploaded file. Data is only held in memory; once the file
// has been written to local storage StorageKey is enough to replay it.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	Data        []byte `json:"-"`
}

// AttributeRef is the attachment reference for a tracked entity attribute.
func AttributeRef(attributeID string) string {
	return "tei:" + attributeID
}

// StageFieldRef is the attachment reference for a data element inside one
// occurrence of a stage.
func StageFieldRef(stageID, fieldID, occurrence string) string {
	return fmt.Sprintf("stage:%s:%s:%s", stageID, fieldID, occurrence)
}

// ValidRef reports whether ref has one of the two reference shapes.
func ValidRef(ref string) bool {
	parts := strings.Split(ref, ":")
	switch parts[0] {
	case "tei":
		return len(parts) == 2 && parts[1] != ""
	case "stage":
		return len(parts) == 4 && parts[1] != "" && parts[2] != "" && parts[3] != ""
	default:
		return false
	}
}
