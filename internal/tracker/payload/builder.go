// Package payload maps a normalized form submission onto the registry's
// nested tracker import structure.
package payload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/uid"
)

const (
	statusCompleted = "COMPLETED"
	dateLayout      = "2006-01-02"
)

var (
	ErrMissingOrgUnit = errors.New("org unit is required")
	// ErrPlaceholderLeak reports an attachment placeholder that survived
	// substitution. It indicates a bug in the caller, not bad input.
	ErrPlaceholderLeak = errors.New("attachment placeholder in payload")
)

// Options tune a single Build call.
type Options struct {
	// TrackedEntity reuses an existing entity UID instead of minting one.
	TrackedEntity string
}

// Builder builds payloads. The zero value uses uid.Generate and time.Now.
type Builder struct {
	NewUID func() string
	Now    func() time.Time
}

// NewBuilder returns a Builder with the default UID source and clock.
func NewBuilder() *Builder {
	return &Builder{NewUID: uid.Generate, Now: time.Now}
}

// Build converts form into a payload for identity. resolved maps attachment
// references to registry file resource ids; File values whose reference is
// missing from it are left out.
func (b *Builder) Build(form *models.FormSubmission, identity *models.RegistryIdentity,
	resolved map[string]string, opts Options) (*Payload, error) {

	orgUnit := strings.TrimSpace(form.Location.OrgUnitRef)
	if orgUnit == "" {
		return nil, ErrMissingOrgUnit
	}

	today := b.now().Format(dateLayout)

	entityID := opts.TrackedEntity
	if entityID == "" {
		entityID = b.newUID()
	}

	attributes, err := emitValues(form.Attributes, resolved,
		func(id string) string { return models.AttributeRef(id) })
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(form.StageEvents))
	for _, se := range form.StageEvents {
		values, err := emitValues(se.Values, resolved, func(id string) string {
			return models.StageFieldRef(se.StageID, id, se.OccurrenceKey)
		})
		if err != nil {
			return nil, fmt.Errorf("stage %s/%s: %w", se.StageID, se.OccurrenceKey, err)
		}
		if len(values) == 0 {
			continue
		}

		date := normalizeDate(se.EventDate, today)
		ev := Event{
			Event:        b.newUID(),
			Program:      identity.ProgramID,
			ProgramStage: se.StageID,
			OrgUnit:      orgUnit,
			OccurredAt:   date,
			ScheduledAt:  date,
			Status:       statusCompleted,
			CompletedAt:  date,
			DataValues:   make([]DataValue, 0, len(values)),
		}
		for _, v := range values {
			ev.DataValues = append(ev.DataValues, DataValue{DataElement: v.Attribute, Value: v.Value})
		}
		events = append(events, ev)
	}

	return &Payload{TrackedEntities: []TrackedEntity{{
		TrackedEntity:     entityID,
		TrackedEntityType: identity.TrackedEntityTypeID,
		OrgUnit:           orgUnit,
		Attributes:        attributes,
		Enrollments: []Enrollment{{
			Enrollment: b.newUID(),
			Program:    identity.ProgramID,
			OrgUnit:    orgUnit,
			EnrolledAt: today,
			OccurredAt: today,
			Status:     statusCompleted,
			Events:     events,
		}},
	}}}, nil
}

// emitValues renders values in key order, substituting file references and
// dropping empty results. refOf maps a key to its attachment reference, used
// when a File value carries no reference of its own.
func emitValues(values map[string]models.Value, resolved map[string]string,
	refOf func(key string) string) ([]AttributeValue, error) {

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]AttributeValue, 0, len(keys))
	for _, k := range keys {
		v := values[k]

		var text string
		switch v.Kind {
		case models.KindFile:
			ref, _ := v.Ref()
			if ref == "" {
				ref = refOf(k)
			}
			text = strings.TrimSpace(resolved[ref])
		default:
			text = v.Render()
		}

		if text == "" {
			continue
		}
		if strings.HasPrefix(text, models.AttachmentPlaceholderPrefix) {
			return nil, fmt.Errorf("%w: %s", ErrPlaceholderLeak, k)
		}
		out = append(out, AttributeValue{Attribute: k, Value: text})
	}
	return out, nil
}

// normalizeDate accepts a date or an RFC 3339 timestamp and returns the
// calendar date, falling back when empty or unparseable.
func normalizeDate(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	return fallback
}

func (b *Builder) newUID() string {
	if b.NewUID != nil {
		return b.NewUID()
	}
	return uid.Generate()
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
