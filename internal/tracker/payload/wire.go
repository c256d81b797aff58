package payload

// Payload is the body of a tracker import request.
type Payload struct {
	TrackedEntities []TrackedEntity `json:"trackedEntities"`
}

type TrackedEntity struct {
	TrackedEntity     string           `json:"trackedEntity"`
	TrackedEntityType string           `json:"trackedEntityType"`
	OrgUnit           string           `json:"orgUnit"`
	Attributes        []AttributeValue `json:"attributes"`
	Enrollments       []Enrollment     `json:"enrollments"`
}

type AttributeValue struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

type Enrollment struct {
	Enrollment string  `json:"enrollment"`
	Program    string  `json:"program"`
	OrgUnit    string  `json:"orgUnit"`
	EnrolledAt string  `json:"enrolledAt"`
	OccurredAt string  `json:"occurredAt"`
	Status     string  `json:"status"`
	Events     []Event `json:"events"`
}

type Event struct {
	Event        string      `json:"event"`
	Program      string      `json:"program"`
	ProgramStage string      `json:"programStage"`
	OrgUnit      string      `json:"orgUnit"`
	OccurredAt   string      `json:"occurredAt"`
	ScheduledAt  string      `json:"scheduledAt"`
	Status       string      `json:"status"`
	CompletedAt  string      `json:"completedAt"`
	DataValues   []DataValue `json:"dataValues"`
}

type DataValue struct {
	DataElement       string `json:"dataElement"`
	Value             string `json:"value"`
	ProvidedElsewhere bool   `json:"providedElsewhere"`
}

// TrackedEntityID returns the UID of the first tracked entity, or "".
func (p *Payload) TrackedEntityID() string {
	if p == nil || len(p.TrackedEntities) == 0 {
		return ""
	}
	return p.TrackedEntities[0].TrackedEntity
}

// Empty reports whether the payload carries neither attributes nor events.
func (p *Payload) Empty() bool {
	if p == nil {
		return true
	}
	for _, te := range p.TrackedEntities {
		if len(te.Attributes) > 0 {
			return false
		}
		for _, en := range te.Enrollments {
			if len(en.Events) > 0 {
				return false
			}
		}
	}
	return true
}
