package registry

import (
	"encoding/json"
	"fmt"
)

// RawResponse is the registry's answer as received. Body is nil when the
// response was not a JSON object.
type RawResponse struct {
	HTTPStatus int
	Body       map[string]any
	Raw        []byte
}

func newRawResponse(status int, raw []byte) *RawResponse {
	r := &RawResponse{HTTPStatus: status, Raw: raw}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		r.Body = body
	}
	return r
}

// Document returns the response in a form suitable for a JSON column.
func (r *RawResponse) Document() json.RawMessage {
	if r == nil {
		return nil
	}
	if r.Body != nil {
		return json.RawMessage(r.Raw)
	}
	doc, _ := json.Marshal(map[string]any{
		"httpStatusCode": r.HTTPStatus,
		"body":           string(r.Raw),
	})
	return doc
}

// NetworkError is a transport-level failure: the registry never answered.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
