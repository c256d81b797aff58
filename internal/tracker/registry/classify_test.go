package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resp(t *testing.T, status int, body string) *RawResponse {
	t.Helper()
	return newRawResponse(status, []byte(body))
}

func TestClassify_SuccessSignals(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		signal string
	}{
		{"status OK regardless of http code", `{"status":"OK","httpStatusCode":409}`, SignalStatus},
		{"http code 200", `{"status":"WARNING","httpStatusCode":200}`, SignalHTTPCode},
		{"http code 201 as string", `{"httpStatusCode":"201"}`, SignalHTTPCode},
		{"bundle report status", `{"status":"ERROR","bundleReport":{"status":"OK"}}`, SignalBundleStatus},
		{"bundle report under response", `{"response":{"bundleReport":{"status":"OK"}}}`, SignalBundleStatus},
		{"bundle stats created", `{"status":"ERROR","bundleReport":{"status":"ERROR","stats":{"created":1,"updated":0}}}`, SignalBundleStats},
		{"bundle stats updated", `{"bundleReport":{"stats":{"created":0,"updated":3}}}`, SignalBundleStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(resp(t, 409, tt.body))
			assert.True(t, out.Success)
			assert.Equal(t, tt.signal, out.Signal)
			assert.Empty(t, out.Message)
		})
	}
}

func TestClassify_StatusOKAndObjectReportError(t *testing.T) {
	ok := Classify(resp(t, 200, `{"status":"OK"}`))
	assert.True(t, ok.Success)

	failed := Classify(resp(t, 409, `{"status":"ERROR","bundleReport":{"typeReportMap":{"TRACKED_ENTITY":{"objectReports":[{"errorReports":[{"message":"Attribute X mandatory"}]}]}}}}`))
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Message, "Attribute X mandatory")
	assert.Equal(t, "TRACKED_ENTITY: Attribute X mandatory", failed.Message)
}

func TestClassify_CollectsEveryErrorSource(t *testing.T) {
	body := `{
		"status": "ERROR",
		"message": "An error occurred, please check import summary.",
		"validationReport": {"errorReports": [
			{"message": "Event date is required", "trackerType": "EVENT"},
			{"message": "Attribute X mandatory", "trackerType": "TRACKED_ENTITY"}
		]},
		"bundleReport": {
			"status": "ERROR",
			"stats": {"created": 0, "updated": 0, "ignored": 2},
			"typeReportMap": {
				"TRACKED_ENTITY": {"objectReports": [{"errorReports": [{"message": "Attribute X mandatory"}]}]},
				"ENROLLMENT": {"objectReports": [{"errorReports": [{"message": "Program not found"}, {"message": ""}]}]}
			}
		}
	}`
	out := Classify(resp(t, 409, body))
	require.False(t, out.Success)
	assert.Equal(t,
		"ENROLLMENT: Program not found; TRACKED_ENTITY: Attribute X mandatory; EVENT: Event date is required; An error occurred, please check import summary.",
		out.Message)
}

func TestClassify_FailureAlwaysHasMessage(t *testing.T) {
	tests := []struct {
		name string
		r    *RawResponse
		want string
	}{
		{"nil response", nil, "empty registry response"},
		{"empty object", resp(t, 500, `{}`), "registry rejected the submission (HTTP 500)"},
		{"non-json body", resp(t, 502, `<html>Bad Gateway</html>`), "registry rejected the submission (HTTP 502): <html>Bad Gateway</html>"},
		{"zero stats", resp(t, 409, `{"bundleReport":{"stats":{"created":0,"updated":0}}}`), "registry rejected the submission (HTTP 409)"},
		{"error status", resp(t, 409, `{"status":"ERROR","httpStatusCode":409}`), "registry rejected the submission (HTTP 409)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(tt.r)
			assert.False(t, out.Success)
			assert.Empty(t, out.Signal)
			assert.Equal(t, tt.want, out.Message)
		})
	}
}

func TestRawResponse_Document(t *testing.T) {
	assert.JSONEq(t, `{"status":"OK"}`, string(resp(t, 200, `{"status":"OK"}`).Document()))
	assert.JSONEq(t, `{"httpStatusCode":502,"body":"bad gateway"}`, string(resp(t, 502, `bad gateway`).Document()))

	var nilResp *RawResponse
	assert.Nil(t, nilResp.Document())
}
