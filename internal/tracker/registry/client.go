// Package registry talks to the tracker registry: it submits import payloads,
// uploads file resources and classifies the import responses.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/payload"
)

const (
	DefaultTimeout = 30 * time.Second

	trackerPath      = "/api/tracker"
	fileResourcePath = "/api/fileResources"
)

// importParams select a synchronous, fully validated create-or-update import
// with a full report.
var importParams = map[string]string{
	"async":          "false",
	"importStrategy": "CREATE_AND_UPDATE",
	"validationMode": "FULL",
	"reportMode":     "FULL",
	"atomicMode":     "OBJECT",
}

// Options configure a Client.
type Options struct {
	Timeout time.Duration
}

// Client is bound to a single registry identity.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for identity. TLS peer verification follows
// identity.VerifyTLS.
func NewClient(identity *models.RegistryIdentity, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(identity.BaseURL, "/")).
		SetTimeout(timeout).
		SetBasicAuth(identity.Credentials.Username, identity.Credentials.Password).
		SetHeader("Accept", "application/json")

	if !identity.VerifyTLS {
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // per-instance opt-in for self-signed registries
	}

	return &Client{http: c}
}

// Submit posts the payload to the tracker import endpoint. The request is not
// cancelled with ctx once dispatched; it runs until the registry answers or
// the client timeout expires. Only transport failures return an error; any
// HTTP answer, including 4xx/5xx, is returned for classification.
func (c *Client) Submit(ctx context.Context, p *payload.Payload) (*RawResponse, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	resp, err := c.http.R().
		SetContext(context.WithoutCancel(ctx)).
		SetHeader("Content-Type", "application/json").
		SetQueryParams(importParams).
		SetBody(body).
		Post(trackerPath)
	if err != nil {
		return nil, &NetworkError{Op: "submit", Err: err}
	}

	return newRawResponse(resp.StatusCode(), resp.Body()), nil
}

// UploadFileResource stores data as a registry file resource and returns its id.
func (c *Client) UploadFileResource(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", filename, contentType, bytes.NewReader(data)).
		SetFormData(map[string]string{"domain": "DATA_VALUE"}).
		Post(fileResourcePath)
	if err != nil {
		return "", &NetworkError{Op: "file upload", Err: err}
	}

	raw := newRawResponse(resp.StatusCode(), resp.Body())
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", fmt.Errorf("file upload rejected: %s; body: %s", resp.Status(), snippet(resp.Body()))
	}

	if id := fileResourceID(raw.Body); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("file upload response carries no id; body: %s", snippet(resp.Body()))
}

// fileResourceID reads response.fileResource.id, falling back to a top-level id.
func fileResourceID(body map[string]any) string {
	if id := asString(lookup(body, "response", "fileResource", "id")); id != "" {
		return id
	}
	return asString(lookup(body, "id"))
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
