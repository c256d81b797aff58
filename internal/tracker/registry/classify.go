package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Signals naming the check that declared a response successful.
const (
	SignalStatus        = "status"
	SignalHTTPCode      = "httpStatusCode"
	SignalBundleStatus  = "bundleReport.status"
	SignalBundleStats   = "bundleReport.stats"
	statusOK            = "OK"
	messageSeparator    = "; "
	fallbackMessageHTTP = "registry rejected the submission (HTTP %d)"
)

// Outcome is the classified result of an import response.
type Outcome struct {
	Success bool
	// Signal is the check that declared success; empty on failure.
	Signal string
	// Message is the error trail on failure; never empty then.
	Message string
}

// Classify reduces an import response to an Outcome. The registry answers in
// different shapes across API versions and modes, so success is accepted from
// any of these checks, in order: top-level status OK, top-level
// httpStatusCode 200/201, bundle report status OK, bundle report stats with
// created+updated > 0. Anything else is a failure whose message collects
// every error report found.
func Classify(resp *RawResponse) Outcome {
	if resp == nil {
		return Outcome{Message: "empty registry response"}
	}
	body := resp.Body

	if asString(lookup(body, "status")) == statusOK {
		return Outcome{Success: true, Signal: SignalStatus}
	}

	if code, ok := asInt(lookup(body, "httpStatusCode")); ok && (code == 200 || code == 201) {
		return Outcome{Success: true, Signal: SignalHTTPCode}
	}

	bundle := bundleReport(body)
	if asString(lookup(bundle, "status")) == statusOK {
		return Outcome{Success: true, Signal: SignalBundleStatus}
	}

	created, _ := asInt(lookup(bundle, "stats", "created"))
	updated, _ := asInt(lookup(bundle, "stats", "updated"))
	if created+updated > 0 {
		return Outcome{Success: true, Signal: SignalBundleStats}
	}

	return Outcome{Message: errorTrail(resp, bundle)}
}

// bundleReport finds the bundle report at the top level or under "response".
func bundleReport(body map[string]any) map[string]any {
	if m, ok := lookup(body, "bundleReport").(map[string]any); ok {
		return m
	}
	if m, ok := lookup(body, "response", "bundleReport").(map[string]any); ok {
		return m
	}
	return nil
}

func errorTrail(resp *RawResponse, bundle map[string]any) string {
	var trail []string
	seen := map[string]bool{}
	add := func(prefix, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		if prefix != "" {
			msg = prefix + ": " + msg
		}
		if !seen[msg] {
			seen[msg] = true
			trail = append(trail, msg)
		}
	}

	if types, ok := lookup(bundle, "typeReportMap").(map[string]any); ok {
		names := make([]string, 0, len(types))
		for name := range types {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			for _, obj := range asSlice(lookup(types[name], "objectReports")) {
				for _, er := range asSlice(lookup(obj, "errorReports")) {
					add(name, asString(lookup(er, "message")))
				}
			}
		}
	}

	for _, root := range []any{resp.Body, lookup(resp.Body, "response")} {
		for _, er := range asSlice(lookup(root, "validationReport", "errorReports")) {
			add(asString(lookup(er, "trackerType")), asString(lookup(er, "message")))
		}
	}

	add("", asString(lookup(resp.Body, "message")))

	if len(trail) == 0 {
		msg := fmt.Sprintf(fallbackMessageHTTP, resp.HTTPStatus)
		if resp.Body == nil && len(resp.Raw) > 0 {
			msg += ": " + snippet(resp.Raw)
		}
		return msg
	}
	return strings.Join(trail, messageSeparator)
}

// lookup walks nested JSON objects; it returns nil when any step is missing.
func lookup(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
