package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/triage"
)

const buildBreakService = "build-break"

// FetchComponentDefects fetches all defect records for one monitored
// component from the build-break service and normalizes them into raw
// defect records.
func (c *Client) FetchComponentDefects(ctx context.Context, component string) ([]triage.RawDefect, error) {
	observability.GetMetrics().FetchesTotal.WithLabelValues(buildBreakService).Inc()

	endpoint := fmt.Sprintf("%s/rest2/defects/buildbreak/fas?fas=%s",
		c.buildBreak, url.QueryEscape(component))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewPermanentf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordFetchFailure(buildBreakService, errors.ErrNetworkUnreachable)
		return nil, errors.ErrNetworkUnreachable
	}
	defer resp.Body.Close()

	if err := classifyResponse(buildBreakService, resp); err != nil {
		recordFetchFailure(buildBreakService, err)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		recordFetchFailure(buildBreakService, errors.ErrNetworkUnreachable)
		return nil, errors.ErrNetworkUnreachable
	}

	records, err := parseBuildBreak(body, component)
	if err != nil {
		recordFetchFailure(buildBreakService, err)
		return nil, err
	}

	c.logger.Debug("fetched component defects",
		"component", component,
		"count", len(records))

	return records, nil
}

// parseBuildBreak normalizes the build-break response shapes: a bare
// array, {defects:[...]} or {untriagedDefects:[...]}. A JSON payload
// carrying a login/redirect/unauthorized marker means the session expired
// mid-flight. Unknown shapes fail closed to an empty list.
func parseBuildBreak(body []byte, component string) ([]triage.RawDefect, error) {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.ErrMalformedResponse
	}

	var entries []interface{}
	switch v := payload.(type) {
	case []interface{}:
		entries = v
	case map[string]interface{}:
		if authMarker(v) {
			return nil, errors.ErrAuthRequired
		}
		if list, ok := v["defects"].([]interface{}); ok {
			entries = list
		} else if list, ok := v["untriagedDefects"].([]interface{}); ok {
			entries = list
		}
	}

	records := make([]triage.RawDefect, 0, len(entries))
	for _, entry := range entries {
		record, ok := entry.(map[string]interface{})
		if !ok {
			// Non-object entries are dropped silently.
			continue
		}
		records = append(records, triage.RawDefect{
			ID:        firstString(record, "id", "defectId"),
			Summary:   firstString(record, "summary", "description"),
			Tags:      stringList(record, "triageTags", "tags"),
			State:     firstString(record, "state", "status"),
			Owner:     firstString(record, "owner", "assignee"),
			Component: stringOr(record["functionalArea"], component),
		})
	}

	return records, nil
}

// authMarker reports whether a 2xx JSON body is actually a login response
func authMarker(obj map[string]interface{}) bool {
	if op, ok := obj["operation"].(string); ok && op == "login" {
		return true
	}
	if _, ok := obj["redirect"]; ok {
		return true
	}
	if errVal, ok := obj["error"].(string); ok && errVal == "unauthorized" {
		return true
	}
	return false
}

// firstString returns the first present key rendered as a string
func firstString(record map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := asString(record[key]); s != "" {
			return s
		}
	}
	return ""
}

// stringList returns the first present key that is a string array;
// anything else normalizes to an empty list
func stringList(record map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		raw, ok := record[key]
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			return []string{}
		}
		tags := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return []string{}
}

func stringOr(v interface{}, fallback string) string {
	if s := asString(v); s != "" {
		return s
	}
	return fallback
}

// asString renders the loose value types upstream services emit: plain
// strings, JSON numbers, and OSLC reference objects with a title.
func asString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	case map[string]interface{}:
		if title, ok := value["dcterms:title"].(string); ok {
			return title
		}
	}
	return ""
}
