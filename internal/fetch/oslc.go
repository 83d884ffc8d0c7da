package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/triage"
)

const oslcService = "oslc"

// FetchOverdueTriageItems runs the saved OSLC work-item query for overdue
// triage items. Functional-area references are resolved with secondary
// GETs, cached for the duration of this call; resolutions are never
// persisted across cycles.
func (c *Client) FetchOverdueTriageItems(ctx context.Context) ([]triage.RawDefect, error) {
	if c.jazz == "" || c.savedQueryID == "" {
		return nil, errors.NewPermanentf("oslc service is not configured")
	}

	observability.GetMetrics().FetchesTotal.WithLabelValues(oslcService).Inc()

	endpoint := fmt.Sprintf(
		"%s/oslc/queries/%s/rtc_cm:results?oslc.select=*,rtc_cm:filedAgainst{dcterms:title}",
		c.jazz, c.savedQueryID)

	body, err := c.getOSLC(ctx, endpoint)
	if err != nil {
		recordFetchFailure(oslcService, err)
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		recordFetchFailure(oslcService, errors.ErrMalformedResponse)
		return nil, errors.ErrMalformedResponse
	}

	entries, ok := payload["oslc:results"].([]interface{})
	if !ok {
		entries, _ = payload["results"].([]interface{})
	}

	// One resolution cache per fetch cycle.
	areaCache := make(map[string]string)

	records := make([]triage.RawDefect, 0, len(entries))
	for _, entry := range entries {
		record, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		records = append(records, triage.RawDefect{
			ID:        asString(record["dcterms:identifier"]),
			Summary:   asString(record["dcterms:title"]),
			Tags:      stringList(record, "dcterms:subject"),
			State:     asString(record["rtc_cm:state"]),
			Owner:     asString(record["rtc_cm:ownedBy"]),
			Component: c.resolveFunctionalArea(ctx, record, areaCache),
		})
	}

	c.logger.Debug("fetched overdue triage items",
		"count", len(records))

	return records, nil
}

// resolveFunctionalArea extracts the functional area of a work item. The
// field is sometimes inline and sometimes a reference that needs one more
// GET to turn into a display label; filedAgainst is the fallback.
func (c *Client) resolveFunctionalArea(ctx context.Context, record map[string]interface{}, cache map[string]string) string {
	raw := record["rtc_ext:functional_area"]

	if s, ok := raw.(string); ok && s != "" {
		return s
	}

	if ref, ok := raw.(map[string]interface{}); ok {
		if resource, ok := ref["rdf:resource"].(string); ok && resource != "" {
			if label, hit := cache[resource]; hit {
				return label
			}
			label := c.resolveResourceTitle(ctx, resource)
			cache[resource] = label
			if label != "" {
				return label
			}
		}
		if title, ok := ref["dcterms:title"].(string); ok && title != "" {
			return title
		}
	}

	return asString(record["rtc_cm:filedAgainst"])
}

// resolveResourceTitle GETs an OSLC resource URL and returns its title.
// Failures degrade to an empty label; the record still classifies.
func (c *Client) resolveResourceTitle(ctx context.Context, resource string) string {
	body, err := c.getOSLC(ctx, resource)
	if err != nil {
		c.logger.Warn("failed to resolve functional area reference",
			"resource", resource,
			"error", err.Error())
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return asString(payload["dcterms:title"])
}

// getOSLC performs one authenticated OSLC GET and returns the body after
// the shared auth classification.
func (c *Client) getOSLC(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewPermanentf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OSLC-Core-Version", "2.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.ErrNetworkUnreachable
	}
	defer resp.Body.Close()

	if err := classifyResponse(oslcService, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ErrNetworkUnreachable
	}
	return body, nil
}
