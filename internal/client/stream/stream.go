// Package stream provides the push channels used for convergence: an SSE
// subscriber, a newline-delimited JSON fallback, and a WebSocket bridge
// client. All sources deliver session events filtered to one charge box and
// tear down when the subscription context is canceled.
package stream

import (
	"net/http"
	"net/url"
	"strings"

	"voltlink/internal/models"
)

const eventBuffer = 8

func buildEventsURL(baseURL, chargeBoxID string, eventTypes []string, query url.Values) string {
	base := strings.TrimRight(baseURL, "/")
	if query == nil {
		query = url.Values{}
	}
	if len(eventTypes) > 0 {
		query.Set("types", strings.Join(eventTypes, ","))
	}
	u := base + "/v1/events/" + url.PathEscape(chargeBoxID)
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// matches applies the charge box and event type filter client-side as a
// safety net; the server already scopes the stream.
func matches(ev models.SessionEvent, chargeBoxID string, eventTypes []string) bool {
	if ev.ChargeBoxID != "" && ev.ChargeBoxID != chargeBoxID {
		return false
	}
	if len(eventTypes) == 0 {
		return true
	}
	for _, t := range eventTypes {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
