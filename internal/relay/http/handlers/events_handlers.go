package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// EventsHandlers re-encodes the upstream session event stream for clients.
type EventsHandlers struct {
	upstream Upstream
	logger   *zap.Logger
}

// NewEventsHandlers returns handler.
func NewEventsHandlers(upstream Upstream, logger *zap.Logger) *EventsHandlers {
	return &EventsHandlers{upstream: upstream, logger: logger}
}

// Stream handles GET /v1/events/{chargeBoxID}. Default output is SSE; with
// ?format=ndjson the data payloads are re-emitted one JSON object per line
// for runtimes without native event-stream support.
func (h *EventsHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	chargeBoxID := r.PathValue("chargeBoxID")
	ndjson := r.URL.Query().Get("format") == "ndjson"

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	path := "/v1/events/" + url.PathEscape(chargeBoxID)
	if types := r.URL.Query().Get("types"); types != "" {
		path += "?types=" + url.QueryEscape(types)
	}

	resp, err := h.upstream.Stream(r.Context(), path, "text/event-stream")
	if err != nil {
		h.logger.Error("event stream upstream failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "upstream stream rejected")
		return
	}

	if ndjson {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	scanner := bufio.NewScanner(resp.Body)
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if ndjson {
			switch {
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			case line == "" && len(dataLines) > 0:
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				// Multi-line data frames carry embedded newlines; compact to
				// keep one JSON object per output line.
				var compact bytes.Buffer
				if err := json.Compact(&compact, []byte(payload)); err != nil {
					h.logger.Warn("dropping malformed upstream event", zap.Error(err))
					continue
				}
				compact.WriteByte('\n')
				if _, err := w.Write(compact.Bytes()); err != nil {
					return
				}
				flusher.Flush()
			}
			continue
		}
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return
		}
		if line == "" {
			flusher.Flush()
		}
	}
	if err := scanner.Err(); err != nil && r.Context().Err() == nil {
		h.logger.Warn("upstream event stream closed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
	}
}
