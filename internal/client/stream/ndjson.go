package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

// NDJSONSource consumes the newline-delimited JSON fallback stream, for
// runtimes where native event-stream parsing is unavailable.
type NDJSONSource struct {
	baseURL string
	header  http.Header
	client  *http.Client
	logger  *zap.Logger
}

// NewNDJSONSource returns an NDJSON event source.
func NewNDJSONSource(baseURL string, header http.Header, logger *zap.Logger) *NDJSONSource {
	return &NDJSONSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  cloneHeader(header),
		client:  &http.Client{},
		logger:  logger,
	}
}

// Subscribe opens the stream; the channel closes on ctx cancel or stream end.
func (s *NDJSONSource) Subscribe(ctx context.Context, chargeBoxID string, eventTypes ...string) (<-chan models.SessionEvent, error) {
	query := url.Values{}
	query.Set("format", "ndjson")
	u := buildEventsURL(s.baseURL, chargeBoxID, eventTypes, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: HTTP %d", resp.StatusCode)
	}

	ch := make(chan models.SessionEvent, eventBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev models.SessionEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				s.logger.Warn("malformed ndjson event", zap.Error(err))
				continue
			}
			if !matches(ev, chargeBoxID, eventTypes) {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warn("ndjson stream closed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		}
	}()
	return ch, nil
}
