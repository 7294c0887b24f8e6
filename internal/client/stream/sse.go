package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

// SSESource subscribes to the relay's text/event-stream endpoint.
type SSESource struct {
	baseURL string
	header  http.Header
	client  *http.Client
	logger  *zap.Logger
}

// NewSSESource returns an SSE event source. The extra header carries
// authentication (bearer token for the relay, API key for direct upstream
// use). Streams are long-lived, so the internal client has no timeout.
func NewSSESource(baseURL string, header http.Header, logger *zap.Logger) *SSESource {
	return &SSESource{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  cloneHeader(header),
		client:  &http.Client{},
		logger:  logger,
	}
}

// Subscribe opens the stream and returns a channel of matching events. The
// channel closes when ctx is canceled or the stream ends; canceling ctx is
// the only teardown the caller needs.
func (s *SSESource) Subscribe(ctx context.Context, chargeBoxID string, eventTypes ...string) (<-chan models.SessionEvent, error) {
	u := buildEventsURL(s.baseURL, chargeBoxID, eventTypes, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

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
		var dataLines []string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			case line == "" && len(dataLines) > 0:
				raw := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				s.dispatch(ctx, ch, raw, chargeBoxID, eventTypes)
			}
			// "id:", "event:" and ":keep-alive" lines are ignored.
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warn("event stream closed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		}
	}()
	return ch, nil
}

func (s *SSESource) dispatch(ctx context.Context, ch chan<- models.SessionEvent, raw, chargeBoxID string, eventTypes []string) {
	var ev models.SessionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		s.logger.Warn("malformed stream event", zap.Error(err))
		return
	}
	if !matches(ev, chargeBoxID, eventTypes) {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
