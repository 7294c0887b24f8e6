package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltlink/internal/models"
)

// WSSource subscribes to the relay's WebSocket event bridge. Useful behind
// proxies that buffer SSE responses.
type WSSource struct {
	baseURL string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewWSSource returns a WebSocket event source.
func NewWSSource(baseURL string, header http.Header, logger *zap.Logger) *WSSource {
	return &WSSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  cloneHeader(header),
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Subscribe dials the bridge; the channel closes on ctx cancel or when the
// connection drops.
func (s *WSSource) Subscribe(ctx context.Context, chargeBoxID string, eventTypes ...string) (<-chan models.SessionEvent, error) {
	u, err := s.bridgeURL(chargeBoxID, eventTypes)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, u, s.header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("event bridge: HTTP %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	ch := make(chan models.SessionEvent, eventBuffer)

	// Closing the connection is the only way to unblock ReadJSON.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(ch)
		for {
			var ev models.SessionEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("event bridge closed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
				}
				return
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
	}()
	return ch, nil
}

func (s *WSSource) bridgeURL(chargeBoxID string, eventTypes []string) (string, error) {
	parsed, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/events/ws"
	query := url.Values{}
	query.Set("chargeBoxId", chargeBoxID)
	if len(eventTypes) > 0 {
		query.Set("types", strings.Join(eventTypes, ","))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
