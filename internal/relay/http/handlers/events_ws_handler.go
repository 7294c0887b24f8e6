package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltlink/internal/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// EventsWSHandler bridges the upstream SSE stream onto a WebSocket, for
// clients behind proxies that buffer SSE responses.
type EventsWSHandler struct {
	upstream Upstream
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventsWSHandler returns handler.
func NewEventsWSHandler(upstream Upstream, logger *zap.Logger) *EventsWSHandler {
	return &EventsWSHandler{
		upstream: upstream,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Bridge handles GET /v1/events/ws?chargeBoxId=...
func (h *EventsWSHandler) Bridge(w http.ResponseWriter, r *http.Request) {
	chargeBoxID := r.URL.Query().Get("chargeBoxId")
	if chargeBoxID == "" {
		writeError(w, http.StatusBadRequest, "chargeBoxId is required")
		return
	}

	path := "/v1/events/" + url.PathEscape(chargeBoxID)
	if types := r.URL.Query().Get("types"); types != "" {
		path += "?types=" + url.QueryEscape(types)
	}

	resp, err := h.upstream.Stream(r.Context(), path, "text/event-stream")
	if err != nil {
		h.logger.Error("event bridge upstream failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		writeError(w, http.StatusBadGateway, "upstream stream rejected")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		resp.Body.Close()
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer resp.Body.Close()

	h.logger.Info("event bridge connected", zap.String("charge_box_id", chargeBoxID))

	// Drain client messages so close frames are processed; the read error
	// doubles as a disconnect signal.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	bridgeDone := make(chan struct{})
	defer close(bridgeDone)

	events := make(chan models.SessionEvent, 8)
	go func() {
		defer close(events)
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
				var ev models.SessionEvent
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					h.logger.Warn("malformed upstream event", zap.Error(err))
					continue
				}
				select {
				case events <- ev:
				case <-bridgeDone:
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "upstream closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
