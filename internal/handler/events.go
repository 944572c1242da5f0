package handler

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/events"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// EventsHandler streams proxy events over a websocket.
type EventsHandler struct {
	broker *events.Broker
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(b *events.Broker, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{broker: b, logger: logger.With("component", "events_handler")}
}

// Stream handles GET /v1/events. Incoming messages are ignored; the stream
// ends when the client goes away.
func (h *EventsHandler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied.
		h.logger.Debug("websocket upgrade failed", "err", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := h.broker.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(eventsWriteWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "err", err)
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
