package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/ports"
)

// eventTopic mirrors the topic the executor publishes progress on.
const eventTopic = "execution.events"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams execution progress events over WebSocket.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a WebSocket handler over the event bus.
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleExecutionStream upgrades the connection and relays progress
// events for one execution until the client disconnects or the
// execution finishes.
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	executionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	eventChan := make(chan ports.Event, 16)
	handler := func(ctx context.Context, event ports.Event) error {
		if event.ExecutionID != executionID {
			return nil
		}
		select {
		case eventChan <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
	if err := h.eventBus.Subscribe(ctx, eventTopic, handler); err != nil {
		h.logger.Error("failed to subscribe to progress events", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("client disconnected", zap.Error(err))
				return
			}

			// The finished event is the last one for an execution.
			if event.Type == ports.EventExecutionFinished {
				return
			}
		}
	}
}
