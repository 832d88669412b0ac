package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/store"
	ws "github.com/vesys/ve/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the daemon binds loopback only
		return true
	},
}

// Handler upgrades /ws connections and seeds them with the state snapshot.
type Handler struct {
	hub    *Hub
	store  store.Store
	logger *logger.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, st store.Store, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		store:  st,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and starts the client pumps.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	h.sendInitialState(c, client)

	go client.WritePump()
	client.ReadPump()
}

// sendInitialState queues the full state snapshot as the first message.
func (h *Handler) sendInitialState(c *gin.Context, client *Client) {
	units, err := h.store.ListWorkUnits(c.Request.Context(), "")
	if err != nil {
		h.logger.Error("Failed to list work units for initial state", zap.Error(err))
		return
	}
	attention, err := h.store.AttentionQueue(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build attention queue for initial state", zap.Error(err))
		return
	}

	msg, err := ws.NewMessage(ws.MessageTypeInitialState, &ws.InitialState{
		WorkUnits:      units,
		AttentionItems: attention,
	})
	if err != nil {
		h.logger.Error("Failed to build initial state message", zap.Error(err))
		return
	}
	client.Send(msg)
}
