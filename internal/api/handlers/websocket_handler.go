package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/metrics"
	"github.com/excelgpt/backend/internal/middleware/validation"
	"github.com/excelgpt/backend/internal/query"
	"github.com/excelgpt/backend/pkg/logger"
)

// WSHandler serves the chat WebSocket. Each connection belongs to one client
// and processes queries sequentially in arrival order.
type WSHandler struct {
	engine       *query.Engine
	queryTimeout time.Duration
	logger       *zap.Logger
}

type wsIncoming struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

type wsOutgoing struct {
	Type          string `json:"type"`
	Message       string `json:"message,omitempty"`
	Insights      string `json:"insights,omitempty"`
	DataOutput    string `json:"data_output,omitempty"`
	GeneratedCode string `json:"generated_code,omitempty"`
	Query         string `json:"query,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func NewWSHandler(engine *query.Engine) *WSHandler {
	return &WSHandler{
		engine:       engine,
		queryTimeout: 3 * time.Minute,
		logger:       logger.GetLogger(),
	}
}

// Serve runs the message loop for one connection, mounted behind the
// upgrade check at GET /ws/:client_id.
func (h *WSHandler) Serve(c *websocket.Conn) {
	clientID := c.Params("client_id")
	if !validation.ValidateClientID(clientID) {
		clientID = "anonymous"
	}

	metrics.WSConnectionOpened()
	defer metrics.WSConnectionClosed()

	h.logger.Info("WebSocket connected", zap.String("client_id", clientID))
	defer h.logger.Info("WebSocket disconnected", zap.String("client_id", clientID))

	for {
		var msg wsIncoming
		if err := c.ReadJSON(&msg); err != nil {
			// Read errors mean the client went away or sent garbage; either
			// way the connection is done.
			h.logger.Debug("WebSocket read ended",
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			return
		}

		switch msg.Type {
		case "ping":
			h.send(c, wsOutgoing{Type: "pong"})

		case "query":
			h.handleQuery(c, clientID, msg.Query)

		default:
			h.send(c, wsOutgoing{
				Type:    "error",
				Message: "unknown message type: " + msg.Type,
			})
		}
	}
}

func (h *WSHandler) handleQuery(c *websocket.Conn, clientID, queryText string) {
	queryText, ok := validation.ValidateQuery(queryText)
	if !ok {
		h.send(c, wsOutgoing{
			Type:    "error",
			Message: "query must be a non-empty string of at most 2000 characters",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.queryTimeout)
	defer cancel()

	onStatus := func(message string) {
		h.send(c, wsOutgoing{Type: "status", Message: message})
	}

	result, err := h.engine.ProcessQuery(ctx, clientID, queryText, onStatus)
	if err != nil {
		out := wsOutgoing{
			Type:    "error",
			Message: err.Error(),
			Query:   queryText,
		}
		if result != nil {
			out.GeneratedCode = result.GeneratedCode
		}
		h.send(c, out)
		return
	}

	h.send(c, wsOutgoing{
		Type:          "result",
		Insights:      result.Insights,
		DataOutput:    result.DataOutput,
		GeneratedCode: result.GeneratedCode,
		Query:         result.Query,
	})
}

func (h *WSHandler) send(c *websocket.Conn, msg wsOutgoing) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err := c.WriteJSON(msg); err != nil {
		h.logger.Warn("WebSocket write failed", zap.Error(err))
	}
}
