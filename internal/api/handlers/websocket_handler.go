package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/risk"
	"github.com/supply-risk/backend/pkg/logger"
)

// StreamAssessor runs an assessment while reporting stage
// transitions, satisfied by *risk.Engine.
type StreamAssessor interface {
	AssessWithProgress(ctx context.Context, req risk.Request, notify func(risk.Stage)) (*risk.Assessment, error)
}

// streamConn is the slice of the websocket connection the session loop
// uses, satisfied by *websocket.Conn.
type streamConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type WebSocketHandler struct {
	engine StreamAssessor
}

func NewWebSocketHandler(engine StreamAssessor) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

// HandleConnection serves one analysis session per message: the client
// sends a query plus scope, the server streams the pipeline stages and
// then the final assessment.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.serve(c)
}

func (h *WebSocketHandler) serve(c streamConn) {
	logger.Info("WebSocket connection established")

	// The session context is cancelled when the connection goes away,
	// so in-flight provider calls are abandoned with it.
	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string   `json:"type"`
			Query     string   `json:"query"`
			VendorIDs []string `json:"vendor_ids"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "analyze" {
			continue
		}

		logger.Info("Processing WebSocket analysis", zap.String("query", msg.Query))

		assessment, err := h.engine.AssessWithProgress(
			ctx,
			risk.Request{Query: msg.Query, VendorIDs: msg.VendorIDs},
			func(stage risk.Stage) {
				h.send(c, map[string]interface{}{
					"type":  "stage",
					"stage": stage,
				})
			},
		)
		if err != nil {
			h.send(c, map[string]interface{}{
				"type":  "error",
				"error": err.Error(),
			})
			continue
		}

		h.send(c, map[string]interface{}{
			"type":                  "result",
			"id":                    assessment.ID,
			"risk_level":            assessment.RiskLevel,
			"evidence":              assessment.Evidence,
			"summary":               assessment.Summary,
			"insufficient_evidence": assessment.InsufficientEvidence,
			"warnings":              assessment.Warnings,
			"latency_ms":            assessment.LatencyMS,
		})
	}
}

func (h *WebSocketHandler) send(c streamConn, msg map[string]interface{}) {
	if err := c.WriteJSON(msg); err != nil {
		logger.Warn("Failed to write WebSocket message", zap.Error(err))
	}
}
