package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/risk"
	"github.com/supply-risk/backend/internal/storage/models"
	"github.com/supply-risk/backend/pkg/logger"
)

// Assessor is the slice of the risk engine the handler needs.
type Assessor interface {
	Assess(ctx context.Context, req risk.Request) (*risk.Assessment, error)
}

// HistoryStore serves past assessments. Optional.
type HistoryStore interface {
	GetAssessmentHistory(limit int) ([]models.AssessmentRecord, error)
}

type AnalyzeHandler struct {
	engine  Assessor
	history HistoryStore
}

func NewAnalyzeHandler(engine Assessor, history HistoryStore) *AnalyzeHandler {
	return &AnalyzeHandler{
		engine:  engine,
		history: history,
	}
}

type analyzeRequest struct {
	Query     string   `json:"query"`
	VendorIDs []string `json:"vendor_ids"`
}

func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req analyzeRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	assessment, err := h.engine.Assess(c.Context(), risk.Request{
		Query:     req.Query,
		VendorIDs: req.VendorIDs,
	})
	if err != nil {
		return respondAssessmentError(c, err)
	}

	return c.JSON(assessmentResponse(assessment))
}

func (h *AnalyzeHandler) GetHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{"assessments": []fiber.Map{}})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := h.history.GetAssessmentHistory(limit)
	if err != nil {
		logger.Error("Failed to fetch assessment history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve assessment history",
		})
	}

	out := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		out = append(out, fiber.Map{
			"id":                    r.ID,
			"query":                 r.QueryText,
			"vendor_ids":            r.VendorIDs,
			"risk_level":            r.RiskLevel,
			"summary":               r.Summary,
			"insufficient_evidence": r.InsufficientEvidence,
			"evidence_count":        r.EvidenceCount,
			"created_at":            r.CreatedAt.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{"assessments": out})
}

func assessmentResponse(a *risk.Assessment) fiber.Map {
	return fiber.Map{
		"id":                    a.ID,
		"risk_level":            a.RiskLevel,
		"evidence":              a.Evidence,
		"summary":               a.Summary,
		"insufficient_evidence": a.InsufficientEvidence,
		"warnings":              a.Warnings,
		"latency_ms":            a.LatencyMS,
	}
}

func respondAssessmentError(c *fiber.Ctx, err error) error {
	logger.Error("Risk assessment failed", zap.Error(err))

	var riskErr *risk.Error
	if errors.As(err, &riskErr) {
		switch riskErr.Type {
		case risk.ErrorTypeValidation:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": riskErr.Message,
			})
		case risk.ErrorTypeProvider:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Model provider unavailable",
			})
		case risk.ErrorTypeRetrieval, risk.ErrorTypeSynthesis:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": riskErr.Message,
			})
		}
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process risk assessment",
	})
}
