package handlers

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/storage/models"
	"github.com/supply-risk/backend/internal/storage/sqlite"
	"github.com/supply-risk/backend/pkg/logger"
)

// VendorChunkDeleter drops a supplier's chunks from the vector index,
// satisfied by *milvus.Client.
type VendorChunkDeleter interface {
	DeleteByVendor(ctx context.Context, vendorID string) error
}

type SupplierHandler struct {
	db       *sqlite.Client
	vectorDB VendorChunkDeleter
}

func NewSupplierHandler(db *sqlite.Client, vectorDB VendorChunkDeleter) *SupplierHandler {
	return &SupplierHandler{
		db:       db,
		vectorDB: vectorDB,
	}
}

type supplierRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Location     string `json:"location"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Description  string `json:"description"`
	Active       *bool  `json:"active"`
}

func (r *supplierRequest) validate() string {
	if strings.TrimSpace(r.Name) == "" {
		return "Name is required"
	}
	if strings.TrimSpace(r.Category) == "" {
		return "Category is required"
	}
	if strings.TrimSpace(r.Location) == "" {
		return "Location is required"
	}
	return ""
}

func (h *SupplierHandler) ListSuppliers(c *fiber.Ctx) error {
	suppliers, err := h.db.ListSuppliers()
	if err != nil {
		logger.Error("Failed to list suppliers", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve suppliers",
		})
	}

	out := make([]fiber.Map, 0, len(suppliers))
	for i := range suppliers {
		out = append(out, supplierResponse(&suppliers[i]))
	}

	return c.JSON(fiber.Map{"suppliers": out})
}

func (h *SupplierHandler) CreateSupplier(c *fiber.Ctx) error {
	var req supplierRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now()
	supplier := &models.Supplier{
		ID:             "SUP-" + strings.ToUpper(uuid.New().String()[:8]),
		Name:           req.Name,
		Category:       req.Category,
		Location:       req.Location,
		RiskLevel:      "Low",
		ContactEmail:   req.ContactEmail,
		ContactPhone:   req.ContactPhone,
		Description:    req.Description,
		Active:         active,
		CreatedAt:      now,
		LastAssessment: now,
	}

	if err := h.db.InsertSupplier(supplier); err != nil {
		logger.Error("Failed to create supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create supplier",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"supplier": supplierResponse(supplier)})
}

func (h *SupplierHandler) UpdateSupplier(c *fiber.Ctx) error {
	supplierID := c.Params("id")

	var req supplierRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	existing, err := h.db.GetSupplier(supplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Supplier not found",
			})
		}
		logger.Error("Failed to fetch supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update supplier",
		})
	}

	active := existing.Active
	if req.Active != nil {
		active = *req.Active
	}

	existing.Name = req.Name
	existing.Category = req.Category
	existing.Location = req.Location
	existing.ContactEmail = req.ContactEmail
	existing.ContactPhone = req.ContactPhone
	existing.Description = req.Description
	existing.Active = active
	existing.LastAssessment = time.Now()

	if err := h.db.UpdateSupplier(existing); err != nil {
		logger.Error("Failed to update supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update supplier",
		})
	}

	return c.JSON(fiber.Map{"supplier": supplierResponse(existing)})
}

func (h *SupplierHandler) DeleteSupplier(c *fiber.Ctx) error {
	supplierID := c.Params("id")

	if err := h.db.DeleteSupplier(supplierID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Supplier not found",
			})
		}
		logger.Error("Failed to delete supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete supplier",
		})
	}

	// The registry row is gone; drop the indexed chunks too so the
	// corpus cannot return evidence for a supplier that no longer
	// exists.
	if h.vectorDB != nil {
		if err := h.vectorDB.DeleteByVendor(context.Background(), supplierID); err != nil {
			logger.Warn("Failed to delete vendor chunks from vector DB",
				zap.String("supplier_id", supplierID),
				zap.Error(err),
			)
		}
	}

	return c.JSON(fiber.Map{"message": "Supplier deleted successfully"})
}

func supplierResponse(s *models.Supplier) fiber.Map {
	return fiber.Map{
		"id":              s.ID,
		"name":            s.Name,
		"category":        s.Category,
		"location":        s.Location,
		"risk_level":      s.RiskLevel,
		"contact_email":   s.ContactEmail,
		"contact_phone":   s.ContactPhone,
		"description":     s.Description,
		"active":          s.Active,
		"document_count":  s.DocumentCount,
		"created_at":      s.CreatedAt.Format(time.RFC3339),
		"last_assessment": s.LastAssessment.Format(time.RFC3339),
	}
}
