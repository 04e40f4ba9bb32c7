package handlers

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/ingestion"
	"github.com/supply-risk/backend/internal/storage/sqlite"
	"github.com/supply-risk/backend/pkg/logger"
)

// Only text-bearing formats are indexed; binary formats would need a
// parser the core deliberately does not own.
var allowedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

// AssessmentInvalidator drops cached verdicts. Optional; wired when a
// response cache is configured.
type AssessmentInvalidator interface {
	InvalidateAssessments(ctx context.Context) error
}

type DocumentHandler struct {
	db          *sqlite.Client
	processor   *ingestion.Processor
	uploadDir   string
	invalidator AssessmentInvalidator
}

func NewDocumentHandler(db *sqlite.Client, processor *ingestion.Processor, uploadDir string) *DocumentHandler {
	return &DocumentHandler{
		db:        db,
		processor: processor,
		uploadDir: uploadDir,
	}
}

// SetInvalidator wires cache invalidation on corpus changes.
func (h *DocumentHandler) SetInvalidator(inv AssessmentInvalidator) {
	h.invalidator = inv
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	supplierID := c.Params("id")

	if _, err := h.db.GetSupplier(supplierID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Supplier not found",
			})
		}
		logger.Error("Failed to fetch supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to upload document",
		})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File type not allowed. Allowed types: .txt, .md, .html, .htm",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}

	fileID := uuid.New().String()
	supplierDir := filepath.Join(h.uploadDir, supplierID)
	if err := os.MkdirAll(supplierDir, 0755); err != nil {
		logger.Error("Failed to create upload directory", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
		})
	}

	storedPath := filepath.Join(supplierDir, fileID+ext)
	if err := os.WriteFile(storedPath, content, 0644); err != nil {
		logger.Error("Failed to save file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
		})
	}

	chunks, err := h.processor.Process(c.Context(), ingestion.Document{
		SupplierID: supplierID,
		FileID:     fileID,
		Filename:   fileHeader.Filename,
		StoredPath: storedPath,
		Content:    string(content),
		IsHTML:     ext == ".html" || ext == ".htm",
	})
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index document",
		})
	}

	// The corpus changed; cached verdicts may no longer reflect it.
	if h.invalidator != nil {
		if err := h.invalidator.InvalidateAssessments(c.Context()); err != nil {
			logger.Warn("Failed to invalidate cached assessments", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Document uploaded successfully",
		"file_id":  fileID,
		"filename": fileHeader.Filename,
		"chunks":   chunks,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	supplierID := c.Params("id")

	if _, err := h.db.GetSupplier(supplierID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Supplier not found",
			})
		}
		logger.Error("Failed to fetch supplier", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve documents",
		})
	}

	docs, err := h.db.GetSupplierDocuments(supplierID)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve documents",
		})
	}

	out := make([]fiber.Map, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fiber.Map{
			"id":          doc.FileID,
			"filename":    doc.Filename,
			"size":        doc.FileSize,
			"extension":   doc.Extension,
			"chunks":      doc.ChunkCount,
			"uploaded_at": doc.UploadedAt.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{"documents": out})
}
