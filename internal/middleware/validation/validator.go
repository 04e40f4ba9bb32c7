package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Queries are free English text, so single keywords like "drop" or
// "select" are legitimate. Only multi-token SQL constructs are rejected.
var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(\bunion\s+(all\s+)?select\b|\bdrop\s+table\b|\binsert\s+into\b|\bdelete\s+from\b|\bexec\s*\(|;\s*--|'\s*or\s+'?1'?\s*=\s*'?1)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	vendorIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

type Config struct {
	MaxQueryLength      int
	MaxVendorIDs        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware guards the analyze surface: content-type allowlist, query
// length and injection checks, and vendor-id shape checks before the
// request reaches the engine.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxVendorIDs == 0 {
		cfg.MaxVendorIDs = 50
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == "POST" && strings.HasSuffix(c.Path(), "/analyze") {
			var req struct {
				Query     string   `json:"query"`
				VendorIDs []string `json:"vendor_ids"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if containsSQLInjection(req.Query) || containsXSS(req.Query) {
				cfg.Logger.Warn("Suspicious query content rejected",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}

			if len(req.VendorIDs) > cfg.MaxVendorIDs {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Too many vendor ids",
				})
			}

			for _, id := range req.VendorIDs {
				if !vendorIDPattern.MatchString(id) {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid vendor id format",
					})
				}
			}
		}

		return c.Next()
	}
}

func containsSQLInjection(input string) bool {
	return sqlInjectionPattern.MatchString(input)
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
