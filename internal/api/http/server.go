package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/observability"
)

// multipartOverhead leaves room for form fields next to a maximum-size file,
// so oversize uploads reach the validator instead of being cut off by fiber.
const multipartOverhead = 1 << 20

// AppOptions configures the fiber application.
type AppOptions struct {
	Name           string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// NewApp builds the fiber app with the shared middleware chain.
func NewApp(opts AppOptions) *fiber.App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bodyLimit := fiber.DefaultBodyLimit
	if limit := int(opts.MaxUploadBytes) + multipartOverhead; limit > bodyLimit {
		bodyLimit = limit
	}
	app := fiber.New(fiber.Config{
		AppName:               opts.Name,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, logger, opts.Metrics, opts.RequestTimeout)
	return app
}
