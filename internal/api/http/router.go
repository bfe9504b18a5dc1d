package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/rmf-intake/internal/api/http/handlers"
	"github.com/spec-kit/rmf-intake/internal/auth"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health           *handlers.HealthHandler
	Tickets          *handlers.TicketsHandler
	Reference        *handlers.ReferenceHandler
	Guard            *auth.StaffGuard
	Metrics          *observability.Metrics
	UploadPathPrefix string
}

// RegisterRoutes wires HTTP routes. Intake and lookups are public; staff
// mutations sit behind the guard and deletion needs an admin.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	uploads := cfg.UploadPathPrefix
	if uploads == "" {
		uploads = "/uploads"
	}
	app.Get(uploads+"/:filename", cfg.Tickets.ServeAsset)

	api := app.Group("/api")
	staff := cfg.Guard.Handle
	admin := cfg.Guard.RequireRole(domain.StaffRoleAdmin)

	api.Get("/categories", cfg.Reference.ListCategories)
	api.Post("/categories", staff, admin, cfg.Reference.CreateCategory)
	api.Patch("/categories/:id", staff, admin, cfg.Reference.SetCategoryStatus)
	api.Get("/locations", cfg.Reference.ListLocations)
	api.Post("/locations", staff, admin, cfg.Reference.CreateLocation)

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:controlNumber", cfg.Tickets.GetTicket)
	tickets.Get("/:controlNumber/history", cfg.Tickets.History)
	tickets.Put("/:controlNumber", staff, cfg.Tickets.UpdateTicket)
	tickets.Patch("/:controlNumber/status", staff, cfg.Tickets.UpdateStatus)
	tickets.Delete("/:controlNumber", staff, admin, cfg.Tickets.DeleteTicket)
	tickets.Post("/:controlNumber/remarks", staff, cfg.Tickets.AddRemark)
	tickets.Put("/:controlNumber/remarks/:remarkId", staff, cfg.Tickets.EditRemark)
}
