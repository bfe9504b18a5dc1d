package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/rmf-intake/internal/api/dto"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/service"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// ReferenceHandler exposes the categories and locations intake forms offer.
type ReferenceHandler struct {
	service *service.ReferenceService
}

// NewReferenceHandler constructs handler.
func NewReferenceHandler(referenceService *service.ReferenceService) *ReferenceHandler {
	return &ReferenceHandler{service: referenceService}
}

type categoryRequest struct {
	Name string `json:"name" form:"name"`
	Code string `json:"code" form:"code"`
}

type categoryStatusRequest struct {
	Active *bool `json:"active" form:"active"`
}

type locationRequest struct {
	Name string `json:"name" form:"name"`
}

// ListCategories GET /api/categories.
func (h *ReferenceHandler) ListCategories(c *fiber.Ctx) error {
	categories, err := h.service.ListCategories(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.CategoryResponse, 0, len(categories))
	for i := range categories {
		items = append(items, categoryResponse(&categories[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// CreateCategory POST /api/categories.
func (h *ReferenceHandler) CreateCategory(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	category, err := h.service.CreateCategory(c.UserContext(), req.Name, req.Code)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": categoryResponse(category)})
}

// SetCategoryStatus PATCH /api/categories/:id.
func (h *ReferenceHandler) SetCategoryStatus(c *fiber.Ctx) error {
	var req categoryStatusRequest
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return apperrors.NewValidationError("active flag required", []string{"active"})
	}
	category, err := h.service.SetCategoryActive(c.UserContext(), c.Params("id"), *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": categoryResponse(category)})
}

// ListLocations GET /api/locations.
func (h *ReferenceHandler) ListLocations(c *fiber.Ctx) error {
	locations, err := h.service.ListLocations(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.LocationResponse, 0, len(locations))
	for _, location := range locations {
		items = append(items, dto.LocationResponse{ID: location.ID, Name: location.Name})
	}
	return c.JSON(fiber.Map{"data": items})
}

// CreateLocation POST /api/locations.
func (h *ReferenceHandler) CreateLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	location, err := h.service.CreateLocation(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.LocationResponse{ID: location.ID, Name: location.Name}})
}

func categoryResponse(category *domain.Category) dto.CategoryResponse {
	return dto.CategoryResponse{ID: category.ID, Name: category.Name, Code: category.Code}
}
