package server

import (
	"spacechat/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CreateSpaceRequest is the body of POST /api/spaces.
type CreateSpaceRequest struct {
	Name        string `json:"name" validate:"required,max=80"`
	Description string `json:"description" validate:"max=500"`
}

// ListSpaces handles GET /api/spaces?q=
func (s *Server) ListSpaces(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	views, err := s.coordinator.ListSpaces(c.UserContext(), identity(c), c.Query("q"), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"spaces": views,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// CreateSpace handles POST /api/spaces
func (s *Server) CreateSpace(c *fiber.Ctx) error {
	var req CreateSpaceRequest
	if err := bindBody(c, &req); err != nil {
		return models.RespondWithDraft(c, err, req)
	}

	space, err := s.coordinator.CreateSpace(c.UserContext(), identity(c), req.Name, req.Description)
	if err != nil {
		// The form is echoed back so a taken name can be edited in place.
		return models.RespondWithDraft(c, err, req)
	}
	return c.Status(fiber.StatusCreated).JSON(space)
}

// JoinSpace handles POST /api/spaces/:id/join
func (s *Server) JoinSpace(c *fiber.Ctx) error {
	space, err := s.coordinator.JoinSpace(c.UserContext(), identity(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(space)
}

// LeaveSpace handles POST /api/spaces/:id/leave
func (s *Server) LeaveSpace(c *fiber.Ctx) error {
	space, err := s.coordinator.LeaveSpace(c.UserContext(), identity(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(space)
}

// DeleteSpace handles DELETE /api/spaces/:id
func (s *Server) DeleteSpace(c *fiber.Ctx) error {
	if err := s.coordinator.DeleteSpace(c.UserContext(), identity(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
