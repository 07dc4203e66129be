package server

import (
	"net/url"

	"spacechat/internal/featureflags"
	"spacechat/internal/models"

	"github.com/gofiber/fiber/v2"
)

// RegisterRequest is the body of POST /api/users.
type RegisterRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

// RegisterUser handles POST /api/users
func (s *Server) RegisterUser(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := bindBody(c, &req); err != nil {
		return respondError(c, err)
	}

	user, err := s.coordinator.RegisterUser(c.UserContext(), identity(c), req.FirstName, req.LastName)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// GetMe handles GET /api/users/me
func (s *Server) GetMe(c *fiber.Ctx) error {
	user, err := s.coordinator.Me(c.UserContext(), identity(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"user":            user,
		"block_threshold": s.moderation.Threshold(),
	})
}

// GetMyFeatureFlags handles GET /api/users/me/feature-flags
func (s *Server) GetMyFeatureFlags(c *fiber.Ctx) error {
	id := identity(c)
	flags := s.featureFlags.Snapshot(id.Email)
	flags[featureflags.MessageLikes] = s.coordinator.LikesEnabled(id)
	return c.JSON(fiber.Map{"flags": flags})
}

// UnblockUser handles POST /api/users/:email/unblock
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return respondError(c, models.NewValidationError("Invalid email"))
	}

	user, err := s.coordinator.Unblock(c.UserContext(), identity(c), email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}
