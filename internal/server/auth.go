package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"spacechat/internal/middleware"
	"spacechat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const wsTicketTTL = 30 * time.Second

func wsTicketKey(ticket string) string {
	return "ws_ticket:" + ticket
}

// AuthRequired accepts a single-use WebSocket ticket on /api/ws paths and a
// bearer token everywhere.
func (s *Server) AuthRequired() fiber.Handler {
	verify := s.verifier.AuthRequired()
	return func(c *fiber.Ctx) error {
		ticket := c.Query("ticket")
		if ticket == "" || !strings.HasPrefix(c.Path(), "/api/ws") {
			return verify(c)
		}

		email, err := s.redeemWSTicket(c.Context(), ticket)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
		}

		c.Locals(middleware.LocalsUserID, email)
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, email)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func (s *Server) redeemWSTicket(ctx context.Context, ticket string) (string, error) {
	if s.redis == nil {
		return "", errors.New("tickets require redis")
	}
	email, err := s.redis.GetDel(ctx, wsTicketKey(ticket)).Result()
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", redis.Nil
	}
	return email, nil
}

// IssueWSTicket returns a short-lived, single-use ticket for opening a
// WebSocket without putting the bearer token in the URL.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("websocket tickets unavailable")))
	}

	id := identity(c)
	ticket := uuid.NewString()
	if err := s.redis.Set(c.Context(), wsTicketKey(ticket), id.Email, wsTicketTTL).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}
