package server

import (
	"spacechat/internal/models"
	"spacechat/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// SendMessageRequest is the body of POST /api/spaces/:id/messages.
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

// MessageResponse is a message as rendered to clients.
type MessageResponse struct {
	models.Message
	Mine bool `json:"mine"`
}

// PageResponse is a feed page as rendered to clients.
type PageResponse struct {
	SpaceID   string            `json:"space_id"`
	Messages  []MessageResponse `json:"messages"`
	HasMore   bool              `json:"has_more"`
	OldestSeq int64             `json:"oldest_seq,omitempty"`
}

func renderMessages(messages []models.Message, viewer string) []MessageResponse {
	return lo.Map(messages, func(m models.Message, _ int) MessageResponse {
		return MessageResponse{Message: m, Mine: m.SenderID == viewer}
	})
}

func renderPage(page *service.Page, viewer string) PageResponse {
	return PageResponse{
		SpaceID:   page.SpaceID,
		Messages:  renderMessages(page.Messages, viewer),
		HasMore:   page.HasMore,
		OldestSeq: page.OldestSeq,
	}
}

// GetMessages handles GET /api/spaces/:id/messages?before=<seq>&limit=
func (s *Server) GetMessages(c *fiber.Ctx) error {
	id := identity(c)
	spaceID := c.Params("id")
	limit := c.QueryInt("limit", 0)

	var (
		page *service.Page
		err  error
	)
	if c.Query("before") == "" {
		page, err = s.coordinator.LatestPage(c.UserContext(), id, spaceID, limit)
	} else {
		page, err = s.coordinator.LoadOlder(c.UserContext(), id, spaceID, int64(c.QueryInt("before", 0)), limit)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(renderPage(page, id.Email))
}

// SendMessage handles POST /api/spaces/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := bindBody(c, &req); err != nil {
		return models.RespondWithDraft(c, err, req)
	}

	id := identity(c)
	msg, err := s.coordinator.SendMessage(c.UserContext(), id, c.Params("id"), req.Text)
	if err != nil {
		// The draft is echoed back so a blocked or failed send loses nothing.
		return models.RespondWithDraft(c, err, req)
	}
	return c.Status(fiber.StatusCreated).JSON(MessageResponse{Message: *msg, Mine: true})
}

// DeleteMessage handles DELETE /api/spaces/:id/messages/:messageId
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	err := s.coordinator.DeleteMessage(c.UserContext(), identity(c), c.Params("id"), c.Params("messageId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleLike handles POST /api/spaces/:id/messages/:messageId/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	id := identity(c)
	msg, liked, err := s.coordinator.ToggleLike(c.UserContext(), id, c.Params("id"), c.Params("messageId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": MessageResponse{Message: *msg, Mine: msg.SenderID == id.Email},
		"liked":   liked,
	})
}

// GetRecentMessages handles GET /api/messages/recent?limit=
func (s *Server) GetRecentMessages(c *fiber.Ctx) error {
	id := identity(c)
	messages, err := s.coordinator.RecentMessages(c.UserContext(), id, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": renderMessages(messages, id.Email)})
}
