package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/observability"
	"spacechat/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

var wsLog = observability.NewWSLogger("feed")

// feedFrame is one server-to-client message on a feed socket.
type feedFrame struct {
	Type    string        `json:"type"`
	Page    *PageResponse `json:"page,omitempty"`
	SpaceID string        `json:"space_id,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// feedRequest is one client-to-server message on a feed socket.
type feedRequest struct {
	Type   string `json:"type"`
	Cursor int64  `json:"cursor"`
	Limit  int    `json:"limit"`
}

func marshalFrame(frame feedFrame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal feed frame error: %v", err)
		return nil
	}
	return data
}

func errorFrame(err error) feedFrame {
	frame := feedFrame{Type: "error", Error: err.Error()}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		frame.Error = appErr.Message
		frame.Code = appErr.Code
	}
	return frame
}

func wsUserID(conn *websocket.Conn) (string, bool) {
	email, ok := conn.Locals("userID").(string)
	return email, ok && email != ""
}

// WebsocketHandler handles /api/ws, the per-user notice channel.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		email, ok := wsUserID(conn)
		if !ok {
			if cerr := conn.Close(); cerr != nil {
				log.Printf("websocket close error: %v", cerr)
			}
			return
		}

		client, err := s.hub.Register(email, conn)
		if err != nil {
			log.Printf("WebSocket Notification: Failed to register user %s: %v", email, err)
			_ = conn.WriteMessage(websocket.TextMessage, marshalFrame(feedFrame{Type: "error", Error: err.Error()}))
			_ = conn.Close()
			return
		}
		defer s.hub.UnregisterClient(client)

		go client.WritePump()
		client.ReadPump()
	})
}

// WebSocketFeedHandler handles /api/ws/spaces/:id. It pushes the full latest
// window whenever it changes, answers load_older requests, and also carries
// the user's moderation notices.
func (s *Server) WebSocketFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		email, ok := wsUserID(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		id := service.NewIdentity(email)
		spaceID := conn.Params("id")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, page, err := s.coordinator.OpenFeed(ctx, id, spaceID, 0)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, marshalFrame(errorFrame(err)))
			_ = conn.Close()
			return
		}
		defer sub.Cancel()

		client, err := s.hub.Register(email, conn)
		if err != nil {
			log.Printf("WebSocket Feed: Failed to register user %s: %v", email, err)
			_ = conn.WriteMessage(websocket.TextMessage, marshalFrame(feedFrame{Type: "error", Error: err.Error()}))
			_ = conn.Close()
			return
		}

		wsLog.LogConnect(ctx, email, spaceID)
		var spaceDeleted atomic.Bool

		var finishOnce sync.Once
		finish := func() {
			finishOnce.Do(func() {
				s.hub.UnregisterClient(client)
				close(client.Send)
			})
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var req feedRequest
			if err := json.Unmarshal(message, &req); err != nil {
				wsLog.LogError(ctx, email, spaceID, err, "invalid_frame")
				return
			}
			switch req.Type {
			case "load_older":
				older, err := s.coordinator.LoadOlder(ctx, id, spaceID, req.Cursor, req.Limit)
				if err != nil {
					c.TrySend(marshalFrame(errorFrame(err)))
					return
				}
				rendered := renderPage(older, email)
				c.TrySend(marshalFrame(feedFrame{Type: "older", Page: &rendered}))
			default:
				wsLog.LogMessage(ctx, email, spaceID, req.Type)
			}
		}

		initial := renderPage(page, email)
		client.SendWindow(marshalFrame(feedFrame{Type: "page", Page: &initial}))

		go client.WritePump()
		go func() {
			for {
				next, err := sub.Next(ctx)
				switch {
				case err == nil:
					rendered := renderPage(next, email)
					client.SendWindow(marshalFrame(feedFrame{Type: "page", Page: &rendered}))
				case models.HasCode(err, models.CodeNotFound):
					spaceDeleted.Store(true)
					client.TrySend(marshalFrame(feedFrame{Type: "closed", SpaceID: spaceID}))
					// WritePump flushes the closed frame, then closes the socket.
					finish()
					return
				case errors.Is(err, service.ErrSubscriptionClosed), errors.Is(err, context.Canceled):
					return
				default:
					wsLog.LogError(ctx, email, spaceID, err, "feed_refresh")
					client.TrySend(marshalFrame(errorFrame(err)))
				}
			}
		}()

		client.ReadPump()
		cancel()
		finish()
		reason := "client_closed"
		if spaceDeleted.Load() {
			reason = "space_deleted"
		}
		wsLog.LogDisconnect(ctx, email, spaceID, reason)

		sub.Cancel()
		wsLog.LogLifecycle(ctx, "feed_released", map[string]any{
			"space_id":  spaceID,
			"listeners": s.feedHub.ListenerCount(spaceID),
		})
	})
}
