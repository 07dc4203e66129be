package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve runs the app on a loopback listener and returns its address.
func (ts *testServer) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = ts.app.Listener(ln) }()
	t.Cleanup(func() { _ = ts.app.Shutdown() })
	return ln.Addr().String()
}

func dialFeed(t *testing.T, addr, spaceID, email string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, email))

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/ws/spaces/"+spaceID, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrameUntil reads frames until match accepts one. Page frames for
// unrelated changes may arrive in between.
func readFrameUntil(t *testing.T, conn *websocket.Conn, match func(feedFrame) bool) feedFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame feedFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		if match(frame) {
			return frame
		}
	}
}

func ofType(kind string) func(feedFrame) bool {
	return func(f feedFrame) bool { return f.Type == kind }
}

func lastText(page *PageResponse) string {
	if page == nil || len(page.Messages) == 0 {
		return ""
	}
	return page.Messages[len(page.Messages)-1].Body
}

func TestServer_FeedSocketStreamsWindowsAndOlderPages(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t, "a@example.com", "Ada", "Lovelace")

	_, body := ts.do(t, http.MethodPost, "/api/spaces", "a@example.com", fiber.Map{"name": "Sports"})
	spaceID := body["id"].(string)
	for i := 1; i <= 17; i++ {
		resp, body := ts.do(t, http.MethodPost, "/api/spaces/"+spaceID+"/messages", "a@example.com", fiber.Map{"text": "msg " + strconv.Itoa(i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	}

	addr := ts.serve(t)
	conn := dialFeed(t, addr, spaceID, "a@example.com")

	first := readFrameUntil(t, conn, ofType("page"))
	require.NotNil(t, first.Page)
	require.Len(t, first.Page.Messages, 15)
	assert.True(t, first.Page.HasMore)
	assert.Equal(t, "msg 17", lastText(first.Page))
	assert.True(t, first.Page.Messages[0].Mine)
	oldest := first.Page.OldestSeq

	resp, _ := ts.do(t, http.MethodPost, "/api/spaces/"+spaceID+"/messages", "a@example.com", fiber.Map{"text": "live"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	live := readFrameUntil(t, conn, func(f feedFrame) bool {
		return f.Type == "page" && lastText(f.Page) == "live"
	})
	assert.Len(t, live.Page.Messages, 15)

	require.NoError(t, conn.WriteJSON(feedRequest{Type: "load_older", Cursor: oldest, Limit: 5}))
	older := readFrameUntil(t, conn, ofType("older"))
	require.NotNil(t, older.Page)
	assert.False(t, older.Page.HasMore)
	texts := make([]string, 0, len(older.Page.Messages))
	for _, m := range older.Page.Messages {
		texts = append(texts, m.Body)
	}
	assert.ElementsMatch(t, []string{"msg 1", "msg 2"}, texts)

	resp, _ = ts.do(t, http.MethodDelete, "/api/spaces/"+spaceID, "a@example.com", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	closed := readFrameUntil(t, conn, ofType("closed"))
	assert.Equal(t, spaceID, closed.SpaceID)

	// The server ends the socket after the closed frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool {
		return ts.feedHub.ListenerCount(spaceID) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_FeedSocketReleasesListenerOnDisconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t, "a@example.com", "Ada", "Lovelace")
	ts.register(t, "b@example.com", "Bob", "Builder")

	_, body := ts.do(t, http.MethodPost, "/api/spaces", "a@example.com", fiber.Map{"name": "Sports"})
	spaceID := body["id"].(string)
	ts.do(t, http.MethodPost, "/api/spaces/"+spaceID+"/join", "b@example.com", nil)

	addr := ts.serve(t)
	connA := dialFeed(t, addr, spaceID, "a@example.com")
	connB := dialFeed(t, addr, spaceID, "b@example.com")
	readFrameUntil(t, connA, ofType("page"))
	readFrameUntil(t, connB, ofType("page"))
	assert.Equal(t, 2, ts.feedHub.ListenerCount(spaceID))

	require.NoError(t, connB.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, connB.Close())

	assert.Eventually(t, func() bool {
		return ts.feedHub.ListenerCount(spaceID) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The remaining socket still follows the space.
	resp, _ := ts.do(t, http.MethodPost, "/api/spaces/"+spaceID+"/messages", "b@example.com", fiber.Map{"text": "still here"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	frame := readFrameUntil(t, connA, func(f feedFrame) bool {
		return f.Type == "page" && lastText(f.Page) == "still here"
	})
	assert.False(t, frame.Page.Messages[len(frame.Page.Messages)-1].Mine)
}

func TestServer_FeedSocketRejectsNonMember(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t, "a@example.com", "Ada", "Lovelace")
	ts.register(t, "b@example.com", "Bob", "Builder")

	_, body := ts.do(t, http.MethodPost, "/api/spaces", "a@example.com", fiber.Map{"name": "Sports"})
	spaceID := body["id"].(string)

	addr := ts.serve(t)
	conn := dialFeed(t, addr, spaceID, "b@example.com")
	frame := readFrameUntil(t, conn, ofType("error"))
	assert.NotEmpty(t, frame.Code)
	assert.Equal(t, 0, ts.feedHub.ListenerCount(spaceID))
}
