// Command feedtail follows one space's live feed over a WebSocket and prints
// every window it receives. Type "more" to page back through history.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

type message struct {
	Seq        int64  `json:"seq"`
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
	Flagged    bool   `json:"flagged"`
	Mine       bool   `json:"mine"`
}

type page struct {
	Messages  []message `json:"messages"`
	HasMore   bool      `json:"has_more"`
	OldestSeq int64     `json:"oldest_seq"`
}

// frame covers both feed frames and moderation notices.
type frame struct {
	Type    string `json:"type"`
	Page    *page  `json:"page"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	email := flag.String("email", "", "Identity to connect as")
	secret := flag.String("secret", "your-secret-key-change-in-production", "JWT signing secret of the server")
	spaceID := flag.String("space", "", "Space ID to follow")
	flag.Parse()

	if *email == "" || *spaceID == "" {
		log.Fatal("both -email and -space are required")
	}

	token, err := signToken(*email, *secret)
	if err != nil {
		log.Fatalf("❌ Could not sign token: %v", err)
	}

	conn, err := dial(*host, *spaceID, token)
	if err != nil {
		log.Fatalf("❌ Could not connect: %v", err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("✅ Following space %s as %s", *spaceID, *email)

	var oldest atomic.Int64
	done := make(chan struct{})
	go readLoop(conn, &oldest, done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line := <-lines:
			if line != "more" {
				continue
			}
			cursor := oldest.Load()
			if cursor <= 1 {
				log.Println("Already at the beginning of the space")
				continue
			}
			req, _ := json.Marshal(map[string]any{"type": "load_older", "cursor": cursor})
			if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
				log.Printf("❌ Write failed: %v", err)
				return
			}
		}
	}
}

func signToken(email, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub": email,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// dial prefers a short-lived ticket and falls back to the bearer header when
// the server has no Redis to hold tickets.
func dial(host, spaceID, token string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/spaces/" + spaceID}
	header := http.Header{}

	if ticket, err := getTicket(host, token); err == nil {
		u.RawQuery = "ticket=" + url.QueryEscape(ticket)
	} else {
		log.Printf("Ticket unavailable (%v), using bearer header", err)
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func getTicket(host, token string) (string, error) {
	ticketURL := fmt.Sprintf("http://%s/api/ws/ticket", host)
	req, _ := http.NewRequest(http.MethodPost, ticketURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func readLoop(conn *websocket.Conn, oldest *atomic.Int64, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Connection closed: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("Unreadable frame: %s", data)
			continue
		}

		switch f.Type {
		case "page":
			printPage("window", f.Page, oldest, false)
		case "older":
			printPage("older", f.Page, oldest, true)
		case "moderation_notice":
			log.Printf("⚠️  [%s] %s", f.Level, f.Message)
		case "closed":
			log.Println("🛑 The space was deleted")
			return
		case "error":
			log.Printf("❌ %s (%s)", f.Error, f.Code)
		default:
			log.Printf("%s", data)
		}
	}
}

func printPage(label string, p *page, oldest *atomic.Int64, older bool) {
	if p == nil {
		return
	}
	fmt.Printf("── %s: %d messages (more=%t) ──\n", label, len(p.Messages), p.HasMore)
	for _, m := range p.Messages {
		marker := " "
		if m.Mine {
			marker = "*"
		}
		if m.Flagged {
			marker = "!"
		}
		fmt.Printf("%s #%d %s: %s\n", marker, m.Seq, m.SenderName, m.Text)
	}
	if len(p.Messages) == 0 {
		return
	}
	// Live windows only move the cursor on first load; older pages always do.
	if older || oldest.Load() == 0 {
		oldest.Store(p.Messages[0].Seq)
	}
}
