package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestRepoLogger_CarriesCorrelationID(t *testing.T) {
	buf := captureLogs(t)
	ctx := WithCorrelationID(context.Background(), "req-42")

	NewRepoLogger("messages").LogCreate(ctx, map[string]any{"seq": 7})

	rec := lastRecord(t, buf)
	assert.Equal(t, "repository create", rec["msg"])
	assert.Equal(t, "messages", rec["table"])
	assert.Equal(t, "req-42", rec["correlation_id"])
	assert.EqualValues(t, 7, rec["seq"])
}

func TestRepoLogger_Disabled(t *testing.T) {
	buf := captureLogs(t)
	Config.EnableRepoLogging = false
	t.Cleanup(func() { Config.EnableRepoLogging = true })

	l := NewRepoLogger("spaces")
	l.LogDelete(context.Background(), nil)
	l.LogError(context.Background(), errors.New("boom"), "delete_space")

	assert.Zero(t, buf.Len())
}

func TestWSLogger_Disconnect(t *testing.T) {
	buf := captureLogs(t)

	NewWSLogger("feed").LogDisconnect(context.Background(), "ana@example.com", "s1", "space_deleted")

	rec := lastRecord(t, buf)
	assert.Equal(t, "websocket disconnected", rec["msg"])
	assert.Equal(t, "feed", rec["hub"])
	assert.Equal(t, "space_deleted", rec["reason"])
}

func TestExtractCorrelationID_Missing(t *testing.T) {
	assert.Empty(t, ExtractCorrelationID(context.Background()))
}
