package api

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"exchange-mm/internal/config"
)

// readEvent reads one stream event and returns its type.
func readEvent(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	return evt.Type
}

func TestStreamBroadcastsSnapshotAfterCycle(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := NewServer(config.AdminConfig{Port: 0}, bot, logger)
	go srv.hub.Run()
	go srv.consumeEvents()

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The handler greets every new client with the current snapshot.
	if got := readEvent(t, conn); got != "snapshot" {
		t.Fatalf("first event = %q, want initial snapshot", got)
	}

	bot.events <- Event{
		Type:      "cycle",
		Timestamp: time.Now(),
		Data:      CycleInfo{Cycle: 8, Lines: 2},
	}

	if got := readEvent(t, conn); got != "cycle" {
		t.Fatalf("event = %q, want cycle", got)
	}
	// A completed cycle pushes a refreshed snapshot to the stream.
	if got := readEvent(t, conn); got != "snapshot" {
		t.Fatalf("event = %q, want snapshot after cycle", got)
	}

	// Non-cycle events are passed through without a snapshot chaser.
	bot.events <- Event{Type: "cancel", Timestamp: time.Now(), LineID: "l-1"}
	if got := readEvent(t, conn); got != "cancel" {
		t.Fatalf("event = %q, want cancel", got)
	}
}
