package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"exchange-mm/internal/config"
)

// fakeBot is a minimal BotController for handler tests.
type fakeBot struct {
	mu        sync.Mutex
	running   bool
	overrides map[string]int
	settings  SettingsUpdate
	events    chan Event
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		running:   true,
		overrides: make(map[string]int),
		events:    make(chan Event, 10),
	}
}

func (f *fakeBot) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		Running:   f.running,
		Timestamp: time.Now(),
		Config:    ConfigSummary{Sport: "baseball_mlb", Bookmaker: "pinnacle"},
		Stats: Stats{
			Cycles:       7,
			LinesByPhase: map[string]int{"active": 2},
			LastErrors:   map[string]string{},
		},
	}
}

func (f *fakeBot) Events() <-chan Event { return f.events }

func (f *fakeBot) SchedulerRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeBot) StartScheduler() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *fakeBot) StopScheduler() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeBot) SetOverride(refID string, exchangeID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[refID] = exchangeID
}

func (f *fakeBot) RemoveOverride(refID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.overrides, refID)
}

func (f *fakeBot) Overrides() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.overrides))
	for k, v := range f.overrides {
		out[k] = v
	}
	return out
}

func (f *fakeBot) UpdateSettings(s SettingsUpdate) error {
	if s.PollIntervalSeconds != nil && *s.PollIntervalSeconds < 60 {
		return fmt.Errorf("poll interval must be at least 60 seconds")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	return nil
}

func newTestServer(bot BotController) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(config.AdminConfig{Port: 0}, bot, logger).server.Handler
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(newFakeBot())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	h := newTestServer(newFakeBot())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !snap.Running || snap.Stats.Cycles != 7 {
		t.Errorf("snapshot = running %v cycles %d, want running with 7 cycles",
			snap.Running, snap.Stats.Cycles)
	}
}

func TestHandleControl(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	h := newTestServer(bot)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/control",
		strings.NewReader(`{"action":"stop"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: status = %d, want 200", rr.Code)
	}
	if bot.SchedulerRunning() {
		t.Fatal("scheduler should be stopped")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/control",
		strings.NewReader(`{"action":"start"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", rr.Code)
	}
	if !bot.SchedulerRunning() {
		t.Fatal("scheduler should be running")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/control",
		strings.NewReader(`{"action":"reboot"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: status = %d, want 400", rr.Code)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	h := newTestServer(bot)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/overrides",
		strings.NewReader(`{"reference_event_id":"ref-9","exchange_event_id":314}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("set: status = %d, want 200", rr.Code)
	}
	if got := bot.Overrides()["ref-9"]; got != 314 {
		t.Fatalf("override = %d, want 314", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/overrides", nil))
	var listed map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if listed["ref-9"] != 314 {
		t.Errorf("listed overrides = %v", listed)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/overrides/ref-9", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, want 200", rr.Code)
	}
	if len(bot.Overrides()) != 0 {
		t.Errorf("overrides should be empty: %v", bot.Overrides())
	}
}

func TestSetOverrideValidation(t *testing.T) {
	t.Parallel()
	h := newTestServer(newFakeBot())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/overrides",
		strings.NewReader(`{"reference_event_id":""}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleUpdateSettings(t *testing.T) {
	t.Parallel()
	bot := newFakeBot()
	h := newTestServer(bot)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"poll_interval_seconds":120}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if bot.settings.PollIntervalSeconds == nil || *bot.settings.PollIntervalSeconds != 120 {
		t.Errorf("settings not applied: %+v", bot.settings)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"poll_interval_seconds":10}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid interval: status = %d, want 422", rr.Code)
	}
}
