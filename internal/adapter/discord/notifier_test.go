package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/arbiter/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	if n := NewNotifier(""); n.Name() != "discord" {
		t.Fatalf("expected 'discord', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("").Send(context.Background(), notifier.Notification{Title: "test"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{
		Title:     "Decision needs review",
		Message:   "high disagreement",
		Level:     notifier.LevelCritical,
		Source:    "decision.awaiting_human",
		RequestID: "req-1",
		Link:      "https://arbiter.example.com/api/v1/decisions/req-1/history",
		Fields:    map[string]string{"outcome": "awaiting_human", "confidence": "0.61"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Color != 0xE74C3C {
		t.Errorf("color = %#x, want red", e.Color)
	}
	if len(e.Fields) != 2 || e.Fields[0].Name != "confidence" {
		t.Errorf("fields = %+v, want sorted", e.Fields)
	}
	if e.Footer == nil || !strings.Contains(e.Footer.Text, "req-1") {
		t.Errorf("footer = %+v", e.Footer)
	}
	if e.URL == "" {
		t.Error("missing link")
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad embed"}`))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestRegisteredFactory(t *testing.T) {
	if _, err := notifier.New("discord", map[string]string{}); !errors.Is(err, notifier.ErrNotConfigured) {
		t.Errorf("empty config err = %v, want ErrNotConfigured", err)
	}
	n, err := notifier.New("discord", map[string]string{"webhook_url": "https://discord.example/hook"})
	if err != nil || n.Name() != "discord" {
		t.Fatalf("factory = %v, %v", n, err)
	}
}
