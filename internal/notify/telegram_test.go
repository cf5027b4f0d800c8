package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestTelegram(api string) *TelegramSender {
	t := NewTelegramSender("test-token", "42")
	t.api = api
	return t
}

func TestTelegramSendEscapesHTML(t *testing.T) {
	var got telegramRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer srv.Close()

	sender := newTestTelegram(srv.URL)
	if err := sender.Send(context.Background(), "Spike <alert>", "Will X & Y happen?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ChatID != "42" {
		t.Fatalf("chat_id = %q, want 42", got.ChatID)
	}
	if got.ParseMode != "HTML" || !got.DisableWebPreviews {
		t.Fatalf("parse settings wrong: %+v", got)
	}
	if !strings.Contains(got.Text, "&lt;alert&gt;") || !strings.Contains(got.Text, "&amp;") {
		t.Fatalf("markup not escaped: %q", got.Text)
	}
	if !strings.HasPrefix(got.Text, "<b>") {
		t.Fatalf("title not bolded: %q", got.Text)
	}
}

func TestTelegramSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Telegram can reject with HTTP 200 and ok=false.
		json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	sender := newTestTelegram(srv.URL)
	err := sender.Send(context.Background(), "title", "message")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("want api error with description, got %v", err)
	}
}
