package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifierSend(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
	})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	alert := testAlert("webhook")
	alert.Agent = "billing-bot"
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Rule != "test-rule" {
		t.Errorf("rule = %q, want test-rule", got.Rule)
	}
	if got.Agent != "billing-bot" {
		t.Errorf("agent = %q, want billing-bot", got.Agent)
	}
	if got.Severity != "warning" {
		t.Errorf("severity = %q, want warning", got.Severity)
	}
}

func TestWebhookNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	if err := n.Send(context.Background(), testAlert("webhook")); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestWebhookConfigValidate(t *testing.T) {
	if _, err := NewWebhookNotifier(WebhookConfig{}); err == nil {
		t.Error("empty URL accepted")
	}
	if _, err := NewWebhookNotifier(WebhookConfig{URL: "ftp://x"}); err == nil {
		t.Error("non-http URL accepted")
	}
}
