package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNullNotifierIsNoOp(t *testing.T) {
	var n EventNotifier = NullNotifier{}
	if err := n.NotifyNovelty(context.Background(), &Source{ID: "s1"}, "http://a"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestDiscordNotifierNoOpWhenNoWebhooksConfigured(t *testing.T) {
	n := &DiscordNotifier{}
	if err := n.NotifyNovelty(context.Background(), &Source{ID: "s1"}, "http://a"); err != nil {
		t.Fatalf("expected no error with no webhooks configured, got %v", err)
	}
}

func TestDiscordNotifierPostsEmbedToConfiguredWebhook(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := &DiscordNotifier{
		webhookURLs: []string{server.URL},
		httpClient:  &http.Client{},
		maxRetries:  0,
	}

	err := n.NotifyNovelty(context.Background(), &Source{ID: "s1", Name: "Example"}, "http://example.com/a")
	if err != nil {
		t.Fatalf("NotifyNovelty: %v", err)
	}

	select {
	case ct := <-received:
		if ct != "application/json" {
			t.Fatalf("Content-Type = %q, want application/json", ct)
		}
	default:
		t.Fatal("expected the webhook to receive a request")
	}
}

func TestDiscordNotifierReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := &DiscordNotifier{
		webhookURLs: []string{server.URL},
		httpClient:  &http.Client{},
		maxRetries:  0,
	}

	if err := n.NotifyNovelty(context.Background(), &Source{ID: "s1"}, "http://a"); err == nil {
		t.Fatal("expected an error for a non-2xx webhook response")
	}
}

func TestTruncateStringCutsOnWordBoundary(t *testing.T) {
	s := "the quick brown fox jumps over the lazy dog"
	got := truncateString(s, 13)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated string to end with ..., got %q", got)
	}
	if strings.Contains(got[:len(got)-3], " jum") {
		t.Fatalf("expected the cut to land on a word boundary, got %q", got)
	}
}

func TestTruncateStringLeavesShortStringsUnchanged(t *testing.T) {
	if got := truncateString("short", 100); got != "short" {
		t.Fatalf("got %q, want unchanged %q", got, "short")
	}
}

func TestSanitizeWebhookURLMasksToken(t *testing.T) {
	got := sanitizeWebhookURL("https://discord.com/api/webhooks/123/secret-token")
	if strings.Contains(got, "secret-token") {
		t.Fatalf("expected the token to be masked, got %q", got)
	}
	if !strings.HasSuffix(got, "***") {
		t.Fatalf("expected masked output to end with ***, got %q", got)
	}
}
