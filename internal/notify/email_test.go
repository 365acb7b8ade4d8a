package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastSender(t *testing.T, url string) *EmailSender {
	t.Helper()
	s := NewEmailSender(url, "re_test_key", "alerts@pricewatch.app", slog.New(slog.DiscardHandler))
	s.baseBackoff = time.Millisecond
	s.maxBackoff = 5 * time.Millisecond
	return s
}

func testEmail() Email {
	return Email{
		To:      []string{"user@example.com"},
		Subject: "Price Alert: Widget is now $9.99",
		HTML:    "<p>Widget dropped to $9.99</p>",
		Text:    "Widget dropped to $9.99",
		Tags:    []Tag{{Name: "type", Value: "price_alert"}},
	}
}

func TestEmailSendSuccess(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/emails" {
			t.Errorf("path = %q, want /emails", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"email-abc-123"}`))
	}))
	defer srv.Close()

	s := fastSender(t, srv.URL)
	result, err := s.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "email-abc-123" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if auth != "Bearer re_test_key" {
		t.Errorf("authorization = %q", auth)
	}
	if got.From != "alerts@pricewatch.app" {
		t.Errorf("from = %q", got.From)
	}
	if len(got.To) != 1 || got.To[0] != "user@example.com" {
		t.Errorf("to = %v", got.To)
	}
	if got.Subject == "" || got.HTML == "" || got.Text == "" {
		t.Errorf("incomplete payload: %+v", got)
	}
}

func TestEmailSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"email-after-retry"}`))
	}))
	defer srv.Close()

	s := fastSender(t, srv.URL)
	result, err := s.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "email-after-retry" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestEmailSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := fastSender(t, srv.URL)
	_, err := s.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("err = %v, want attempt count", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestEmailSendRejectionIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"name":"validation_error","message":"Invalid to address"}}`))
	}))
	defer srv.Close()

	s := fastSender(t, srv.URL)
	_, err := s.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "Invalid to address") {
		t.Errorf("err = %v, want API error message", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on rejection)", n)
	}
}

func TestEmailSendUnconfigured(t *testing.T) {
	s := NewEmailSender(ResendBaseURL, "", "", slog.New(slog.DiscardHandler))
	if s.Configured() {
		t.Error("sender with no key reports configured")
	}
	if _, err := s.Send(context.Background(), testEmail()); err == nil {
		t.Error("expected error from unconfigured sender")
	}
}

func TestEmailSendNoRecipients(t *testing.T) {
	s := fastSender(t, "http://127.0.0.1:0")
	e := testEmail()
	e.To = nil
	if _, err := s.Send(context.Background(), e); err == nil || !strings.Contains(err.Error(), "no recipients") {
		t.Errorf("err = %v, want no recipients", err)
	}
}

func TestEmailSendContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewEmailSender(srv.URL, "re_test_key", "alerts@pricewatch.app", slog.New(slog.DiscardHandler))
	// Long backoff so cancellation lands during the retry wait.
	s.baseBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, testEmail())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("err = %v, want context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}
}
