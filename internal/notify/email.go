package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// ResendBaseURL is the production endpoint of the Resend HTTP API.
	ResendBaseURL = "https://api.resend.com"

	emailTimeout = 10 * time.Second

	// maxSendAttempts bounds retries on transport failures. Rejections
	// (bad address, bad payload) are terminal on the first response.
	maxSendAttempts = 3
	baseSendBackoff = 2 * time.Second
	maxSendBackoff  = 30 * time.Second
)

// Tag is a key/value label attached to an outbound email for tracking.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Email is one message to deliver. HTML is required; Text is the plain
// alternative rendered for clients that do not display HTML.
type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
	Tags    []Tag
}

// SendResult reports a successful delivery.
type SendResult struct {
	MessageID string
}

// EmailSender delivers mail through a Resend-compatible HTTPS JSON API.
// Transport-level failures (connect errors, 5xx, 429) are retried with
// exponential backoff; API rejections are returned immediately.
type EmailSender struct {
	baseURL string
	apiKey  string
	from    string

	httpClient *http.Client
	logger     *slog.Logger

	baseBackoff time.Duration // first retry wait, doubles per attempt
	maxBackoff  time.Duration
}

// NewEmailSender creates an EmailSender posting to baseURL (normally
// ResendBaseURL) with the given API key and From address.
func NewEmailSender(baseURL, apiKey, from string, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		from:    from,
		httpClient: &http.Client{
			Timeout: emailTimeout,
		},
		logger:      logger.With(slog.String("component", "email")),
		baseBackoff: baseSendBackoff,
		maxBackoff:  maxSendBackoff,
	}
}

// Configured reports whether the sender has both credentials and a From
// address. The notifier skips delivery (and records the skip) when false.
func (s *EmailSender) Configured() bool {
	return s != nil && s.apiKey != "" && s.from != ""
}

// sendRequest is the Resend /emails request envelope.
type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// sendResponse is the Resend /emails response envelope.
type sendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers one email, retrying transport failures up to three
// attempts with 2s/4s backoff. A non-2xx status below 500 (other than
// 429) means the API rejected the message and is returned as-is.
func (s *EmailSender) Send(ctx context.Context, email Email) (SendResult, error) {
	if !s.Configured() {
		return SendResult{}, fmt.Errorf("notify: email channel not configured")
	}
	if len(email.To) == 0 {
		return SendResult{}, fmt.Errorf("notify: send email: no recipients")
	}

	body, err := json.Marshal(sendRequest{
		From:    s.from,
		To:      email.To,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Tags:    email.Tags,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("notify: marshal email: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		result, retryable, err := s.post(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return SendResult{}, err
		}
		if attempt == maxSendAttempts {
			break
		}

		backoff := s.baseBackoff << (attempt - 1)
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		s.logger.WarnContext(ctx, "email send failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SendResult{}, fmt.Errorf("notify: send email: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return SendResult{}, fmt.Errorf("notify: send email after %d attempts: %w", maxSendAttempts, lastErr)
}

// post performs one API call. The second return reports whether the
// failure is worth retrying.
func (s *EmailSender) post(ctx context.Context, body []byte) (SendResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, false, fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SendResult{}, false, fmt.Errorf("notify: send request: %w", ctx.Err())
		}
		return SendResult{}, true, fmt.Errorf("notify: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return SendResult{}, true, fmt.Errorf("notify: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return SendResult{}, false, fmt.Errorf("notify: decode response: %w", err)
		}
		return SendResult{MessageID: parsed.ID}, false, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return SendResult{}, true, fmt.Errorf("notify: email API status %d: %s", resp.StatusCode, apiErrorMessage(respBody))

	default:
		// 4xx other than 429: the message itself was rejected. Retrying
		// the identical payload cannot succeed.
		return SendResult{}, false, fmt.Errorf("notify: email rejected, status %d: %s", resp.StatusCode, apiErrorMessage(respBody))
	}
}

func apiErrorMessage(body []byte) string {
	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
