// Package llm provides the OpenRouter-compatible chat-completions client
// shared by LLM extraction and selector regeneration. All calls pass the
// per-minute limiter and the daily token budget before any bytes go out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	// llmRateKey is the sliding-window key shared by every completion call,
	// regardless of which model in the chain serves it.
	llmRateKey = "llm"

	requestTimeout = 60 * time.Second
	rateWindow     = time.Minute

	// temperature is pinned low: extraction and selector generation want
	// deterministic JSON, not prose.
	temperature = 0.1
)

// Client calls an OpenRouter-compatible chat-completions endpoint, walking
// a model chain (primary first, then fallbacks) so a single model outage
// does not take down extraction or healing.
type Client struct {
	baseURL string
	apiKey  string
	models  []string

	limiter   domain.RateLimiter
	perMinute int
	budget    domain.TokenBudget

	httpClient *http.Client
}

// NewClient creates a chat-completions client.
//
// baseURL is the API root, e.g. "https://openrouter.ai/api/v1". models is
// the chain to try in order; it must not be empty when the client is used.
func NewClient(baseURL, apiKey string, models []string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		models:  models,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// SetRateLimiter caps completion calls at perMinute over a sliding window.
func (c *Client) SetRateLimiter(rl domain.RateLimiter, perMinute int) {
	c.limiter = rl
	c.perMinute = perMinute
}

// SetTokenBudget attaches the daily token meter. Calls are refused up front
// once the day's allowance is gone.
func (c *Client) SetTokenBudget(tb domain.TokenBudget) {
	c.budget = tb
}

// Enabled reports whether the client has credentials. The extraction
// waterfall skips its LLM stage when this is false.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Completion is the result of one chat-completions call.
type Completion struct {
	Text       string
	Model      string // model that actually answered, not necessarily the primary
	TokensUsed int
}

// chatRequest is the chat-completions request envelope.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the chat-completions response envelope. Error is set by
// OpenRouter on per-model failures that still return 200.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends system+prompt through the model chain and returns the
// first successful completion. The token budget is checked against an
// estimate before the call and debited with the provider-reported usage
// after it.
func (c *Client) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	if !c.Enabled() {
		return Completion{}, fmt.Errorf("llm: complete: no API key configured")
	}
	if len(c.models) == 0 {
		return Completion{}, fmt.Errorf("llm: complete: no models configured")
	}

	estimate := estimateTokens(system) + estimateTokens(prompt)
	if err := c.checkBudget(ctx, estimate); err != nil {
		return Completion{}, err
	}
	if err := c.waitForSlot(ctx); err != nil {
		return Completion{}, err
	}

	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	var lastErr error
	for _, model := range c.models {
		comp, err := c.doChat(ctx, model, messages)
		if err == nil {
			c.debit(ctx, comp, estimate)
			return comp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return Completion{}, fmt.Errorf("llm: complete: all %d models failed: %w", len(c.models), lastErr)
}

// checkBudget refuses the call when the estimated spend does not fit in
// what remains of today's allowance.
func (c *Client) checkBudget(ctx context.Context, estimate int) error {
	if c.budget == nil {
		return nil
	}
	remaining, err := c.budget.Remaining(ctx)
	if err != nil {
		return fmt.Errorf("llm: token budget check: %w", err)
	}
	if remaining < estimate {
		return fmt.Errorf("llm: %w: %d tokens remaining, need ~%d", domain.ErrTokenBudget, remaining, estimate)
	}
	return nil
}

// waitForSlot blocks until the per-minute limiter admits one more call.
func (c *Client) waitForSlot(ctx context.Context) error {
	if c.limiter == nil || c.perMinute <= 0 {
		return nil
	}
	wait, err := c.limiter.WaitTime(ctx, llmRateKey, c.perMinute, rateWindow)
	if err != nil {
		return fmt.Errorf("llm: rate limit check: %w", err)
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("llm: rate limit wait: %w", domain.ErrContextDone)
		case <-timer.C:
		}
	}
	if err := c.limiter.Record(ctx, llmRateKey, rateWindow); err != nil {
		return fmt.Errorf("llm: rate limit record: %w", err)
	}
	return nil
}

// debit records the actual spend. The call already happened, so a refusal
// here (budget crossed between check and response) is swallowed; the next
// checkBudget will see the counter where it really is.
func (c *Client) debit(ctx context.Context, comp Completion, estimate int) {
	if c.budget == nil {
		return
	}
	tokens := comp.TokensUsed
	if tokens <= 0 {
		tokens = estimate
	}
	_ = c.budget.Consume(ctx, tokens)
}

// doChat performs one chat-completions request against a single model.
func (c *Client) doChat(ctx context.Context, model string, messages []chatMessage) (Completion, error) {
	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return Completion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Completion{}, fmt.Errorf("model %s: %w", model, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("model %s: HTTP %d: %s", model, resp.StatusCode, truncateBody(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return Completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if chatResp.Error != nil {
		return Completion{}, fmt.Errorf("model %s: %s", model, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return Completion{}, fmt.Errorf("model %s: empty completion", model)
	}

	servedBy := chatResp.Model
	if servedBy == "" {
		servedBy = model
	}

	return Completion{
		Text:       chatResp.Choices[0].Message.Content,
		Model:      servedBy,
		TokensUsed: chatResp.Usage.TotalTokens,
	}, nil
}

// estimateTokens approximates token count at four characters per token,
// the usual ballpark for English prose and HTML.
func estimateTokens(s string) int {
	return len(s) / 4
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
