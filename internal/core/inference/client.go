package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/metrics"
	"github.com/sentilens/sentilens/internal/observability"
)

const (
	// DefaultEndpoint is the hosted Twitter RoBERTa sentiment model.
	DefaultEndpoint = "https://api-inference.huggingface.co/models/cardiffnlp/twitter-roberta-base-sentiment-latest"

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxTextLength is the rune limit applied before sending.
	DefaultMaxTextLength = 512

	maxErrorMessage = 200
)

// Client classifies texts against a remote sentiment endpoint.
type Client struct {
	Endpoint      string
	APIKey        string
	PayloadStyle  PayloadStyle
	HTTPClient    *http.Client
	Timeout       time.Duration
	MaxTextLength int
	Retry         RetryPolicy
	Limiter       *engine.RateLimiter

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	Clock func() time.Time
}

// NewClient returns a client with defaults applied.
func NewClient(endpoint, apiKey string) *Client {
	target := strings.TrimSpace(endpoint)
	if target == "" {
		target = DefaultEndpoint
	}

	return &Client{
		Endpoint:      target,
		APIKey:        strings.TrimSpace(apiKey),
		PayloadStyle:  PayloadHuggingFace,
		Timeout:       DefaultTimeout,
		MaxTextLength: DefaultMaxTextLength,
		Retry:         DefaultRetryPolicy,
	}
}

// Validate reports configuration problems without contacting the provider.
func (c *Client) Validate() error {
	if c == nil {
		return &core.ConfigError{Field: "inference", Message: "client not configured"}
	}
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return &core.ConfigError{Field: "inference.endpoint", Message: "endpoint is required"}
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &core.ConfigError{Field: "inference.endpoint", Message: fmt.Sprintf("invalid endpoint %q", endpoint)}
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &core.ConfigError{Field: "inference.api_key", Message: "api key is required"}
	}
	if _, err := ParsePayloadStyle(string(c.PayloadStyle)); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return &core.ConfigError{Field: "inference.timeout", Message: "must be positive"}
	}
	if c.MaxTextLength < 1 {
		return &core.ConfigError{Field: "inference.max_text_length", Message: "must be at least 1"}
	}
	if c.Retry.Attempts < 1 {
		return &core.ConfigError{Field: "inference.retry.attempts", Message: "must be at least 1"}
	}
	return nil
}

// Ping checks the client is usable. It does not spend provider quota.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Validate()
}

// Classify analyzes one text. Every failure is reported in the result.
func (c *Client) Classify(ctx context.Context, text string) core.AnalysisResult {
	prepared, truncated, itemErr := c.prepare(text)
	if itemErr != nil {
		return core.Failed(0, itemErr)
	}

	body, err := c.PayloadStyle.encodeSingle(prepared)
	if err != nil {
		return core.Failed(0, core.InputError(fmt.Sprintf("encode request: %v", err)))
	}

	raw, attempts, itemErr := c.send(ctx, body, 1)
	if itemErr != nil {
		result := core.Failed(0, itemErr)
		result.Attempts = attempts
		result.Truncated = truncated
		return result
	}

	prediction, itemErr := parseSingle(raw)
	var result core.AnalysisResult
	if itemErr != nil {
		result = core.Failed(0, itemErr)
	} else {
		result = core.Succeeded(0, core.NormalizeLabel(prediction.Label), *prediction.Score)
	}
	result.Attempts = attempts
	result.Truncated = truncated
	return result
}

// ClassifyMany analyzes texts in one provider call. Result i belongs to
// texts[i]. Invalid texts fail individually and are not sent.
func (c *Client) ClassifyMany(ctx context.Context, texts []string) []core.AnalysisResult {
	results := make([]core.AnalysisResult, len(texts))
	truncated := make([]bool, len(texts))
	var (
		batch   []string
		indexes []int
	)
	for i, text := range texts {
		prepared, cut, itemErr := c.prepare(text)
		if itemErr != nil {
			results[i] = core.Failed(i, itemErr)
			continue
		}
		truncated[i] = cut
		batch = append(batch, prepared)
		indexes = append(indexes, i)
	}
	if len(batch) == 0 {
		return results
	}

	fail := func(itemErr *core.ItemError, attempts int) []core.AnalysisResult {
		for _, i := range indexes {
			results[i] = core.Failed(i, itemErr)
			results[i].Attempts = attempts
			results[i].Truncated = truncated[i]
		}
		return results
	}

	body, err := c.PayloadStyle.encodeMany(batch)
	if err != nil {
		return fail(core.InputError(fmt.Sprintf("encode request: %v", err)), 0)
	}

	raw, attempts, itemErr := c.send(ctx, body, len(batch))
	if itemErr != nil {
		return fail(itemErr, attempts)
	}

	predictions, itemErr := parseMany(raw, len(batch))
	if itemErr != nil {
		return fail(itemErr, attempts)
	}

	for n, i := range indexes {
		results[i] = core.Succeeded(i, core.NormalizeLabel(predictions[n].Label), *predictions[n].Score)
		results[i].Attempts = attempts
		results[i].Truncated = truncated[i]
	}
	return results
}

// prepare validates text and applies the rune limit.
func (c *Client) prepare(text string) (string, bool, *core.ItemError) {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, core.InputError("text is empty")
	}

	limit := c.MaxTextLength
	if limit <= 0 {
		limit = DefaultMaxTextLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return text, false, nil
	}

	runes := []rune(text)
	observability.Logger().Warn("Truncating input text",
		zap.Int("length", len(runes)),
		zap.Int("max_text_length", limit))
	return string(runes[:limit]), true, nil
}

// send posts body, retrying transient failures, and returns the raw
// response with the number of attempts made.
func (c *Client) send(ctx context.Context, body []byte, items int) ([]byte, int, *core.ItemError) {
	attempts := c.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	limiterKey := c.LimiterKey()

	for attempt := 1; ; attempt++ {
		if err := c.Limiter.Wait(ctx, limiterKey); err != nil {
			if ctx.Err() != nil {
				return nil, attempt - 1, core.Cancelled()
			}
			observability.Logger().Warn("Rate limiter unavailable", zap.Error(err))
		}

		raw, itemErr := c.do(ctx, body, attempt, items)
		if itemErr == nil {
			return raw, attempt, nil
		}
		if itemErr.Kind == core.KindRateLimit {
			if err := c.Limiter.Record429(ctx, limiterKey, c.Retry.clampWait(itemErr.RetryAfter)); err != nil {
				observability.Logger().Warn("Failed to record rate limit", zap.Error(err))
			}
		}
		if !itemErr.Retryable() || attempt >= attempts {
			return nil, attempt, itemErr
		}
		// A provider wait beyond the policy ceiling is reported, not slept.
		if itemErr.RetryAfter > c.Retry.waitCeiling() {
			return nil, attempt, itemErr
		}

		delay := c.Retry.Delay(attempt)
		if itemErr.RetryAfter > delay {
			delay = itemErr.RetryAfter
		}
		metrics.RecordRetry(string(itemErr.Kind))
		observability.Logger().Debug("Retrying inference request",
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(itemErr.Kind)),
			zap.Duration("delay", delay))

		if err := c.sleep(ctx, delay); err != nil {
			return nil, attempt, core.Cancelled()
		}
	}
}

// do performs one HTTP exchange.
func (c *Client) do(ctx context.Context, body []byte, attempt, items int) ([]byte, *core.ItemError) {
	callCtx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	start := time.Now()
	entry := TraceEntry{
		Endpoint:    c.Endpoint,
		Attempt:     attempt,
		Items:       items,
		RequestBody: body,
	}
	finish := func(outcome string, itemErr *core.ItemError) *core.ItemError {
		elapsed := time.Since(start)
		metrics.RecordInference(outcome, elapsed)
		if itemErr != nil {
			entry.Error = itemErr.Error()
		}
		entry.DurationMs = elapsed.Milliseconds()
		Trace(entry)
		return itemErr
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, finish(string(core.KindInput), core.InputError(fmt.Sprintf("build request: %v", err)))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, finish(string(core.KindCancelled), core.Cancelled())
		}
		return nil, finish(string(core.KindNetwork), core.NetworkError(err))
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	entry.StatusCode = resp.StatusCode
	entry.Response = respBody
	if err != nil {
		if ctx.Err() != nil {
			return nil, finish(string(core.KindCancelled), core.Cancelled())
		}
		return nil, finish(string(core.KindNetwork), core.NetworkError(fmt.Errorf("read response: %w", err)))
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		finish("success", nil)
		return respBody, nil
	}

	itemErr := statusError(resp, respBody, c.now())
	return nil, finish(string(itemErr.Kind), itemErr)
}

// statusError maps a non-2xx response to an item error.
func statusError(resp *http.Response, body []byte, now time.Time) *core.ItemError {
	itemErr := &core.ItemError{
		StatusCode: resp.StatusCode,
		Message:    providerMessage(body, resp.Status),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		itemErr.Kind = core.KindRateLimit
		itemErr.RetryAfter = retryAfterHeader(resp, now)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= http.StatusInternalServerError:
		itemErr.Kind = core.KindNetwork
		itemErr.RetryAfter = retryAfterHeader(resp, now)
	default:
		itemErr.Kind = core.KindUpstream
	}
	return itemErr
}

// providerMessage extracts {"error": "..."} bodies, falling back to the raw text.
func providerMessage(body []byte, status string) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var message string
		if err := json.Unmarshal(payload.Error, &message); err == nil && message != "" {
			return clip(message)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return clip(nested.Message)
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return clip(text)
	}
	return status
}

func clip(message string) string {
	if utf8.RuneCountInString(message) <= maxErrorMessage {
		return message
	}
	return string([]rune(message)[:maxErrorMessage]) + "..."
}

// LimiterKey is the rate limiter key for the endpoint: its host.
func (c *Client) LimiterKey() string {
	if parsed, err := url.Parse(c.Endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return c.Endpoint
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepWithContext(ctx, d)
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}

