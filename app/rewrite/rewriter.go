package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

const (
	promptTemplate = "Riassumi questo testo, traducendolo in %s nel caso in cui non lo sia: "
	minAnswerRunes = 10
	maxRetries     = 2
)

var citationPattern = regexp.MustCompile(`\[\^\d+\^\]`)

// Passthrough returns its input unchanged. It is used when rewriting is disabled.
type Passthrough struct{}

func (Passthrough) Rewrite(_ context.Context, text, _ string) string {
	return text
}

// ChatRewriter summarizes and translates text through an OpenAI-compatible
// chat completions endpoint. Models are tried in order; when every model fails
// the input is returned unchanged.
type ChatRewriter struct {
	endpoint     string
	apiKey       string
	models       []string
	httpClient   *http.Client
	initialDelay time.Duration
}

func NewChatRewriter(endpoint, apiKey string, models []string, httpClient *http.Client) *ChatRewriter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &ChatRewriter{
		endpoint:     endpoint,
		apiKey:       apiKey,
		models:       models,
		httpClient:   httpClient,
		initialDelay: time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *ChatRewriter) Rewrite(ctx context.Context, text, language string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	prompt := fmt.Sprintf(promptTemplate, language)

	for _, model := range r.models {
		start := time.Now()

		answer, err := backoff.RetryWithData[string](func() (string, error) {
			return r.complete(ctx, model, prompt+text)
		}, r.newBackOff(ctx))
		if err != nil {
			slog.Warn("Rewrite failed", "model", model, "error", err)
			continue
		}

		answer = cleanAnswer(answer, prompt)
		if utf8.RuneCountInString(answer) <= minAnswerRunes {
			slog.Warn("Rewrite answer too short", "model", model, "length", utf8.RuneCountInString(answer))
			continue
		}

		slog.Debug("Text rewritten", "model", model, "duration", time.Since(start))
		return answer
	}

	return text
}

func (r *ChatRewriter) newBackOff(ctx context.Context) backoff.BackOff {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initialDelay
	expBackoff.MaxInterval = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(expBackoff, maxRetries), ctx)
}

func (r *ChatRewriter) complete(ctx context.Context, model, content string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("rewrite endpoint error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", backoff.Permanent(errors.New("response contains no choices"))
	}

	return decoded.Choices[0].Message.Content, nil
}

// cleanAnswer drops every echo of the prompt, in any letter case, and the
// [^N^] citation markers some providers append.
func cleanAnswer(answer, prompt string) string {
	if echo := strings.TrimSpace(prompt); echo != "" {
		answer = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(echo)).ReplaceAllString(answer, "")
	}
	answer = citationPattern.ReplaceAllString(answer, "")
	return strings.TrimSpace(answer)
}
