// Package llm is the natural-language fallback stage: one chat-completions
// call that classifies a message into a closed intent set. It is a total
// function of its input; every failure mode degrades to a safe clarify
// outcome and no error ever reaches the caller.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/quenchlab/aqualog/internal/config"
)

type Intent string

const (
	IntentLog      Intent = "log"
	IntentClarify  Intent = "clarify"
	IntentNoAction Intent = "no_action"
	IntentEdit     Intent = "edit"
	IntentQuery    Intent = "query"
	IntentUndo     Intent = "undo"
	IntentChitchat Intent = "chitchat"
)

func validIntent(i Intent) bool {
	switch i {
	case IntentLog, IntentClarify, IntentNoAction, IntentEdit, IntentQuery, IntentUndo, IntentChitchat:
		return true
	}
	return false
}

// Outcome is the normalized classification record. Pointer fields
// distinguish "absent" from zero.
type Outcome struct {
	Intent              Intent  `json:"intent"`
	AmountMl            *int    `json:"amount_ml"`
	RelativeTime        *string `json:"relative_time"`
	Ambiguous           bool    `json:"ambiguous"`
	ClarificationNeeded string  `json:"clarification_needed"`
	AdjustByMl          *int    `json:"adjust_by_ml"`
	UndoCount           *int    `json:"undo_count"`
}

const (
	// maxMessageChars caps outbound message length.
	maxMessageChars = 500

	// requestTimeout bounds the single classification attempt. There is
	// no retry; a timeout maps straight to the safe default.
	requestTimeout = 15 * time.Second

	temperature = 0.1
)

const systemInstruction = `You classify a single chat message about drinking water into exactly one intent.

Intents:
- "log": the user drank water and wants it recorded
- "edit": the user wants to correct the last entry by some amount (e.g. "reduce by 200ml")
- "undo": the user wants recent entries removed (e.g. "that was a mistake", "undo last 3")
- "query": the user asks how much they drank
- "no_action": the user explicitly did NOT drink (negation), or nothing should be recorded
- "chitchat": small talk unrelated to logging
- "clarify": the message is ambiguous or missing information

Unit conversions: 1 liter = 1000 ml, 1 glass = 250 ml, 1 cup = 200 ml.
A "bottle" has a user-specific size you do not know; leave amount_ml null for bottles.
"yesterday" or "last night" can never be logged for today: never produce a loggable amount for them.
If the message mentions a time in the past, copy the time phrase verbatim into relative_time.

Respond with a strict JSON object:
{"intent":"log","amount_ml":500,"relative_time":"2 hours ago","ambiguous":false,"clarification_needed":"","adjust_by_ml":null,"undo_count":null}
Use null for fields that do not apply. Set "ambiguous" true and fill "clarification_needed" with a short question when unsure.`

// Classifier is what the intent resolver consumes (allows stubbing in tests).
type Classifier interface {
	Classify(ctx context.Context, text string) Outcome
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(cfg.Provider.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/"),
		model:      cfg.Provider.Model,
		maxTokens:  cfg.Provider.MaxTokens,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func safeDefault() Outcome {
	return Outcome{Intent: IntentClarify, Ambiguous: true}
}

// Classify sends one classification request and normalizes the answer.
// Without a configured credential it short-circuits to the safe default
// with no network call (offline mode).
func (c *Client) Classify(ctx context.Context, text string) Outcome {
	if c.apiKey == "" || c.baseURL == "" || c.model == "" {
		return safeDefault()
	}

	if len(text) > maxMessageChars {
		text = text[:maxMessageChars]
	}

	content, err := c.complete(ctx, text)
	if err != nil {
		log.Printf("[llm] classify degraded: %v", err)
		return safeDefault()
	}

	out, ok := parseOutcome(content)
	if !ok {
		log.Printf("[llm] classify degraded: unparseable response content")
		return safeDefault()
	}
	return normalize(out)
}

func (c *Client) complete(ctx context.Context, text string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemInstruction},
			{"role": "user", "content": text},
		},
		"max_tokens":  c.maxTokens,
		"temperature": temperature,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// parseOutcome recovers an Outcome from model output: raw JSON first, then
// a fenced code block, then the first balanced top-level object.
func parseOutcome(content string) (Outcome, bool) {
	var out Outcome
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return out, true
	}

	if fenced, ok := extractFencedBlock(content); ok {
		if err := json.Unmarshal([]byte(fenced), &out); err == nil {
			return out, true
		}
	}

	if obj, ok := firstJSONObject(content); ok {
		if err := json.Unmarshal([]byte(obj), &out); err == nil {
			return out, true
		}
	}

	return Outcome{}, false
}

func extractFencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// normalize enforces the closed intent enumeration. Unknown intents become
// clarify when the model marked the result ambiguous, log otherwise.
func normalize(out Outcome) Outcome {
	out.Intent = Intent(strings.ToLower(strings.TrimSpace(string(out.Intent))))
	if !validIntent(out.Intent) {
		if out.Ambiguous {
			out.Intent = IntentClarify
		} else {
			out.Intent = IntentLog
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
