package decider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arena/internal/logger"
)

// ClientConfig describes the chat-completions endpoint.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Referer     string
	Title       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Timeout <= 0 {
		// Generous: reasoning models routinely take minutes.
		c.Timeout = 120 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	return c
}

// Client calls an OpenRouter-compatible chat-completions endpoint once per
// decision. No retry here: the next scheduled cycle is the retry.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	final := cfg.withDefaults()
	return &Client{
		cfg:   final,
		httpc: &http.Client{Timeout: final.Timeout},
	}
}

// Decide returns the parsed decision, or nil when the call or the extraction
// failed. Failures are logged, never propagated.
func (c *Client) Decide(ctx context.Context, modelID, systemPrompt, userPrompt string) *Result {
	start := time.Now()
	content, err := c.callModel(ctx, modelID, systemPrompt, userPrompt)
	latency := time.Since(start)
	if err != nil {
		logger.Errorf("[decider] model %s call failed: %v", modelID, err)
		return nil
	}
	decision, raw, err := ParseDecision(content)
	if err != nil {
		logger.Warnf("[decider] model %s returned no usable decision: %v", modelID, err)
		logger.Debugf("[decider] raw response: %.500s", content)
		return nil
	}
	return &Result{
		Decision:  decision,
		RawJSON:   raw,
		RawOutput: content,
		Latency:   latency,
	}
}

func (c *Client) callModel(ctx context.Context, modelID, systemPrompt, userPrompt string) (string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	body := map[string]any{
		"model": modelID,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 || r.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no content in model response")
	}
	logger.Debugf("[decider] model %s responded, tokens=%d", modelID, r.Usage.TotalTokens)
	return r.Choices[0].Message.Content, nil
}
