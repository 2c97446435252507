package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"botnerd/internal/config"
	"botnerd/internal/logging"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client       *genai.Client
	model        string
	maxTokens    int32
	temperature  float32
	timeout      time.Duration
	retryBackoff time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiClient creates a client from the llm section of the config.
// A model name that doesn't look like a Gemini model is replaced with
// the provider default, so switching provider alone is enough.
func NewGeminiClient(cfg *config.Config) (*GeminiClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	model := strings.TrimSpace(cfg.LLM.Model)
	if !strings.Contains(strings.ToLower(model), "gemini") {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		model:        model,
		maxTokens:    int32(cfg.LLM.MaxTokens),
		temperature:  float32(cfg.LLM.Temperature),
		timeout:      cfg.GetLLMTimeout(),
		retryBackoff: time.Second,
	}, nil
}

// Name identifies the provider and model for logs and status output.
func (c *GeminiClient) Name() string {
	return "gemini:" + c.model
}

// Complete sends a prompt without a system message.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	result, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		logging.Audit().LLMCall(c.model, time.Since(start).Milliseconds(), false, err.Error())
		return "", err
	}
	logging.Audit().LLMCall(c.model, time.Since(start).Milliseconds(), true, "")
	return result, nil
}

func (c *GeminiClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// Auto-apply timeout if context has no deadline (centralized timeout handling)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logging.LLMDebug("[Gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:     ptrFloat32(c.temperature),
		MaxOutputTokens: c.maxTokens,
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, "")
	}

	// Retry loop for rate limits
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			time.Sleep(time.Duration(1<<uint(i-1)) * c.retryBackoff)
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		result := strings.TrimSpace(sb.String())
		logging.LLMDebug("[Gemini] CompleteWithSystem: ok result_len=%d", len(result))
		return result, nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Ping checks that the API endpoint is reachable and the key is accepted.
// A one token completion is the cheapest request the API accepts.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromText("ping", genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{MaxOutputTokens: 1}

	if _, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return nil
}

func ptrFloat32(v float32) *float32 {
	return &v
}
