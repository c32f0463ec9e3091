// Package analyzer wraps the Gemini API client used by the analysis stage.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"google.golang.org/genai"
)

var (
	// ErrContentBlocked is returned when the model refuses the input on
	// safety grounds. Never retried.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse is returned when the model output cannot be used.
	ErrInvalidResponse = errors.New("invalid analysis response")

	// ErrEmptyInput is returned when there is no text to analyze.
	ErrEmptyInput = errors.New("empty analysis input")
)

// Result is the structured outcome of one analysis call.
type Result struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	KeyPoints []string `json:"key_points"`
}

// Config holds the Gemini client settings.
type Config struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// Analyzer calls the Gemini API to produce a summary, topics, and key
// points for a piece of extracted text.
type Analyzer struct {
	client *genai.Client
	model  string
	cfg    Config
	logger *slog.Logger
}

const promptTemplate = `You are a study assistant. Analyze the following content and respond
with a single JSON object of the shape
{"summary": string, "topics": [string], "key_points": [string]}.
Respond with JSON only, no surrounding text.

Content:
%s`

// New creates an Analyzer backed by the Gemini API.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Analyzer{
		client: client,
		model:  cfg.Model,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Analyze sends the text to the model, retrying transient API errors with
// exponential backoff. Permanent errors (safety blocks, unusable output)
// are returned immediately.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	prompt := fmt.Sprintf(promptTemplate, text)

	maxRetries := a.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := a.cfg.RetryDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := a.callModel(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidResponse) {
			a.logger.Warn("permanent analysis error, not retrying", "error", err)
			return nil, err
		}

		a.logger.Error("analysis call failed",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"error", err,
		)

		if attempt == maxRetries {
			break
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
		delay += time.Duration(rng.Int63n(int64(baseDelay)))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("analysis failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (a *Analyzer) callModel(ctx context.Context, prompt string) (*Result, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	text, err := candidateText(resp)
	if err != nil {
		return nil, err
	}
	return parseResult(text)
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	text := ""
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return text, nil
}

func parseResult(text string) (*Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
	}
	return &result, nil
}
