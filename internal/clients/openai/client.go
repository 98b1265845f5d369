package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vizboard/vizboard-backend/internal/pkg/httpx"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/utils"
)

// Message is one prior conversation turn replayed to the model.
type Message struct {
	Role    string
	Content string
}

// Client is the generative-model collaborator. Raw output text is returned
// untrusted; the schema layer is the only place that decodes it.
type Client interface {
	// Structured output (json_schema, strict).
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (string, error)

	// Structured output with replayed conversation history. The final entry
	// of history is the new user turn.
	GenerateJSONWithHistory(ctx context.Context, system string, history []Message, schemaName string, schema map[string]any) (string, error)

	// Model reports the configured model name, recorded on documents.
	Model() string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4.1-mini"
	}

	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 60, log)
	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	maxRetries := utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 3, log)
	if maxRetries < 0 {
		maxRetries = 3
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) Model() string { return c.model }

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return errors.New("unreachable retry loop")
}

type responsesInput struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesRequest struct {
	Model string           `json:"model"`
	Input []responsesInput `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) generate(ctx context.Context, system string, input []responsesInput, schemaName string, jsonSchema map[string]any) (string, error) {
	req := responsesRequest{
		Model:       c.model,
		Input:       append([]responsesInput{{Role: "system", Content: system}}, input...),
		Temperature: 0.2,
	}
	if jsonSchema != nil {
		req.Text.Format = map[string]any{
			"type":   "json_schema",
			"name":   schemaName,
			"schema": jsonSchema,
			"strict": true,
		}
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no output_text found in response")
	}
	return text, nil
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (string, error) {
	if schemaName == "" {
		return "", errors.New("schemaName required")
	}
	if schema == nil {
		return "", errors.New("schema required")
	}
	return c.generate(ctx, system, []responsesInput{{Role: "user", Content: user}}, schemaName, schema)
}

func (c *client) GenerateJSONWithHistory(ctx context.Context, system string, history []Message, schemaName string, schema map[string]any) (string, error) {
	if schemaName == "" {
		return "", errors.New("schemaName required")
	}
	if schema == nil {
		return "", errors.New("schema required")
	}
	if len(history) == 0 {
		return "", errors.New("history required")
	}
	input := make([]responsesInput, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		input = append(input, responsesInput{Role: role, Content: m.Content})
	}
	return c.generate(ctx, system, input, schemaName, schema)
}
