package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient calls the OpenAI-compatible chat completions endpoint
type GroqClient struct {
	modelName string
	api       *openai.Client
}

// NewGroqClient creates a Groq chat client
func NewGroqClient(apiKey, modelName, baseURL string, timeout time.Duration) (*GroqClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq API key is required. Set GROQ_API_KEY or reasoner.groq.api_key in config file")
	}
	if modelName == "" {
		modelName = DefaultGroqModel
	}
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &GroqClient{
		modelName: modelName,
		api:       openai.NewClientWithConfig(cfg),
	}, nil
}

// GenerateText sends a single-turn chat request. A response schema switches
// the request to JSON mode and is passed to the model as an instruction.
func (c *GroqClient) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	req := openai.ChatCompletionRequest{
		Model:       c.modelName,
		MaxTokens:   int(options.MaxTokens),
		Temperature: options.Temperature,
	}
	if options.Model != "" {
		req.Model = options.Model
	}
	if options.ResponseSchema != nil {
		instruction, err := schemaInstruction(options.ResponseSchema)
		if err != nil {
			return "", err
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instruction})
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("groq returned status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("failed to generate text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from LLM")
	}
	return text, nil
}

// GetModelName returns the model name used by this client
func (c *GroqClient) GetModelName() string {
	return c.modelName
}

func schemaInstruction(schema *genai.Schema) (string, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to encode response schema: %w", err)
	}
	return "Respond with a single JSON object that matches this JSON schema. Do not add any other text.\n" + string(raw), nil
}
