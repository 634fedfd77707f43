// Package llm provides the reasoner clients used for summaries and topic
// clustering.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	// DefaultGeminiModel is the default Gemini model.
	DefaultGeminiModel = "gemini-flash-lite-latest"
	// DefaultGroqModel is the default Groq chat model.
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens      int32         // Maximum number of tokens to generate
	Temperature    float32       // Temperature for randomness (0.0 to 1.0)
	Model          string        // Model to use (optional, defaults to client's model)
	ResponseSchema *genai.Schema // Optional: schema for structured JSON output
}

// TextGenerator is implemented by every reasoner client
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error)
	GetModelName() string
}

// Client talks to Gemini through the genai SDK.
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient creates a Gemini client. The key is passed in explicitly; nothing
// is read from the environment here.
func NewClient(ctx context.Context, apiKey, modelName, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or reasoner.gemini.api_key in config file")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	gClient, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		modelName: modelName,
		gClient:   gClient,
	}, nil
}

// GenerateText generates text using the LLM with specified options
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if options.MaxTokens > 0 || options.Temperature > 0 || options.ResponseSchema != nil {
		config = &genai.GenerateContentConfig{}
		if options.MaxTokens > 0 {
			config.MaxOutputTokens = options.MaxTokens
		}
		if options.Temperature > 0 {
			temp := options.Temperature
			config.Temperature = &temp
		}
		if options.ResponseSchema != nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = options.ResponseSchema
		}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from LLM")
	}
	return text, nil
}

// Close cleans up resources used by the client
func (c *Client) Close() {
	// genai clients hold no resources that need releasing
}

// GetModelName returns the model name used by this client
func (c *Client) GetModelName() string {
	return c.modelName
}
