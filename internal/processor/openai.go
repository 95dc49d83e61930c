package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	backupHistory     = 5
	backupTemperature = 0.7
	backupMaxTokens   = 2000
)

var errEmptyCompletion = errors.New("chat completion returned no choices")

// OpenAIClient answers through the chat completions API, impersonating
// the expert with a system prompt built from its title and description.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a chat completions processor for model.
func NewOpenAIClient(apiKey, model string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is empty")
	}
	if model == "" {
		return nil, errors.New("openai model is empty")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Process sends req with up to five earlier messages of the same expert.
func (c *OpenAIClient) Process(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt(req)),
	}
	for _, m := range RecentForExpert(req.History, req.Expert.Key, backupHistory) {
		switch m.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt()))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(backupTemperature),
		MaxTokens:   openai.Int(backupMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// SystemPrompt describes the expert persona for a model without a
// dedicated assistant.
func SystemPrompt(req Request) string {
	return fmt.Sprintf("Eres un asistente virtual experto en %s. %s", req.Expert.Title, req.Expert.Description)
}
