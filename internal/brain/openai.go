package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/antoniostano/mentora/internal/reliability"
)

const defaultChatModel = "gpt-4o-mini"

// OpenAIClient completes requests against the OpenAI chat API or any
// compatible endpoint configured through the base URL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSpace(baseURL)
	}
	if strings.TrimSpace(model) == "" {
		model = defaultChatModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2+len(req.Context))
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if len(req.Context) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Relevant context:\n" + strings.Join(req.Context, "\n"),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("empty completion response: %w", reliability.ErrBackendUnavailable)
	}
	return Response{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("chat completion: %w", errors.Join(reliability.ErrRateLimited, err))
	}
	return fmt.Errorf("chat completion: %w", errors.Join(reliability.ErrBackendUnavailable, err))
}
