package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized completion request sent to a reasoning backend.
type Request struct {
	UserID string   `json:"user_id"`
	System string   `json:"system,omitempty"`
	Prompt string   `json:"prompt"`
	// Context carries already-formatted memory and document snippets, most
	// relevant first.
	Context []string `json:"context,omitempty"`
}

// Response is the backend's final answer.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Client bridges the pipelines with a reasoning backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls client construction.
type Config struct {
	Mode         string
	OpenAIKey    string
	OpenAIBase   string
	Model        string
	HTTPURL      string
	GatewayURL   string
	GatewayToken string
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoClient(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("brain: OpenAI key is required for openai mode")
		}
		return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBase, cfg.Model), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain: HTTP url is required for http mode")
		}
		return NewHTTPClient(cfg.HTTPURL), nil
	case "gateway":
		return NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported brain client mode %q", cfg.Mode)
	}
}

func newAutoClient(cfg Config) Client {
	if strings.TrimSpace(cfg.OpenAIKey) != "" {
		return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBase, cfg.Model)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPClient(cfg.HTTPURL)
	}
	if strings.TrimSpace(cfg.GatewayToken) != "" {
		if gw, err := NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken); err == nil {
			return gw
		}
	}
	return NewMockClient()
}
