package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no backend is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	return Response{Text: buildMockReply(req), Model: "mock"}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.Prompt)
	if base == "" {
		base = "I am listening."
	}

	if len(req.Context) == 0 {
		return fmt.Sprintf("Here is what I can tell you about: %s", base)
	}

	first := strings.TrimSpace(req.Context[0])
	if first == "" {
		return fmt.Sprintf("Here is what I can tell you about: %s", base)
	}

	return fmt.Sprintf("Here is what I can tell you about: %s\nDrawing on: %s", base, first)
}
