package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/hybrid"
)

// Direct is the simplest strategy: one completion call with the full
// context bundle attached. It is the latency baseline the other
// pipelines are compared against.
type Direct struct {
	client brain.Client
	system string
}

func NewDirect(client brain.Client) *Direct {
	return &Direct{client: client, system: defaultSystemPrompt}
}

func (p *Direct) Name() string { return "direct" }

func (p *Direct) Execute(ctx context.Context, userID, query string, bundle hybrid.Bundle) (Result, error) {
	contextLines := formatContext(bundle)

	resp, err := p.client.Complete(ctx, brain.Request{
		UserID:  userID,
		System:  p.system,
		Prompt:  query,
		Context: contextLines,
	})
	if err != nil {
		return Result{}, fmt.Errorf("direct completion: %w", err)
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		answer = "I do not have enough context to answer that yet."
	}

	return Result{
		Answer:       answer,
		Sources:      collectSources(bundle),
		Confidence:   estimateConfidence(bundle),
		Personalized: bundle.Personalized(),
		ReasoningSteps: []string{
			fmt.Sprintf("assembled %d context lines", len(contextLines)),
			"generated answer in a single completion",
		},
	}, nil
}
