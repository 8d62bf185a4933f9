package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/hybrid"
)

// Staged splits reasoning into explicit phases. An analysis completion
// first distills the bundle into a plan, then a second completion
// generates the answer from plan plus context. Slower than Direct but
// tends to produce more grounded answers on rich bundles.
type Staged struct {
	client brain.Client
	system string
}

func NewStaged(client brain.Client) *Staged {
	return &Staged{client: client, system: defaultSystemPrompt}
}

func (p *Staged) Name() string { return "staged" }

func (p *Staged) Execute(ctx context.Context, userID, query string, bundle hybrid.Bundle) (Result, error) {
	var steps []string

	// Stage 1: take stock of the context snapshot.
	contextLines := formatContext(bundle)
	steps = append(steps, fmt.Sprintf("retrieve: %d chunks, %d episodic, %d semantic, %d procedural",
		len(bundle.Chunks), len(bundle.Episodic), len(bundle.Semantic), len(bundle.Procedural)))

	// Stage 2: distill the context into an answering plan.
	analysis, err := p.client.Complete(ctx, brain.Request{
		UserID:  userID,
		System:  "Summarize what the provided context says that is relevant to the question, as a short plan for answering it. Do not answer yet.",
		Prompt:  query,
		Context: contextLines,
	})
	if err != nil {
		return Result{}, fmt.Errorf("staged analysis: %w", err)
	}
	plan := strings.TrimSpace(analysis.Text)
	steps = append(steps, "analyze: distilled context into answering plan")

	// Stage 3: generate the answer from plan plus context.
	generateContext := contextLines
	if plan != "" {
		generateContext = append([]string{"Plan: " + plan}, contextLines...)
	}
	resp, err := p.client.Complete(ctx, brain.Request{
		UserID:  userID,
		System:  p.system,
		Prompt:  query,
		Context: generateContext,
	})
	if err != nil {
		return Result{}, fmt.Errorf("staged generation: %w", err)
	}
	steps = append(steps, "generate: produced answer from plan and context")

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		answer = plan
	}
	if answer == "" {
		answer = "I do not have enough context to answer that yet."
	}

	return Result{
		Answer:         answer,
		Sources:        collectSources(bundle),
		Confidence:     estimateConfidence(bundle),
		Personalized:   bundle.Personalized(),
		ReasoningSteps: steps,
	}, nil
}
