// Package pipeline defines the reasoning strategies that turn a retrieved
// context bundle into an answer, and the router that executes, measures,
// and compares them.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/retrieval"
)

// Result is the output every pipeline produces, whatever its internal shape.
type Result struct {
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources,omitempty"`
	Confidence     float64  `json:"confidence"`
	ReasoningSteps []string `json:"reasoning_steps,omitempty"`
	Personalized   bool     `json:"personalized"`
}

// Pipeline turns one query plus its context bundle into a Result.
// Pipelines must not trigger retrieval themselves; the bundle is the
// complete context snapshot for the query.
type Pipeline interface {
	Name() string
	Execute(ctx context.Context, userID, query string, bundle hybrid.Bundle) (Result, error)
}

const defaultSystemPrompt = "You are a personal learning coach. Ground every answer in the provided context and the user's history. Be concrete and encouraging."

// estimateConfidence scores how well-grounded an answer can be given the
// context that was available. Each memory kind adds a little, retrieved
// document chunks add more.
func estimateConfidence(bundle hybrid.Bundle) float64 {
	confidence := 0.5
	confidence += 0.1 * float64(len(bundle.MemoryTypes))
	if len(bundle.Chunks) > 0 {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// formatContext flattens the bundle into context lines for the backend,
// most useful material first.
func formatContext(bundle hybrid.Bundle) []string {
	var lines []string
	for _, c := range bundle.Chunks {
		lines = append(lines, fmt.Sprintf("Document (%s): %s", c.Origin, c.Text))
	}
	for _, rec := range bundle.Episodic {
		lines = append(lines, fmt.Sprintf("Past interaction (%s): %s", rec.InteractionType, rec.Content))
	}
	for _, rec := range bundle.Semantic {
		lines = append(lines, fmt.Sprintf("Knowledge [%s]: %s", rec.ConceptKey, rec.Knowledge))
	}
	for _, rec := range bundle.Procedural {
		var steps []string
		for _, s := range rec.Steps {
			steps = append(steps, fmt.Sprintf("%d. %s", s.Number, s.Action))
		}
		lines = append(lines, fmt.Sprintf("Skill [%s]: %s", rec.SkillKey, strings.Join(steps, "; ")))
	}
	return lines
}

// collectSources lists where the context came from, duplicates removed,
// bundle order preserved.
func collectSources(bundle hybrid.Bundle) []string {
	seen := make(map[string]struct{})
	var sources []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}

	for _, c := range bundle.Chunks {
		label := c.SourceID
		if label == "" {
			label = c.ChunkID
		}
		if c.Origin == retrieval.OriginPersonal {
			add("personal:" + label)
		} else {
			add("global:" + label)
		}
	}
	for range bundle.Episodic {
		add("memory:episodic")
	}
	for _, rec := range bundle.Semantic {
		add("memory:semantic/" + rec.ConceptKey)
	}
	for _, rec := range bundle.Procedural {
		add("memory:procedural/" + rec.SkillKey)
	}
	return sources
}
