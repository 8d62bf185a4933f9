package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/hybrid"
)

// KernelState is the shared scratchpad skills read from and write to.
type KernelState struct {
	UserID string
	Query  string
	Bundle hybrid.Bundle

	// Facts accumulates intermediate findings earlier skills leave for
	// later ones.
	Facts  []string
	Answer string
}

// Skill is one composable reasoning step. Skills run in registration
// order; each sees everything its predecessors wrote into the state.
type Skill struct {
	Name string
	Run  func(ctx context.Context, state *KernelState) error
}

// Kernel composes small skills into a full reasoning pass. Unlike Staged,
// the phases are pluggable: callers can register their own skills.
type Kernel struct {
	client brain.Client
	skills []Skill
}

func NewKernel(client brain.Client, skills ...Skill) *Kernel {
	k := &Kernel{client: client}
	if len(skills) == 0 {
		skills = defaultSkills(client)
	}
	k.skills = skills
	return k
}

func (p *Kernel) Name() string { return "kernel" }

func (p *Kernel) Execute(ctx context.Context, userID, query string, bundle hybrid.Bundle) (Result, error) {
	state := &KernelState{
		UserID: userID,
		Query:  query,
		Bundle: bundle,
	}

	var steps []string
	for _, skill := range p.skills {
		if err := skill.Run(ctx, state); err != nil {
			return Result{}, fmt.Errorf("skill %s: %w", skill.Name, err)
		}
		steps = append(steps, "ran skill "+skill.Name)
	}

	answer := strings.TrimSpace(state.Answer)
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

func defaultSkills(client brain.Client) []Skill {
	return []Skill{
		{Name: "gather_context", Run: func(_ context.Context, state *KernelState) error {
			state.Facts = append(state.Facts, formatContext(state.Bundle)...)
			return nil
		}},
		{Name: "assess_user", Run: func(_ context.Context, state *KernelState) error {
			if state.Bundle.Personalized() {
				state.Facts = append(state.Facts, "The user has relevant personal history; tailor the answer to it.")
			}
			for _, rec := range state.Bundle.Procedural {
				state.Facts = append(state.Facts,
					fmt.Sprintf("The user can apply the %s workflow.", rec.SkillKey))
			}
			return nil
		}},
		{Name: "draft_answer", Run: func(ctx context.Context, state *KernelState) error {
			resp, err := client.Complete(ctx, brain.Request{
				UserID:  state.UserID,
				System:  defaultSystemPrompt,
				Prompt:  state.Query,
				Context: state.Facts,
			})
			if err != nil {
				return err
			}
			state.Answer = resp.Text
			return nil
		}},
	}
}
