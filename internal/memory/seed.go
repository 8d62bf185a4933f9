package memory

import "context"

// Seed installs the baseline global knowledge a fresh deployment starts
// with: one semantic concept about learning methodology and one procedural
// problem-solving skill. Upserts, so re-running is harmless.
func Seed(ctx context.Context, store Store) error {
	if err := store.StoreSemantic(ctx, SemanticRecord{
		ConceptKey: "learning_methodology",
		Knowledge: "Effective learning strategies: spaced repetition for long-term retention, " +
			"active recall for better understanding, interleaving different topics, elaborative interrogation.",
		Related:    []string{"learning_difficulties", "memory_techniques"},
		Confidence: 0.8,
	}); err != nil {
		return err
	}

	return store.StoreProcedural(ctx, ProceduralRecord{
		SkillKey: "problem_solving",
		Steps: []StepDescriptor{
			{Number: 1, Action: "Understand the problem", Description: "Read and analyze the problem statement"},
			{Number: 2, Action: "Identify key components", Description: "Break the problem into smaller parts"},
			{Number: 3, Action: "Generate solutions", Description: "Brainstorm multiple approaches"},
			{Number: 4, Action: "Evaluate options", Description: "Compare pros and cons of each approach"},
			{Number: 5, Action: "Implement solution", Description: "Execute the chosen approach"},
			{Number: 6, Action: "Review and learn", Description: "Reflect on the process and outcomes"},
		},
		Prerequisites:   []string{"basic_understanding"},
		SuccessCriteria: []string{"problem_solved", "learning_occurred"},
	})
}
