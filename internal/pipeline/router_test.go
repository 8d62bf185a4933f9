package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/perf"
	"github.com/antoniostano/mentora/internal/reliability"
	"github.com/antoniostano/mentora/internal/retrieval"
)

// stubPipeline returns a fixed result or error and counts executions.
type stubPipeline struct {
	name   string
	result Result
	err    error
	calls  int
}

func (s *stubPipeline) Name() string { return s.name }

func (s *stubPipeline) Execute(context.Context, string, string, hybrid.Bundle) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func newTestRouter(t *testing.T, store memory.Store) *Router {
	t.Helper()
	r := NewRouter(store, perf.NewAggregator(), nil, DefaultRouterConfig())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func richBundle() hybrid.Bundle {
	return hybrid.Bundle{
		Chunks: []retrieval.RetrievedChunk{
			{SourceID: "guide", ChunkID: "guide#0", Text: "factor common terms first", Score: 0.8, Origin: retrieval.OriginPersonal},
		},
		Episodic: []memory.EpisodicRecord{
			{InteractionType: "conversation", Content: "practiced factoring"},
		},
		Semantic: []memory.SemanticRecord{
			{ConceptKey: "learning_methodology", Knowledge: "spaced repetition works"},
		},
		MemoryTypes: []memory.Type{memory.TypeEpisodic, memory.TypeSemantic},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRouter(t, memory.NewInMemoryStore())
	if err := r.Register(&stubPipeline{name: "direct"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubPipeline{name: "direct"}); err == nil {
		t.Fatalf("Register() duplicate expected error")
	}
}

func TestRunUnknownPipelineIsValidationError(t *testing.T) {
	r := newTestRouter(t, memory.NewInMemoryStore())
	_, err := r.Run(context.Background(), "nope", "u1", "q", hybrid.Bundle{})
	if !errors.Is(err, reliability.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestRunPersistsInteractionWithRedaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	r := newTestRouter(t, store)
	if err := r.Register(&stubPipeline{name: "direct", result: Result{Answer: "reach me at bob@example.com", Confidence: 0.8}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Run(ctx, "direct", "u1", "how do I study?", hybrid.Bundle{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	records, err := store.RetrieveEpisodic(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("RetrieveEpisodic() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("episodic records = %d, want 1", len(records))
	}
	if strings.Contains(records[0].Content, "bob@example.com") {
		t.Fatalf("record contains unredacted email: %q", records[0].Content)
	}
	if records[0].Context["pipeline"] != "direct" {
		t.Fatalf("record context = %v", records[0].Context)
	}
}

func TestRunRetriesRateLimited(t *testing.T) {
	r := newTestRouter(t, memory.NewInMemoryStore())

	p := &flakyPipeline{name: "direct", failures: 2, failWith: fmt.Errorf("throttled: %w", reliability.ErrRateLimited)}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	exec, err := r.Run(context.Background(), "direct", "u1", "q", hybrid.Bundle{})
	if err != nil {
		t.Fatalf("Run() error = %v, want recovery on third attempt", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
	if exec.Result.Answer == "" {
		t.Fatalf("empty answer after recovery")
	}
}

func TestRunDoesNotRetryBackendUnavailable(t *testing.T) {
	r := newTestRouter(t, memory.NewInMemoryStore())
	p := &stubPipeline{name: "direct", err: fmt.Errorf("down: %w", reliability.ErrBackendUnavailable)}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	exec, err := r.Run(context.Background(), "direct", "u1", "q", hybrid.Bundle{})
	if err == nil {
		t.Fatalf("Run() expected error")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", p.calls)
	}
	if exec.ErrorKind != reliability.KindBackendUnavailable {
		t.Fatalf("ErrorKind = %q", exec.ErrorKind)
	}
}

type flakyPipeline struct {
	name     string
	failures int
	failWith error
	calls    int
}

func (f *flakyPipeline) Name() string { return f.name }

func (f *flakyPipeline) Execute(context.Context, string, string, hybrid.Bundle) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, f.failWith
	}
	return Result{Answer: "recovered", Confidence: 0.6}, nil
}

func TestRunAllSurvivesOneFailure(t *testing.T) {
	r := newTestRouter(t, memory.NewInMemoryStore())
	must := func(err error) {
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	must(r.Register(&stubPipeline{name: "alpha", result: Result{Answer: "a", Confidence: 0.9, Personalized: true}}))
	must(r.Register(&stubPipeline{name: "beta", err: fmt.Errorf("down: %w", reliability.ErrBackendUnavailable)}))
	must(r.Register(&stubPipeline{name: "gamma", result: Result{Answer: "c", Confidence: 0.7}}))

	cmp := r.RunAll(context.Background(), "u1", "compare me", hybrid.Bundle{})
	if len(cmp.Executions) != 3 {
		t.Fatalf("executions = %d, want 3", len(cmp.Executions))
	}

	var failures int
	for _, exec := range cmp.Executions {
		if exec.Error != "" {
			failures++
			if exec.Pipeline != "beta" {
				t.Fatalf("unexpected failed pipeline %q", exec.Pipeline)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
	if cmp.Winners.MostConfident != "alpha" {
		t.Fatalf("MostConfident = %q, want alpha", cmp.Winners.MostConfident)
	}
	if cmp.Winners.MostPersonalized != "alpha" {
		t.Fatalf("MostPersonalized = %q, want alpha", cmp.Winners.MostPersonalized)
	}
	if cmp.Winners.Fastest == "beta" {
		t.Fatalf("failed pipeline must not win an axis")
	}
	if cmp.QueryHash == "" {
		t.Fatalf("QueryHash empty")
	}
}

func TestDirectPipelineUsesBundle(t *testing.T) {
	p := NewDirect(brain.NewMockClient())
	bundle := richBundle()

	result, err := p.Execute(context.Background(), "u1", "how do I factor?", bundle)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Answer == "" {
		t.Fatalf("empty answer")
	}
	if !result.Personalized {
		t.Fatalf("Personalized = false with personal context")
	}
	// 0.5 base + 0.1 per memory kind + 0.2 for chunks.
	if result.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9", result.Confidence)
	}
	if len(result.Sources) == 0 {
		t.Fatalf("no sources collected")
	}
}

func TestConfidenceCappedAtOne(t *testing.T) {
	bundle := richBundle()
	bundle.Procedural = []memory.ProceduralRecord{{SkillKey: "problem_solving"}}
	bundle.MemoryTypes = []memory.Type{memory.TypeEpisodic, memory.TypeSemantic, memory.TypeProcedural}

	if got := estimateConfidence(bundle); got != 1.0 {
		t.Fatalf("estimateConfidence = %v, want 1.0", got)
	}
}

func TestStagedPipelineRecordsStages(t *testing.T) {
	p := NewStaged(brain.NewMockClient())
	result, err := p.Execute(context.Background(), "u1", "how do I factor?", richBundle())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.ReasoningSteps) != 3 {
		t.Fatalf("ReasoningSteps = %v, want retrieve/analyze/generate", result.ReasoningSteps)
	}
	if !strings.HasPrefix(result.ReasoningSteps[0], "retrieve:") {
		t.Fatalf("first step = %q", result.ReasoningSteps[0])
	}
}

func TestKernelPipelineRunsSkillsInOrder(t *testing.T) {
	var order []string
	skills := []Skill{
		{Name: "first", Run: func(_ context.Context, s *KernelState) error {
			order = append(order, "first")
			s.Facts = append(s.Facts, "fact one")
			return nil
		}},
		{Name: "second", Run: func(_ context.Context, s *KernelState) error {
			order = append(order, "second")
			if len(s.Facts) != 1 {
				t.Fatalf("second skill sees %d facts, want 1", len(s.Facts))
			}
			s.Answer = "composed"
			return nil
		}},
	}

	p := NewKernel(brain.NewMockClient(), skills...)
	result, err := p.Execute(context.Background(), "u1", "q", hybrid.Bundle{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
	if result.Answer != "composed" {
		t.Fatalf("Answer = %q", result.Answer)
	}
}

func TestKernelSkillFailureNamesTheSkill(t *testing.T) {
	p := NewKernel(brain.NewMockClient(), Skill{
		Name: "broken",
		Run:  func(context.Context, *KernelState) error { return errors.New("boom") },
	})
	_, err := p.Execute(context.Background(), "u1", "q", hybrid.Bundle{})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v, want skill name in error", err)
	}
}
