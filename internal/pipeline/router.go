package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/observability"
	"github.com/antoniostano/mentora/internal/perf"
	"github.com/antoniostano/mentora/internal/policy"
	"github.com/antoniostano/mentora/internal/reliability"
)

// Execution is one pipeline run as seen by callers: the result on
// success, the classified error on failure, and the wall time either way.
type Execution struct {
	Pipeline  string           `json:"pipeline"`
	Result    Result           `json:"result"`
	Duration  time.Duration    `json:"duration"`
	Error     string           `json:"error,omitempty"`
	ErrorKind reliability.Kind `json:"error_kind,omitempty"`
}

// Comparison is the outcome of running every registered pipeline on the
// same context snapshot.
type Comparison struct {
	QueryHash  string      `json:"query_hash"`
	Executions []Execution `json:"executions"`
	Winners    Winners     `json:"winners"`
}

// Winners names the best pipeline along each comparison axis. A field is
// empty when no successful execution qualifies for that axis.
type Winners struct {
	Fastest          string `json:"fastest,omitempty"`
	MostConfident    string `json:"most_confident,omitempty"`
	MostPersonalized string `json:"most_personalized,omitempty"`
	MostReliable     string `json:"most_reliable,omitempty"`
}

// RouterConfig tunes retry behavior for rate-limited completions.
type RouterConfig struct {
	RetryAttempts int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RetryAttempts: 3,
		BackoffBase:   200 * time.Millisecond,
		BackoffCap:    2 * time.Second,
	}
}

// Router owns the pipeline registry and the instrumentation boundary:
// timing, error classification, metrics, performance records, and the
// episodic write-back after a successful answer all live here so the
// pipelines themselves stay pure.
type Router struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline

	store   memory.Store
	agg     *perf.Aggregator
	metrics *observability.Metrics
	cfg     RouterConfig

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRouter(store memory.Store, agg *perf.Aggregator, metrics *observability.Metrics, cfg RouterConfig) *Router {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRouterConfig().RetryAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultRouterConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultRouterConfig().BackoffCap
	}
	return &Router{
		pipelines: make(map[string]Pipeline),
		store:     store,
		agg:       agg,
		metrics:   metrics,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

// Register adds a pipeline under its own name. Names are unique.
func (r *Router) Register(p Pipeline) error {
	name := p.Name()
	if name == "" {
		return errors.New("pipeline name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[name]; exists {
		return fmt.Errorf("pipeline %q already registered", name)
	}
	r.pipelines[name] = p
	return nil
}

// Names lists registered pipelines in stable order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one named pipeline against the bundle and records the
// outcome. Rate-limited completions are retried with backoff; any other
// failure is final.
func (r *Router) Run(ctx context.Context, pipelineName, userID, query string, bundle hybrid.Bundle) (Execution, error) {
	r.mu.RLock()
	p, ok := r.pipelines[pipelineName]
	r.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("unknown pipeline %q: %w", pipelineName, reliability.ErrValidation)
	}

	exec := r.execute(ctx, p, userID, query, bundle)
	if exec.Error != "" {
		return exec, fmt.Errorf("pipeline %s: %s", pipelineName, exec.Error)
	}
	return exec, nil
}

// RunAll executes every registered pipeline on the same snapshot. One
// pipeline failing never aborts the comparison; it shows up as a failed
// execution alongside the others.
func (r *Router) RunAll(ctx context.Context, userID, query string, bundle hybrid.Bundle) Comparison {
	names := r.Names()
	executions := make([]Execution, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		p := r.pipelines[name]
		r.mu.RUnlock()
		executions = append(executions, r.execute(ctx, p, userID, query, bundle))
	}

	return Comparison{
		QueryHash:  policy.QueryHash(query),
		Executions: executions,
		Winners:    r.pickWinners(executions),
	}
}

func (r *Router) execute(ctx context.Context, p Pipeline, userID, query string, bundle hybrid.Bundle) Execution {
	started := time.Now()
	result, err := r.executeWithRetry(ctx, p, userID, query, bundle)
	elapsed := time.Since(started)

	exec := Execution{
		Pipeline: p.Name(),
		Duration: elapsed,
	}

	rec := perf.ExecutionRecord{
		PipelineName:    p.Name(),
		UserID:          userID,
		QueryHash:       policy.QueryHash(query),
		StartedAt:       started.UTC(),
		Duration:        elapsed,
		MemoryTypesUsed: bundle.MemoryTypes,
	}

	if err != nil {
		kind := reliability.Classify(err)
		exec.Error = err.Error()
		exec.ErrorKind = kind
		rec.Success = false
		rec.ErrorKind = kind
		if r.metrics != nil {
			r.metrics.ObserveQuery(p.Name(), "error", elapsed)
			r.metrics.BackendErrors.WithLabelValues(string(kind)).Inc()
		}
	} else {
		exec.Result = result
		rec.Success = true
		rec.Confidence = result.Confidence
		rec.Personalized = result.Personalized
		if r.metrics != nil {
			r.metrics.ObserveQuery(p.Name(), "success", elapsed)
		}
		r.persistInteraction(ctx, p.Name(), userID, query, result)
	}

	if r.agg != nil {
		r.agg.Record(rec)
	}
	return exec
}

func (r *Router) executeWithRetry(ctx context.Context, p Pipeline, userID, query string, bundle hybrid.Bundle) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, reliability.ExponentialBackoff(attempt, r.cfg.BackoffBase, r.cfg.BackoffCap)); err != nil {
				return Result{}, err
			}
		}
		result, err := p.Execute(ctx, userID, query, bundle)
		if err == nil {
			return result, nil
		}
		lastErr = err
		// Only rate limiting earns a retry at this level; transient
		// retrieval failures were already retried lower down.
		if !errors.Is(err, reliability.ErrRateLimited) {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

// persistInteraction writes the answered query back to episodic memory so
// future retrieval sees it. PII is masked before anything is stored.
// Failures are logged and swallowed; the user already has their answer.
func (r *Router) persistInteraction(ctx context.Context, pipelineName, userID, query string, result Result) {
	if r.store == nil {
		return
	}

	redactedQuery, _ := policy.RedactPII(query)
	redactedAnswer, _ := policy.RedactPII(result.Answer)

	_, err := r.store.StoreEpisodic(ctx, userID, memory.Event{
		InteractionType: "query",
		Content:         fmt.Sprintf("Q: %s\nA: %s", redactedQuery, redactedAnswer),
		Context: map[string]string{
			"pipeline":   pipelineName,
			"query_hash": policy.QueryHash(query),
		},
	})
	if err != nil {
		log.Printf("episodic write-back failed for user %s: %v", userID, err)
	}
}

func (r *Router) pickWinners(executions []Execution) Winners {
	var w Winners
	var bestLatency time.Duration
	var bestConfidence, bestPersonalized float64

	for _, exec := range executions {
		if exec.Error != "" {
			continue
		}
		if w.Fastest == "" || exec.Duration < bestLatency {
			w.Fastest = exec.Pipeline
			bestLatency = exec.Duration
		}
		if w.MostConfident == "" || exec.Result.Confidence > bestConfidence {
			w.MostConfident = exec.Pipeline
			bestConfidence = exec.Result.Confidence
		}
		if exec.Result.Personalized && (w.MostPersonalized == "" || exec.Result.Confidence > bestPersonalized) {
			w.MostPersonalized = exec.Pipeline
			bestPersonalized = exec.Result.Confidence
		}
	}

	if r.agg != nil {
		if rec := r.agg.Recommend(); rec.Pipeline != "none" {
			w.MostReliable = rec.Pipeline
		}
	}
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
