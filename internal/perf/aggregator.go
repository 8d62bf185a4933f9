package perf

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/reliability"
)

// ExecutionRecord captures one pipeline run for later aggregation.
type ExecutionRecord struct {
	PipelineName    string           `json:"pipeline_name"`
	UserID          string           `json:"user_id"`
	QueryHash       string           `json:"query_hash"`
	StartedAt       time.Time        `json:"started_at"`
	Duration        time.Duration    `json:"duration"`
	Success         bool             `json:"success"`
	Confidence      float64          `json:"confidence"`
	MemoryTypesUsed []memory.Type    `json:"memory_types_used,omitempty"`
	Personalized    bool             `json:"personalized"`
	ErrorKind       reliability.Kind `json:"error_kind,omitempty"`
}

// PipelineStats summarizes the recent window for one pipeline.
type PipelineStats struct {
	Pipeline            string              `json:"pipeline"`
	Samples             int                 `json:"samples"`
	SuccessRate         float64             `json:"success_rate"`
	AvgLatencyMS        float64             `json:"avg_latency_ms"`
	P50LatencyMS        float64             `json:"p50_latency_ms"`
	P95LatencyMS        float64             `json:"p95_latency_ms"`
	AvgConfidence       float64             `json:"avg_confidence"`
	PersonalizationRate float64             `json:"personalization_rate"`
	MemoryTypeCounts    map[memory.Type]int `json:"memory_type_counts,omitempty"`

	// rawSuccessRate is the unrounded rate; SuccessRate is rounded for
	// presentation and must not feed threshold comparisons.
	rawSuccessRate float64
}

// Snapshot is a point-in-time view across all pipelines.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Pipelines   []PipelineStats `json:"pipelines"`
}

// Recommendation names the pipeline the aggregator currently favors.
// Pipeline is "none" when no pipeline meets the reliability bar.
type Recommendation struct {
	Pipeline string  `json:"pipeline"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Weights tune the recommendation score. All weights must be non-negative.
type Weights struct {
	Latency         float64
	Confidence      float64
	Personalization float64
}

func DefaultWeights() Weights {
	return Weights{Latency: 1.0, Confidence: 1.0, Personalization: 0.5}
}

const (
	defaultWindowSize     = 256
	defaultMinSuccessRate = 0.95
)

// Aggregator keeps a bounded ring of recent execution records per pipeline.
type Aggregator struct {
	mu             sync.RWMutex
	windowSize     int
	minSuccessRate float64
	weights        Weights
	pipelines      map[string]*recordRing
	journal        *Journal
}

type recordRing struct {
	records []ExecutionRecord
	next    int
	filled  bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithWindowSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.windowSize = n
		}
	}
}

func WithMinSuccessRate(rate float64) Option {
	return func(a *Aggregator) {
		if rate >= 0 && rate <= 1 {
			a.minSuccessRate = rate
		}
	}
}

func WithWeights(w Weights) Option {
	return func(a *Aggregator) {
		if w.Latency >= 0 && w.Confidence >= 0 && w.Personalization >= 0 {
			a.weights = w
		}
	}
}

// WithJournal tees every record into a durable journal. Journal write
// failures are swallowed; the in-memory window is the source of truth.
func WithJournal(j *Journal) Option {
	return func(a *Aggregator) { a.journal = j }
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		windowSize:     defaultWindowSize,
		minSuccessRate: defaultMinSuccessRate,
		weights:        DefaultWeights(),
		pipelines:      make(map[string]*recordRing),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record stores one execution. Records with an empty pipeline name are dropped.
func (a *Aggregator) Record(rec ExecutionRecord) {
	name := strings.TrimSpace(rec.PipelineName)
	if name == "" {
		return
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	a.mu.Lock()
	ring, ok := a.pipelines[name]
	if !ok {
		ring = &recordRing{records: make([]ExecutionRecord, a.windowSize)}
		a.pipelines[name] = ring
	}
	ring.records[ring.next] = rec
	ring.next++
	if ring.next >= len(ring.records) {
		ring.next = 0
		ring.filled = true
	}
	journal := a.journal
	a.mu.Unlock()

	if journal != nil {
		journal.Append(rec)
	}
}

// Snapshot aggregates the current window, pipelines in name order.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.pipelines))
	for name := range a.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]PipelineStats, 0, len(names))
	for _, name := range names {
		if s, ok := a.statsLocked(name); ok {
			stats = append(stats, s)
		}
	}

	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  a.windowSize,
		Pipelines:   stats,
	}
}

func (a *Aggregator) statsLocked(name string) (PipelineStats, bool) {
	ring := a.pipelines[name]
	if ring == nil {
		return PipelineStats{}, false
	}
	records := ring.window()
	if len(records) == 0 {
		return PipelineStats{}, false
	}

	latencies := make([]float64, 0, len(records))
	var successes, personalized int
	var confidenceSum, latencySum float64
	memoryCounts := make(map[memory.Type]int)
	for _, rec := range records {
		ms := float64(rec.Duration) / float64(time.Millisecond)
		latencies = append(latencies, ms)
		latencySum += ms
		if rec.Success {
			successes++
			confidenceSum += rec.Confidence
		}
		if rec.Personalized {
			personalized++
		}
		for _, mt := range rec.MemoryTypesUsed {
			memoryCounts[mt]++
		}
	}
	sort.Float64s(latencies)

	n := float64(len(records))
	avgConfidence := 0.0
	if successes > 0 {
		avgConfidence = confidenceSum / float64(successes)
	}

	if len(memoryCounts) == 0 {
		memoryCounts = nil
	}

	return PipelineStats{
		Pipeline:            name,
		Samples:             len(records),
		SuccessRate:         round2(float64(successes) / n),
		AvgLatencyMS:        round2(latencySum / n),
		P50LatencyMS:        round2(quantile(latencies, 0.50)),
		P95LatencyMS:        round2(quantile(latencies, 0.95)),
		AvgConfidence:       round2(avgConfidence),
		PersonalizationRate: round2(float64(personalized) / n),
		MemoryTypeCounts:    memoryCounts,
		rawSuccessRate:      float64(successes) / n,
	}, true
}

func (r *recordRing) window() []ExecutionRecord {
	n := r.next
	if r.filled {
		n = len(r.records)
	}
	out := make([]ExecutionRecord, n)
	copy(out, r.records[:n])
	return out
}

// Recommend scores every pipeline whose success rate clears the floor and
// returns the best one. With no qualifying pipeline the recommendation is
// "none" so callers never route toward a flaky pipeline by default.
func (a *Aggregator) Recommend() Recommendation {
	snap := a.Snapshot()

	a.mu.RLock()
	minRate := a.minSuccessRate
	weights := a.weights
	a.mu.RUnlock()

	best := Recommendation{Pipeline: "none", Reason: "no pipeline meets the success-rate floor"}
	for _, stats := range snap.Pipelines {
		if stats.rawSuccessRate < minRate {
			continue
		}
		score := scorePipeline(stats, weights)
		if best.Pipeline == "none" || score > best.Score {
			best = Recommendation{
				Pipeline: stats.Pipeline,
				Score:    round2(score),
				Reason:   "highest weighted score among qualifying pipelines",
			}
		}
	}
	return best
}

func scorePipeline(stats PipelineStats, w Weights) float64 {
	// Latency contributes inversely so faster pipelines score higher;
	// the +1s keeps the term bounded in (0, 1].
	latencyScore := 1.0 / (1.0 + stats.AvgLatencyMS/1000.0)
	return w.Latency*latencyScore + w.Confidence*stats.AvgConfidence + w.Personalization*stats.PersonalizationRate
}

// Prune drops records that started before the cutoff and returns how many
// were removed.
func (a *Aggregator) Prune(before time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for name, ring := range a.pipelines {
		kept := make([]ExecutionRecord, 0, a.windowSize)
		for _, rec := range ring.window() {
			if rec.StartedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(a.pipelines, name)
			continue
		}
		fresh := &recordRing{records: make([]ExecutionRecord, a.windowSize)}
		for _, rec := range kept {
			fresh.records[fresh.next] = rec
			fresh.next++
			if fresh.next >= len(fresh.records) {
				fresh.next = 0
				fresh.filled = true
			}
		}
		a.pipelines[name] = fresh
	}
	return removed
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
