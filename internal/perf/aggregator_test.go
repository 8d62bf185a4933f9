package perf

import (
	"context"
	"testing"
	"time"

	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/reliability"
)

func record(pipeline string, d time.Duration, success bool, confidence float64, personalized bool) ExecutionRecord {
	return ExecutionRecord{
		PipelineName: pipeline,
		UserID:       "u1",
		QueryHash:    "abcd1234abcd1234",
		StartedAt:    time.Now().UTC(),
		Duration:     d,
		Success:      success,
		Confidence:   confidence,
		Personalized: personalized,
	}
}

func TestSnapshotAggregates(t *testing.T) {
	a := NewAggregator()
	a.Record(record("direct", 100*time.Millisecond, true, 0.8, true))
	a.Record(record("direct", 300*time.Millisecond, true, 0.6, false))
	a.Record(record("direct", 200*time.Millisecond, false, 0, false))

	snap := a.Snapshot()
	if len(snap.Pipelines) != 1 {
		t.Fatalf("pipelines = %d, want 1", len(snap.Pipelines))
	}
	s := snap.Pipelines[0]
	if s.Pipeline != "direct" || s.Samples != 3 {
		t.Fatalf("stats = %+v", s)
	}
	if s.SuccessRate != 0.67 {
		t.Fatalf("SuccessRate = %v, want 0.67", s.SuccessRate)
	}
	if s.AvgLatencyMS != 200 {
		t.Fatalf("AvgLatencyMS = %v, want 200", s.AvgLatencyMS)
	}
	if s.P50LatencyMS != 200 {
		t.Fatalf("P50LatencyMS = %v, want 200", s.P50LatencyMS)
	}
	// Confidence averages over successful runs only.
	if s.AvgConfidence != 0.7 {
		t.Fatalf("AvgConfidence = %v, want 0.7", s.AvgConfidence)
	}
	if s.PersonalizationRate != 0.33 {
		t.Fatalf("PersonalizationRate = %v, want 0.33", s.PersonalizationRate)
	}
}

func TestSnapshotCountsMemoryTypes(t *testing.T) {
	a := NewAggregator()
	withTypes := func(types ...memory.Type) ExecutionRecord {
		rec := record("staged", 100*time.Millisecond, true, 0.8, true)
		rec.MemoryTypesUsed = types
		return rec
	}
	a.Record(withTypes(memory.TypeEpisodic, memory.TypeSemantic))
	a.Record(withTypes(memory.TypeEpisodic))
	a.Record(withTypes())

	s := a.Snapshot().Pipelines[0]
	if got := s.MemoryTypeCounts[memory.TypeEpisodic]; got != 2 {
		t.Fatalf("episodic count = %d, want 2", got)
	}
	if got := s.MemoryTypeCounts[memory.TypeSemantic]; got != 1 {
		t.Fatalf("semantic count = %d, want 1", got)
	}
	if got := s.MemoryTypeCounts[memory.TypeProcedural]; got != 0 {
		t.Fatalf("procedural count = %d, want 0", got)
	}
}

func TestRecommendNoneBelowFloor(t *testing.T) {
	a := NewAggregator()
	// 50% success rate: below the default 0.95 floor.
	a.Record(record("direct", 100*time.Millisecond, true, 0.9, true))
	a.Record(record("direct", 100*time.Millisecond, false, 0, false))

	rec := a.Recommend()
	if rec.Pipeline != "none" {
		t.Fatalf("Recommend() = %q, want none", rec.Pipeline)
	}
}

func TestRecommendFloorComparesUnroundedRate(t *testing.T) {
	a := NewAggregator()
	// 18/19 = 0.947..., which rounds to 0.95 for display but is still
	// below the 0.95 floor and must not qualify.
	for i := 0; i < 18; i++ {
		a.Record(record("direct", 10*time.Millisecond, true, 0.9, true))
	}
	a.Record(record("direct", 10*time.Millisecond, false, 0, false))

	if s := a.Snapshot().Pipelines[0]; s.SuccessRate != 0.95 {
		t.Fatalf("SuccessRate = %v, want 0.95 rounded", s.SuccessRate)
	}
	if rec := a.Recommend(); rec.Pipeline != "none" {
		t.Fatalf("Recommend() = %q, want none", rec.Pipeline)
	}
}

func TestRecommendEmptyAggregator(t *testing.T) {
	a := NewAggregator()
	if rec := a.Recommend(); rec.Pipeline != "none" {
		t.Fatalf("Recommend() on empty = %q, want none", rec.Pipeline)
	}
}

func TestRecommendPicksBestQualifier(t *testing.T) {
	a := NewAggregator()
	// Both fully reliable; "staged" is slower but far more confident and
	// personalized, so it should win with the default weights.
	for i := 0; i < 10; i++ {
		a.Record(record("direct", 50*time.Millisecond, true, 0.5, false))
		a.Record(record("staged", 150*time.Millisecond, true, 0.9, true))
	}
	// A flaky third pipeline must not be considered at all.
	for i := 0; i < 10; i++ {
		success := i%2 == 0
		a.Record(record("kernel", 10*time.Millisecond, success, 1.0, true))
	}

	rec := a.Recommend()
	if rec.Pipeline != "staged" {
		t.Fatalf("Recommend() = %q (score %v), want staged", rec.Pipeline, rec.Score)
	}
}

func TestRecommendSingleQualifier(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 10; i++ {
		a.Record(record("staged", 100*time.Millisecond, true, 0.8, true))
		a.Record(record("direct", 10*time.Millisecond, i%2 == 0, 0.9, true))
	}

	rec := a.Recommend()
	if rec.Pipeline != "staged" {
		t.Fatalf("Recommend() = %q, want the only reliable pipeline", rec.Pipeline)
	}
}

func TestRecommendCustomWeightsFavorLatency(t *testing.T) {
	a := NewAggregator(WithWeights(Weights{Latency: 10, Confidence: 0.1, Personalization: 0}))
	for i := 0; i < 5; i++ {
		a.Record(record("direct", 10*time.Millisecond, true, 0.5, false))
		a.Record(record("staged", 2*time.Second, true, 0.95, true))
	}
	if rec := a.Recommend(); rec.Pipeline != "direct" {
		t.Fatalf("Recommend() = %q, want direct under latency-heavy weights", rec.Pipeline)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	a := NewAggregator(WithWindowSize(4))
	// Four failures pushed out by four successes.
	for i := 0; i < 4; i++ {
		a.Record(record("direct", time.Millisecond, false, 0, false))
	}
	for i := 0; i < 4; i++ {
		a.Record(record("direct", time.Millisecond, true, 0.9, false))
	}

	snap := a.Snapshot()
	if snap.Pipelines[0].SuccessRate != 1.0 {
		t.Fatalf("SuccessRate = %v, want 1.0 after eviction", snap.Pipelines[0].SuccessRate)
	}
}

func TestPruneRemovesOldRecords(t *testing.T) {
	a := NewAggregator()
	old := record("direct", time.Millisecond, true, 0.9, false)
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	a.Record(old)
	a.Record(record("direct", time.Millisecond, true, 0.9, false))

	removed := a.Prune(time.Now().Add(-24 * time.Hour))
	if removed != 1 {
		t.Fatalf("Prune removed = %d, want 1", removed)
	}
	if snap := a.Snapshot(); snap.Pipelines[0].Samples != 1 {
		t.Fatalf("samples after prune = %d, want 1", snap.Pipelines[0].Samples)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()

	rec := record("direct", 120*time.Millisecond, true, 0.75, true)
	rec.MemoryTypesUsed = []memory.Type{memory.TypeEpisodic, memory.TypeSemantic}
	rec.ErrorKind = reliability.KindNone
	j.Append(rec)

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() len = %d, want 1", len(got))
	}
	if got[0].PipelineName != "direct" || !got[0].Success || !got[0].Personalized {
		t.Fatalf("record = %+v", got[0])
	}
	if len(got[0].MemoryTypesUsed) != 2 {
		t.Fatalf("MemoryTypesUsed = %v", got[0].MemoryTypesUsed)
	}
}

func TestJournalPrune(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()

	old := record("direct", time.Millisecond, true, 0.9, false)
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	j.Append(old)
	j.Append(record("direct", time.Millisecond, true, 0.9, false))

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
}

func TestJournalPruneWholeSecondTimestamp(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()

	// A record landing exactly on a whole second must still fall before a
	// cutoff carrying a sub-second fraction.
	old := record("direct", time.Millisecond, true, 0.9, false)
	old.StartedAt = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	j.Append(old)

	n, err := j.Prune(ctx, old.StartedAt.Add(123*time.Nanosecond))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
}
