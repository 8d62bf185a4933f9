// Package hybrid merges personal and global retrieval with the three
// memory kinds into one ranked, size-bounded context bundle.
package hybrid

import (
	"context"
	"fmt"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/reliability"
	"github.com/antoniostano/mentora/internal/retrieval"
)

// Bundle is the merged context handed to every pipeline for one query.
// Pipelines never re-trigger retrieval; they all see this snapshot.
type Bundle struct {
	Chunks      []retrieval.RetrievedChunk `json:"chunks"`
	Episodic    []memory.EpisodicRecord    `json:"episodic"`
	Semantic    []memory.SemanticRecord    `json:"semantic"`
	Procedural  []memory.ProceduralRecord  `json:"procedural"`
	MemoryTypes []memory.Type              `json:"memory_types"`
	// Degraded is set when a search scope stayed empty because its backend
	// failed after retries. The query still proceeds on what is left.
	Degraded bool `json:"degraded"`
}

// Personalized reports whether any user-specific context made it into the
// bundle.
func (b Bundle) Personalized() bool {
	if len(b.Episodic) > 0 {
		return true
	}
	for _, c := range b.Chunks {
		if c.Origin == retrieval.OriginPersonal {
			return true
		}
	}
	return false
}

// DegradeObserver is notified when one retrieval scope fails after retries
// and the query degrades instead of aborting.
type DegradeObserver func(origin retrieval.Origin)

type Config struct {
	// PersonalBoost is added to every personal-origin chunk score before
	// the final ranking, so personal context wins close calls.
	PersonalBoost float64
	Keywords      KeywordConfig
}

func DefaultConfig() Config {
	return Config{
		PersonalBoost: 0.15,
		Keywords:      DefaultKeywordConfig(),
	}
}

type Orchestrator struct {
	index     retrieval.Index
	store     memory.Store
	cfg       Config
	onDegrade DegradeObserver
}

func NewOrchestrator(index retrieval.Index, store memory.Store, cfg Config, onDegrade DegradeObserver) *Orchestrator {
	if cfg.PersonalBoost < 0 {
		cfg.PersonalBoost = 0
	}
	return &Orchestrator{index: index, store: store, cfg: cfg, onDegrade: onDegrade}
}

// Retrieve produces the bundle for one query. The two vector searches and
// the three memory lookups run concurrently; all must finish (or be marked
// failed) before the merge. Search failures degrade to empty, memory-store
// storage faults abort the query.
func (o *Orchestrator) Retrieve(ctx context.Context, userID, query string, limit int) (Bundle, error) {
	if limit <= 0 {
		// Short-circuit: no backend calls at all.
		return Bundle{}, nil
	}

	var (
		personal, global []retrieval.RetrievedChunk
		episodic         []memory.EpisodicRecord
		semantic         []memory.SemanticRecord
		procedural       []memory.ProceduralRecord
		// Each flag is written by exactly one goroutine and read after Wait.
		personalDegraded, globalDegraded bool
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chunks, err := o.index.Search(gctx, retrieval.PersonalCollection(userID), query, limit)
		if err != nil {
			return o.degrade(retrieval.OriginPersonal, err, &personalDegraded)
		}
		personal = chunks
		return nil
	})

	g.Go(func() error {
		chunks, err := o.index.Search(gctx, retrieval.GlobalCollection, query, limit)
		if err != nil {
			return o.degrade(retrieval.OriginGlobal, err, &globalDegraded)
		}
		global = chunks
		return nil
	})

	g.Go(func() error {
		records, err := o.store.RetrieveEpisodic(gctx, userID, query, limit)
		if err != nil {
			return fmt.Errorf("episodic lookup: %w", err)
		}
		episodic = records
		return nil
	})

	g.Go(func() error {
		for _, concept := range o.cfg.Keywords.ExtractConcepts(query) {
			rec, err := o.store.RetrieveSemantic(gctx, concept)
			if err != nil {
				return fmt.Errorf("semantic lookup %s: %w", concept, err)
			}
			if rec != nil {
				semantic = append(semantic, *rec)
			}
		}
		return nil
	})

	g.Go(func() error {
		for _, skill := range o.cfg.Keywords.ExtractSkills(query) {
			rec, err := o.store.RetrieveProcedural(gctx, skill)
			if err != nil {
				return fmt.Errorf("procedural lookup %s: %w", skill, err)
			}
			if rec != nil {
				procedural = append(procedural, *rec)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		Chunks:     MergeChunks(personal, global, o.cfg.PersonalBoost, limit),
		Episodic:   episodic,
		Semantic:   semantic,
		Procedural: procedural,
		Degraded:   personalDegraded || globalDegraded,
	}
	if len(episodic) > 0 {
		bundle.MemoryTypes = append(bundle.MemoryTypes, memory.TypeEpisodic)
	}
	if len(semantic) > 0 {
		bundle.MemoryTypes = append(bundle.MemoryTypes, memory.TypeSemantic)
	}
	if len(procedural) > 0 {
		bundle.MemoryTypes = append(bundle.MemoryTypes, memory.TypeProcedural)
	}
	return bundle, nil
}

// degrade swallows a retrieval failure for one scope. Validation errors and
// cancellations still propagate; only unavailable backends degrade.
func (o *Orchestrator) degrade(origin retrieval.Origin, err error, flag *bool) error {
	switch reliability.Classify(err) {
	case reliability.KindRetrievalUnavailable:
		log.Printf("retrieval degraded for %s scope: %v", origin, err)
		*flag = true
		if o.onDegrade != nil {
			o.onDegrade(origin)
		}
		return nil
	default:
		return err
	}
}

// MergeChunks combines both scopes into one ranked list: personal chunks
// get the boost (clamped to 1.0), then a stable descending sort preserves
// each scope's original order on exact ties, then the list is cut to limit.
func MergeChunks(personal, global []retrieval.RetrievedChunk, boost float64, limit int) []retrieval.RetrievedChunk {
	merged := make([]retrieval.RetrievedChunk, 0, len(personal)+len(global))
	for _, c := range personal {
		c.Score += boost
		if c.Score > 1 {
			c.Score = 1
		}
		merged = append(merged, c)
	}
	merged = append(merged, global...)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		// Exact tie: personal origin wins.
		return merged[i].Origin == retrieval.OriginPersonal && merged[j].Origin == retrieval.OriginGlobal
	})

	if limit < len(merged) {
		merged = merged[:limit]
	}
	return merged
}
