package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/antoniostano/mentora/internal/embed"
	"github.com/antoniostano/mentora/internal/reliability"
)

// ChromemIndex backs the adapter with chromem-go, an embedded pure-Go
// vector database. One chromem collection per logical collection id.
type ChromemIndex struct {
	db          *chromem.DB
	embedder    embed.Embedder
	chunkSize   int
	overlap     int
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

type ChromemConfig struct {
	Embedder  embed.Embedder
	ChunkSize int
	Overlap   int
}

func NewChromemIndex(cfg ChromemConfig) (*ChromemIndex, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 200
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 20
	}
	return &ChromemIndex{
		db:          chromem.NewDB(),
		embedder:    cfg.Embedder,
		chunkSize:   cfg.ChunkSize,
		overlap:     cfg.Overlap,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (x *ChromemIndex) Search(ctx context.Context, collection, query string, topK int) ([]RetrievedChunk, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	col, err := x.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	queryVec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, queryVec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w: %w", collection, reliability.ErrRetrievalUnavailable, err)
	}

	origin := originOf(collection)
	chunks := make([]RetrievedChunk, 0, len(results))
	for _, res := range results {
		chunks = append(chunks, RetrievedChunk{
			SourceID: res.Metadata["source_id"],
			ChunkID:  res.ID,
			Text:     res.Content,
			Score:    clampScore(float64(res.Similarity)),
			Origin:   origin,
		})
	}
	return chunks, nil
}

func (x *ChromemIndex) IndexDocument(ctx context.Context, collection string, doc Document) ([]string, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("empty document id: %w", reliability.ErrValidation)
	}
	if doc.Text == "" {
		return nil, fmt.Errorf("document %q has no text: %w", doc.ID, reliability.ErrValidation)
	}

	col, err := x.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	// Idempotency: drop any chunks from a prior indexing of this document
	// before adding the new ones.
	if err := col.Delete(ctx, map[string]string{"document_id": doc.ID}, nil); err != nil {
		return nil, fmt.Errorf("delete prior chunks of %s: %w: %w", doc.ID, reliability.ErrRetrievalUnavailable, err)
	}

	sourceID := doc.SourceID
	if sourceID == "" {
		sourceID = doc.ID
	}

	pieces := ChunkText(doc.Text, x.chunkSize, x.overlap)
	chunkIDs := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		chunkID := fmt.Sprintf("%s#%d", doc.ID, i)
		vec, err := x.embedder.Embed(ctx, piece)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %s: %w", chunkID, err)
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        chunkID,
			Content:   piece,
			Embedding: vec,
			Metadata: map[string]string{
				"document_id": doc.ID,
				"source_id":   sourceID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("add chunk %s: %w: %w", chunkID, reliability.ErrRetrievalUnavailable, err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}
	return chunkIDs, nil
}

func (x *ChromemIndex) getOrCreateCollection(name string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[name]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[name]; ok {
		return col, nil
	}
	col, err := x.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w: %w", name, reliability.ErrRetrievalUnavailable, err)
	}
	x.collections[name] = col
	return col, nil
}

// clampScore forces cosine similarity into [0, 1].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
