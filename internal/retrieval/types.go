// Package retrieval is the thin adapter over the vector-index backend,
// scoped per collection so personal and global search spaces never mix.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/mentora/internal/reliability"
)

// Origin tells which search scope produced a chunk.
type Origin string

const (
	OriginPersonal Origin = "personal"
	OriginGlobal   Origin = "global"
)

// GlobalCollection is the shared corpus every user searches.
const GlobalCollection = "global"

const personalPrefix = "user_"

// PersonalCollection derives the private collection id for a user. All
// personal reads and writes must go through this helper; the adapter
// rejects malformed personal ids, so tenant isolation holds even when the
// underlying index is not tenant-aware.
func PersonalCollection(userID string) string {
	return personalPrefix + userID
}

// RetrievedChunk is one scored piece of context. Ephemeral: produced per
// query, never persisted.
type RetrievedChunk struct {
	SourceID string  `json:"source_id"`
	ChunkID  string  `json:"chunk_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Origin   Origin  `json:"origin"`
}

// Document is an indexable unit of source material.
type Document struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id,omitempty"`
	Text     string `json:"text"`
}

// Index is the vector-index capability the orchestrator consumes.
type Index interface {
	// Search returns up to topK chunks ordered by descending score, with
	// scores normalized to [0,1].
	Search(ctx context.Context, collection, query string, topK int) ([]RetrievedChunk, error)
	// IndexDocument chunks and upserts one document. Re-indexing the same
	// document id replaces its previous chunks.
	IndexDocument(ctx context.Context, collection string, doc Document) ([]string, error)
}

func validateCollection(collection string) error {
	switch {
	case collection == GlobalCollection:
		return nil
	case strings.HasPrefix(collection, personalPrefix) && len(collection) > len(personalPrefix):
		return nil
	default:
		return fmt.Errorf("collection %q is neither global nor a namespaced personal collection: %w",
			collection, reliability.ErrValidation)
	}
}

func originOf(collection string) Origin {
	if collection == GlobalCollection {
		return OriginGlobal
	}
	return OriginPersonal
}
