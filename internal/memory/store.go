package memory

import (
	"context"
	"strings"
	"time"
)

// Store persists and retrieves episodic, semantic, and procedural memory
// plus user profiles. All episodic operations are scoped to one user;
// semantic and procedural records are global with last-writer-wins upserts.
//
// Storage faults are surfaced wrapped in reliability.ErrStorage and must
// never be conflated with "no memory found".
type Store interface {
	StoreEpisodic(ctx context.Context, userID string, ev Event) (string, error)
	StoreSemantic(ctx context.Context, rec SemanticRecord) error
	StoreProcedural(ctx context.Context, rec ProceduralRecord) error

	// RetrieveEpisodic returns this user's records only, most relevant
	// first, with recency breaking ties. Cross-user records are never
	// returned.
	RetrieveEpisodic(ctx context.Context, userID, query string, limit int) ([]EpisodicRecord, error)
	// RetrieveSemantic and RetrieveProcedural are exact-key lookups
	// returning nil (not an error) when the key is absent.
	RetrieveSemantic(ctx context.Context, conceptKey string) (*SemanticRecord, error)
	RetrieveProcedural(ctx context.Context, skillKey string) (*ProceduralRecord, error)

	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdatePreferences(ctx context.Context, userID string, prefs map[string]string) (UserProfile, error)
	UpdateLearningGoals(ctx context.Context, userID string, goals []string) (UserProfile, error)

	PruneEpisodic(ctx context.Context, before time.Time) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, embeddingDim int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, embeddingDim)
}
