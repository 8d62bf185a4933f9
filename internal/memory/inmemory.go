package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps all memory kinds in process. Episodic records and
// profiles live in per-user partitions keyed by user id, so concurrent
// requests for different users never contend on the same data.
type InMemoryStore struct {
	mu       sync.RWMutex
	episodic map[string][]EpisodicRecord
	profiles map[string]UserProfile
	semantic map[string]SemanticRecord
	skills   map[string]ProceduralRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		episodic: make(map[string][]EpisodicRecord),
		profiles: make(map[string]UserProfile),
		semantic: make(map[string]SemanticRecord),
		skills:   make(map[string]ProceduralRecord),
	}
}

func (s *InMemoryStore) StoreEpisodic(_ context.Context, userID string, ev Event) (string, error) {
	if err := validateEvent(userID, ev); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	createdAt := ev.OccurredAt
	if createdAt.IsZero() {
		createdAt = now
	}
	rec := EpisodicRecord{
		ID:              uuid.NewString(),
		UserID:          userID,
		InteractionType: ev.InteractionType,
		Content:         ev.Content,
		Context:         ev.Context,
		CreatedAt:       createdAt,
		Embedding:       ev.Embedding,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodic[userID] = append(s.episodic[userID], rec)
	s.touchProfileLocked(userID, now)
	return rec.ID, nil
}

func (s *InMemoryStore) StoreSemantic(_ context.Context, rec SemanticRecord) error {
	if err := validateSemantic(rec); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.semantic[rec.ConceptKey] = rec
	return nil
}

func (s *InMemoryStore) StoreProcedural(_ context.Context, rec ProceduralRecord) error {
	if err := validateProcedural(rec); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[rec.SkillKey] = rec
	return nil
}

func (s *InMemoryStore) RetrieveEpisodic(_ context.Context, userID, query string, limit int) ([]EpisodicRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	records := s.episodic[userID]
	candidates := make([]EpisodicRecord, len(records))
	copy(candidates, records)
	s.mu.RUnlock()

	type scored struct {
		rec   EpisodicRecord
		score int
	}
	tokens := queryTokens(query)
	matches := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		score := relevanceScore(rec.Content, query, tokens)
		if len(tokens) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{rec: rec, score: score})
	}

	// Relevance first, recency breaks ties, insertion order breaks exact ties.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.CreatedAt.After(matches[j].rec.CreatedAt)
	})

	if limit > len(matches) {
		limit = len(matches)
	}
	out := make([]EpisodicRecord, 0, limit)
	for _, m := range matches[:limit] {
		out = append(out, m.rec)
	}
	return out, nil
}

func (s *InMemoryStore) RetrieveSemantic(_ context.Context, conceptKey string) (*SemanticRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.semantic[conceptKey]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) RetrieveProcedural(_ context.Context, skillKey string) (*ProceduralRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.skills[skillKey]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) GetProfile(_ context.Context, userID string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateProfileLocked(userID), nil
}

func (s *InMemoryStore) UpdatePreferences(_ context.Context, userID string, prefs map[string]string) (UserProfile, error) {
	if err := validatePreferences(prefs); err != nil {
		return UserProfile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.getOrCreateProfileLocked(userID)
	for k, v := range prefs {
		profile.Preferences[k] = v
	}
	profile.LastActive = time.Now().UTC()
	s.profiles[userID] = profile
	return profile, nil
}

func (s *InMemoryStore) UpdateLearningGoals(_ context.Context, userID string, goals []string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.getOrCreateProfileLocked(userID)
	profile.LearningGoals = append([]string(nil), goals...)
	profile.LastActive = time.Now().UTC()
	s.profiles[userID] = profile
	return profile, nil
}

func (s *InMemoryStore) PruneEpisodic(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for userID, records := range s.episodic {
		kept := records[:0]
		for _, rec := range records {
			if rec.CreatedAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, rec)
		}
		s.episodic[userID] = kept
	}
	return pruned, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, records := range s.episodic {
		total += len(records)
	}
	return Stats{
		Users:    len(s.profiles),
		Episodic: total,
		Concepts: len(s.semantic),
		Skills:   len(s.skills),
	}, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) getOrCreateProfileLocked(userID string) UserProfile {
	if profile, ok := s.profiles[userID]; ok {
		return profile
	}
	profile := newProfile(userID, time.Now().UTC())
	s.profiles[userID] = profile
	return profile
}

func (s *InMemoryStore) touchProfileLocked(userID string, now time.Time) {
	profile := s.getOrCreateProfileLocked(userID)
	profile.LastActive = now
	profile.TotalSessions++
	s.profiles[userID] = profile
}

func queryTokens(query string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(query)))
}

// relevanceScore is a deterministic keyword score: one point per query token
// found in the content, plus a bonus when the whole query appears verbatim.
func relevanceScore(content, query string, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	score := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			score++
		}
	}
	if score > 0 && strings.Contains(haystack, strings.ToLower(strings.TrimSpace(query))) {
		score += 2
	}
	return score
}
