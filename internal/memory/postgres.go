package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/antoniostano/mentora/internal/reliability"
)

// PostgresStore persists all memory kinds in PostgreSQL. Episodic rows carry
// an optional pgvector embedding so the corpus can later be re-indexed into
// the vector index without re-embedding.
type PostgresStore struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

func NewPostgresStore(ctx context.Context, databaseURL string, embeddingDim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, embeddingDim: embeddingDim}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodic_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			interaction_type TEXT NOT NULL,
			content TEXT NOT NULL,
			context JSONB,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, s.embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_episodic_user_created ON episodic_records (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS semantic_records (
			concept_key TEXT PRIMARY KEY,
			knowledge TEXT NOT NULL,
			related JSONB,
			confidence DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS procedural_records (
			skill_key TEXT PRIMARY KEY,
			steps JSONB NOT NULL,
			prerequisites JSONB,
			success_criteria JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			learning_goals JSONB NOT NULL DEFAULT '[]'::jsonb,
			total_sessions INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func (s *PostgresStore) StoreEpisodic(ctx context.Context, userID string, ev Event) (string, error) {
	if err := validateEvent(userID, ev); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	createdAt := ev.OccurredAt
	if createdAt.IsZero() {
		createdAt = now
	}
	id := uuid.NewString()

	contextJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	var embedding any
	if len(ev.Embedding) > 0 {
		embedding = pgvector.NewVector(ev.Embedding)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO episodic_records (id, user_id, interaction_type, content, context, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, ev.InteractionType, ev.Content, contextJSON, embedding, createdAt,
	)
	if err != nil {
		return "", storageErr("store episodic", err)
	}

	if err := s.touchProfile(ctx, userID, now); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) StoreSemantic(ctx context.Context, rec SemanticRecord) error {
	if err := validateSemantic(rec); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	relatedJSON, err := json.Marshal(rec.Related)
	if err != nil {
		return fmt.Errorf("marshal related concepts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO semantic_records (concept_key, knowledge, related, confidence, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (concept_key) DO UPDATE SET
		   knowledge = EXCLUDED.knowledge,
		   related = EXCLUDED.related,
		   confidence = EXCLUDED.confidence,
		   updated_at = EXCLUDED.updated_at`,
		rec.ConceptKey, rec.Knowledge, relatedJSON, rec.Confidence, rec.UpdatedAt,
	)
	if err != nil {
		return storageErr("store semantic", err)
	}
	return nil
}

func (s *PostgresStore) StoreProcedural(ctx context.Context, rec ProceduralRecord) error {
	if err := validateProcedural(rec); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	stepsJSON, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	prereqJSON, err := json.Marshal(rec.Prerequisites)
	if err != nil {
		return fmt.Errorf("marshal prerequisites: %w", err)
	}
	criteriaJSON, err := json.Marshal(rec.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("marshal success criteria: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO procedural_records (skill_key, steps, prerequisites, success_criteria, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (skill_key) DO UPDATE SET
		   steps = EXCLUDED.steps,
		   prerequisites = EXCLUDED.prerequisites,
		   success_criteria = EXCLUDED.success_criteria,
		   updated_at = EXCLUDED.updated_at`,
		rec.SkillKey, stepsJSON, prereqJSON, criteriaJSON, rec.UpdatedAt,
	)
	if err != nil {
		return storageErr("store procedural", err)
	}
	return nil
}

func (s *PostgresStore) RetrieveEpisodic(ctx context.Context, userID, query string, limit int) ([]EpisodicRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Fetch a recency-ordered window for this user only, then rank by the
	// same deterministic keyword score the in-memory store uses. Scoring in
	// the application keeps both backends' orderings identical.
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, interaction_type, content, context, created_at
		 FROM episodic_records WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, candidateWindow(limit),
	)
	if err != nil {
		return nil, storageErr("query episodic", err)
	}
	defer rows.Close()

	var candidates []EpisodicRecord
	for rows.Next() {
		var rec EpisodicRecord
		var contextJSON []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.InteractionType, &rec.Content, &contextJSON, &rec.CreatedAt); err != nil {
			return nil, storageErr("scan episodic row", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context: %w", err)
			}
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate episodic rows", err)
	}

	return rankEpisodic(candidates, query, limit), nil
}

func (s *PostgresStore) RetrieveSemantic(ctx context.Context, conceptKey string) (*SemanticRecord, error) {
	var rec SemanticRecord
	var relatedJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT concept_key, knowledge, related, confidence, updated_at
		 FROM semantic_records WHERE concept_key = $1`,
		conceptKey,
	).Scan(&rec.ConceptKey, &rec.Knowledge, &relatedJSON, &rec.Confidence, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query semantic", err)
	}
	if len(relatedJSON) > 0 {
		if err := json.Unmarshal(relatedJSON, &rec.Related); err != nil {
			return nil, fmt.Errorf("unmarshal related concepts: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) RetrieveProcedural(ctx context.Context, skillKey string) (*ProceduralRecord, error) {
	var rec ProceduralRecord
	var stepsJSON, prereqJSON, criteriaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT skill_key, steps, prerequisites, success_criteria, updated_at
		 FROM procedural_records WHERE skill_key = $1`,
		skillKey,
	).Scan(&rec.SkillKey, &stepsJSON, &prereqJSON, &criteriaJSON, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query procedural", err)
	}
	if err := json.Unmarshal(stepsJSON, &rec.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if len(prereqJSON) > 0 {
		if err := json.Unmarshal(prereqJSON, &rec.Prerequisites); err != nil {
			return nil, fmt.Errorf("unmarshal prerequisites: %w", err)
		}
	}
	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &rec.SuccessCriteria); err != nil {
			return nil, fmt.Errorf("unmarshal success criteria: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, created_at, last_active)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now,
	)
	if err != nil {
		return UserProfile{}, storageErr("ensure profile", err)
	}
	return s.readProfile(ctx, userID)
}

func (s *PostgresStore) UpdatePreferences(ctx context.Context, userID string, prefs map[string]string) (UserProfile, error) {
	if err := validatePreferences(prefs); err != nil {
		return UserProfile{}, err
	}
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return UserProfile{}, err
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return UserProfile{}, fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE user_profiles
		 SET preferences = preferences || $2::jsonb, last_active = now()
		 WHERE user_id = $1`,
		userID, prefsJSON,
	)
	if err != nil {
		return UserProfile{}, storageErr("update preferences", err)
	}
	return s.readProfile(ctx, userID)
}

func (s *PostgresStore) UpdateLearningGoals(ctx context.Context, userID string, goals []string) (UserProfile, error) {
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return UserProfile{}, err
	}
	goalsJSON, err := json.Marshal(goals)
	if err != nil {
		return UserProfile{}, fmt.Errorf("marshal goals: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE user_profiles SET learning_goals = $2::jsonb, last_active = now() WHERE user_id = $1`,
		userID, goalsJSON,
	)
	if err != nil {
		return UserProfile{}, storageErr("update goals", err)
	}
	return s.readProfile(ctx, userID)
}

func (s *PostgresStore) PruneEpisodic(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM episodic_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, storageErr("prune episodic", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM user_profiles),
		   (SELECT count(*) FROM episodic_records),
		   (SELECT count(*) FROM semantic_records),
		   (SELECT count(*) FROM procedural_records)`,
	).Scan(&st.Users, &st.Episodic, &st.Concepts, &st.Skills)
	if err != nil {
		return Stats{}, storageErr("query stats", err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) readProfile(ctx context.Context, userID string) (UserProfile, error) {
	var profile UserProfile
	var prefsJSON, goalsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, preferences, learning_goals, total_sessions, created_at, last_active
		 FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.UserID, &prefsJSON, &goalsJSON, &profile.TotalSessions, &profile.CreatedAt, &profile.LastActive)
	if err != nil {
		return UserProfile{}, storageErr("read profile", err)
	}
	if err := json.Unmarshal(prefsJSON, &profile.Preferences); err != nil {
		return UserProfile{}, fmt.Errorf("unmarshal preferences: %w", err)
	}
	if err := json.Unmarshal(goalsJSON, &profile.LearningGoals); err != nil {
		return UserProfile{}, fmt.Errorf("unmarshal goals: %w", err)
	}
	if profile.Preferences == nil {
		profile.Preferences = map[string]string{}
	}
	if profile.LearningGoals == nil {
		profile.LearningGoals = []string{}
	}
	return profile, nil
}

func (s *PostgresStore) touchProfile(ctx context.Context, userID string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, total_sessions, created_at, last_active)
		 VALUES ($1, 1, $2, $2)
		 ON CONFLICT (user_id) DO UPDATE SET
		   total_sessions = user_profiles.total_sessions + 1,
		   last_active = EXCLUDED.last_active`,
		userID, now,
	)
	if err != nil {
		return storageErr("touch profile", err)
	}
	return nil
}

// rankEpisodic applies the shared keyword relevance ranking to a candidate
// window. With an empty query the recency order is preserved.
func rankEpisodic(candidates []EpisodicRecord, query string, limit int) []EpisodicRecord {
	tokens := queryTokens(query)
	type scored struct {
		rec   EpisodicRecord
		score int
	}
	matches := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		score := relevanceScore(rec.Content, query, tokens)
		if len(tokens) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{rec: rec, score: score})
	}
	// Candidates arrive newest-first, so a stable sort on score alone keeps
	// the recency tie-break.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > len(matches) {
		limit = len(matches)
	}
	out := make([]EpisodicRecord, 0, limit)
	for _, m := range matches[:limit] {
		out = append(out, m.rec)
	}
	return out
}

// candidateWindow oversamples the recency window so keyword ranking has
// something to reorder.
func candidateWindow(limit int) int {
	if limit < 16 {
		return 64
	}
	return limit * 4
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(reliability.ErrStorage, err))
}
