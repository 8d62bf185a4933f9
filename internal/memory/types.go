package memory

import (
	"fmt"
	"time"

	"github.com/antoniostano/mentora/internal/reliability"
)

// Type identifies one of the three memory kinds.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
)

// Event is the caller-supplied payload for a new episodic record.
type Event struct {
	InteractionType string            `json:"interaction_type"`
	Content         string            `json:"content"`
	Context         map[string]string `json:"context,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at,omitempty"`
	Embedding       []float32         `json:"-"`
}

// EpisodicRecord is one past interaction tied to a single user.
// Records are append-only; they are never mutated after creation.
type EpisodicRecord struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	InteractionType string            `json:"interaction_type"`
	Content         string            `json:"content"`
	Context         map[string]string `json:"context,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Embedding       []float32         `json:"-"`
}

// SemanticRecord is user-independent domain knowledge keyed by concept.
type SemanticRecord struct {
	ConceptKey string    `json:"concept_key"`
	Knowledge  string    `json:"knowledge"`
	Related    []string  `json:"related,omitempty"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StepDescriptor is one ordered step of a procedural skill.
type StepDescriptor struct {
	Number      int    `json:"number"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// ProceduralRecord is a reusable multi-step workflow keyed by skill.
type ProceduralRecord struct {
	SkillKey        string           `json:"skill_key"`
	Steps           []StepDescriptor `json:"steps"`
	Prerequisites   []string         `json:"prerequisites,omitempty"`
	SuccessCriteria []string         `json:"success_criteria,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// UserProfile holds per-user preferences and goals. One per user, created
// lazily on first access and never deleted automatically.
type UserProfile struct {
	UserID        string            `json:"user_id"`
	Preferences   map[string]string `json:"preferences"`
	LearningGoals []string          `json:"learning_goals"`
	TotalSessions int               `json:"total_sessions"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActive    time.Time         `json:"last_active"`
}

// Stats summarizes the store footprint across all memory kinds.
type Stats struct {
	Users    int `json:"users"`
	Episodic int `json:"episodic"`
	Concepts int `json:"concepts"`
	Skills   int `json:"skills"`
}

// Recognized preference keys. Updates carrying any other key are rejected.
var recognizedPreferences = map[string]struct{}{
	"learning_style":   {},
	"subject_focus":    {},
	"difficulty_level": {},
}

// clockSkewTolerance bounds how far in the future an event timestamp may lie
// before it is treated as malformed.
const clockSkewTolerance = time.Minute

func validateEvent(userID string, ev Event) error {
	if userID == "" {
		return fmt.Errorf("empty user id: %w", reliability.ErrValidation)
	}
	if ev.InteractionType == "" {
		return fmt.Errorf("empty interaction type: %w", reliability.ErrValidation)
	}
	if !ev.OccurredAt.IsZero() && ev.OccurredAt.After(time.Now().Add(clockSkewTolerance)) {
		return fmt.Errorf("event timestamp %s lies in the future: %w",
			ev.OccurredAt.Format(time.RFC3339), reliability.ErrValidation)
	}
	return nil
}

func validateSemantic(rec SemanticRecord) error {
	if rec.ConceptKey == "" {
		return fmt.Errorf("empty concept key: %w", reliability.ErrValidation)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside [0,1]: %w", rec.Confidence, reliability.ErrValidation)
	}
	return nil
}

func validateProcedural(rec ProceduralRecord) error {
	if rec.SkillKey == "" {
		return fmt.Errorf("empty skill key: %w", reliability.ErrValidation)
	}
	if len(rec.Steps) == 0 {
		return fmt.Errorf("skill %q has no steps: %w", rec.SkillKey, reliability.ErrValidation)
	}
	return nil
}

func validatePreferences(prefs map[string]string) error {
	for key := range prefs {
		if _, ok := recognizedPreferences[key]; !ok {
			return fmt.Errorf("unknown preference key %q: %w", key, reliability.ErrValidation)
		}
	}
	return nil
}

func newProfile(userID string, now time.Time) UserProfile {
	return UserProfile{
		UserID:        userID,
		Preferences:   map[string]string{},
		LearningGoals: []string{},
		CreatedAt:     now,
		LastActive:    now,
	}
}
