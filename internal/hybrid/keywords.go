package hybrid

import (
	"sort"
	"strings"
)

// KeywordConfig drives concept and skill extraction from query text. Both
// tables are configuration surfaces; the defaults mirror the coaching
// domain vocabulary.
type KeywordConfig struct {
	// Concepts are matched as lowercase substrings of the query.
	Concepts []string
	// ConceptTriggers map a derived concept to the words that imply it.
	ConceptTriggers map[string][]string
	// SkillTriggers map a skill key to the words that imply it.
	SkillTriggers map[string][]string
}

func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		Concepts: []string{
			"mathematics", "programming", "language", "science", "history",
			"art", "music", "sports", "cooking", "photography",
		},
		ConceptTriggers: map[string][]string{
			"learning_methodology": {"learn", "study", "practice", "improve"},
			"learning_difficulties": {"difficult", "hard", "challenge", "struggle"},
		},
		SkillTriggers: map[string][]string{
			"problem_solving":     {"solve", "problem", "fix", "debug", "troubleshoot"},
			"learning_planning":   {"plan", "schedule", "organize", "structure"},
			"practice_techniques": {"practice", "exercise", "drill", "repetition"},
			"memory_techniques":   {"remember", "memorize", "recall", "memory"},
			"time_management":     {"time", "schedule", "deadline", "efficient"},
		},
	}
}

// ExtractConcepts returns concept keys to look up in semantic memory,
// in deterministic order.
func (kc KeywordConfig) ExtractConcepts(query string) []string {
	q := strings.ToLower(query)
	var out []string
	for _, concept := range kc.Concepts {
		if strings.Contains(q, concept) {
			out = append(out, concept)
		}
	}
	for _, derived := range sortedKeys(kc.ConceptTriggers) {
		if containsAny(q, kc.ConceptTriggers[derived]) {
			out = append(out, derived)
		}
	}
	return out
}

// ExtractSkills returns skill keys to look up in procedural memory,
// in deterministic order.
func (kc KeywordConfig) ExtractSkills(query string) []string {
	q := strings.ToLower(query)
	var out []string
	for _, skill := range sortedKeys(kc.SkillTriggers) {
		if containsAny(q, kc.SkillTriggers[skill]) {
			out = append(out, skill)
		}
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
