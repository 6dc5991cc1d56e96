package models

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// KnowledgeFacts is the typed tagged union serialized into Observation.Facts
// for the four knowledge types (spec §9 re-architecture note: "facts holding
// knowledge metadata is a typed tagged union... serialized to a string
// column"). Only the fields relevant to Kind are expected to be populated;
// the others are carried as zero values.
type KnowledgeFacts struct {
	Kind ObservationType `json:"kind"`

	// Constraint: a limitation that must be respected.
	Constraint string `json:"constraint,omitempty"`
	Scope      string `json:"scope,omitempty"`

	// Decision: a choice that was made and why.
	Decision  string `json:"decision,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	// Heuristic: a rule of thumb learned from experience.
	Heuristic string `json:"heuristic,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Rejected: an approach that was tried and abandoned.
	Rejected string `json:"rejected,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Importance is a first-class nullable 1-5 rating (SPEC_FULL.md
	// Open Question resolution #3). When set to 4 or 5 the observation is
	// exempt from retention sweeps. It is additionally serialized so the
	// spec-mandated substring match against `"importance":4` / `"importance":5`
	// on the raw JSON continues to work unchanged.
	Importance int `json:"importance,omitempty"`
}

// MarshalFacts serializes f to the string form stored in Observation.Facts.
func MarshalFacts(f KnowledgeFacts) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalFacts parses a facts string back into a KnowledgeFacts. A blank
// or non-JSON string (e.g. a free-form narrative-only fact) yields a zero
// value and no error, since facts is documented as "free-form string or
// JSON string for knowledge types".
func UnmarshalFacts(s string) KnowledgeFacts {
	var f KnowledgeFacts
	if s == "" {
		return f
	}
	_ = json.Unmarshal([]byte(s), &f)
	return f
}

// FactsImportanceSubstringMatch implements the spec §4.9 / §9 documented
// (if fragile) retention-exemption check: a substring match for
// `"importance":4` or `"importance":5` on the raw serialized facts text,
// tolerant of an optional space after the colon. This is kept exactly as
// spec.md describes it, in addition to the first-class Importance column
// the Repository populates at write time — the column is the fast path;
// this function documents and preserves the literal fallback semantics so
// a caller relying on spec.md's exact wording is never surprised.
func FactsImportanceSubstringMatch(factsJSON string) bool {
	for _, v := range []string{"4", "5"} {
		if strings.Contains(factsJSON, `"importance":`+v) || strings.Contains(factsJSON, `"importance": `+v) {
			return true
		}
	}
	return false
}

// ParseImportance extracts a 1-5 importance rating from a facts string for
// populating Observation.Importance at write time, first by JSON field and,
// failing that, by the same substring convention as
// FactsImportanceSubstringMatch (covers hand-written facts payloads that
// aren't valid JSON for the full KnowledgeFacts shape).
func ParseImportance(factsJSON string) (int, bool) {
	if factsJSON == "" {
		return 0, false
	}
	f := UnmarshalFacts(factsJSON)
	if f.Importance >= 1 && f.Importance <= 5 {
		return f.Importance, true
	}
	for _, v := range []string{"5", "4", "3", "2", "1"} {
		if strings.Contains(factsJSON, `"importance":`+v) || strings.Contains(factsJSON, `"importance": `+v) {
			n, _ := strconv.Atoi(v)
			return n, true
		}
	}
	return 0, false
}
