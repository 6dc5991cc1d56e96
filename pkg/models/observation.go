// Package models contains the domain entities persisted by the memory engine.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ObservationType identifies the kind of hook event an Observation records.
// The set below covers the types the engine assigns ranking/retention
// behavior to; callers may supply other, unrecognized values and the engine
// stores them as-is.
type ObservationType string

const (
	ObsTypeFileRead    ObservationType = "file-read"
	ObsTypeFileWrite   ObservationType = "file-write"
	ObsTypeCommand     ObservationType = "command"
	ObsTypeResearch    ObservationType = "research"
	ObsTypeDelegation  ObservationType = "delegation"
	ObsTypeToolUse     ObservationType = "tool-use"
	ObsTypeConstraint  ObservationType = "constraint"
	ObsTypeDecision    ObservationType = "decision"
	ObsTypeHeuristic   ObservationType = "heuristic"
	ObsTypeRejected    ObservationType = "rejected"
)

// KnowledgeTypes is the closed set of types that receive ranking boosts
// (Scorer) and an importance-based retention exemption (Maintainer).
var KnowledgeTypes = map[ObservationType]bool{
	ObsTypeConstraint: true,
	ObsTypeDecision:   true,
	ObsTypeHeuristic:  true,
	ObsTypeRejected:   true,
}

// IsKnowledgeType reports whether t is one of the knowledge types.
func IsKnowledgeType(t ObservationType) bool {
	return KnowledgeTypes[t]
}

// Category is the closed set of auto-categorization labels (§4.3).
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryTesting     Category = "testing"
	CategoryDebugging   Category = "debugging"
	CategoryArchitecture Category = "architecture"
	CategoryRefactoring Category = "refactoring"
	CategoryConfig      Category = "config"
	CategoryDocs        Category = "docs"
	CategoryFeatureDev  Category = "feature-dev"
	CategoryGeneral     Category = "general"
)

// StringSlice is a comma-joined string list stored as TEXT, used for
// concepts. Files are stored as JSON arrays via JSONStringArray below.
type StringSlice []string

// Join renders the slice as a comma-joined string for storage.
func (s StringSlice) Join() string {
	return strings.Join([]string(s), ",")
}

// ParseStringSlice splits a comma-joined string back into a slice,
// dropping empty entries produced by leading/trailing/duplicate commas.
func ParseStringSlice(s string) StringSlice {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(StringSlice, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JSONStringArray is a []string stored as a JSON array in a TEXT column.
type JSONStringArray []string

func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Observation is one atomic record of a hook event.
type Observation struct {
	LastAccessedEpoch sql.NullInt64   `json:"last_accessed_epoch"`
	Importance        sql.NullInt64   `json:"importance"`
	Subtitle          sql.NullString  `json:"subtitle,omitempty"`
	Text              sql.NullString  `json:"text,omitempty"`
	Narrative         sql.NullString  `json:"narrative,omitempty"`
	Facts             sql.NullString  `json:"facts,omitempty"`
	SessionID         string          `json:"session_id"`
	Project           string          `json:"project"`
	Type              ObservationType `json:"type"`
	Title             string          `json:"title"`
	ContentHash       string          `json:"content_hash"`
	AutoCategory      Category        `json:"auto_category"`
	CreatedAt         string          `json:"created_at"`
	Concepts          StringSlice     `json:"concepts,omitempty"`
	FilesRead         JSONStringArray `json:"files_read,omitempty"`
	FilesModified     JSONStringArray `json:"files_modified,omitempty"`
	ID                int64           `json:"id"`
	CreatedAtEpoch    int64           `json:"created_at_epoch"`
	PromptNumber      int             `json:"prompt_number"`
	DiscoveryTokens   int64           `json:"discovery_tokens"`
	Stale             bool            `json:"stale"`
}

// ObservationInput is the set of caller-supplied fields for creating an
// Observation; everything else (content hash, category, timestamps) is
// computed by the Repository.
type ObservationInput struct {
	SessionID       string
	Project         string
	Type            ObservationType
	Title           string
	Subtitle        string
	Text            string
	Narrative       string
	Facts           string
	Concepts        []string
	FilesRead       []string
	FilesModified   []string
	PromptNumber    int
	ContentHash     string // optional: caller may precompute
	DiscoveryTokens int64
}

// DiscoveryTokenEstimate returns ceil(len(text)/4), the engine's rough
// token-cost estimate (glossary: "Discovery tokens").
func DiscoveryTokenEstimate(text string) int64 {
	if text == "" {
		return 0
	}
	n := len(text)
	return int64((n + 3) / 4)
}
