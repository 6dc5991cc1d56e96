// Package repository implements typed, transactional operations over each
// entity family persisted by the Store.
package repository

import (
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiro-dev/kiro-memory/internal/categorize"
	"github.com/kiro-dev/kiro-memory/internal/redact"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// Repository is the single typed access point over every entity family; it
// owns no state beyond the underlying Store.
type Repository struct {
	store *store.Store
}

// New creates a Repository over an already-open Store.
func New(s *store.Store) *Repository {
	return &Repository{store: s}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(", ?")
	}
	return b.String()
}

func int64SliceToArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ContentHash computes the spec's sha256(project | type | title | narrative)
// dedup key (spec §4.4), independent of session id and timestamp.
func ContentHash(project string, typ models.ObservationType, title, narrative string) string {
	h := sha256.New()
	h.Write([]byte(project))
	h.Write([]byte{'|'})
	h.Write([]byte(typ))
	h.Write([]byte{'|'})
	h.Write([]byte(title))
	h.Write([]byte{'|'})
	h.Write([]byte(narrative))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// DedupWindow returns the per-type dedup window (spec §4.4 "per-type dedup windows").
func DedupWindow(t models.ObservationType) time.Duration {
	switch t {
	case models.ObsTypeFileRead:
		return 60 * time.Second
	case models.ObsTypeFileWrite:
		return 10 * time.Second
	case models.ObsTypeCommand:
		return 30 * time.Second
	case models.ObsTypeResearch:
		return 120 * time.Second
	case models.ObsTypeDelegation:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// Cursor is a decoded keyset-pagination position (spec §4.4 "keyset cursors").
type Cursor struct {
	Epoch int64
	ID    int64
}

// EncodeCursor renders a Cursor as base64url(epoch + ":" + id).
func EncodeCursor(epoch, id int64) string {
	raw := strconv.FormatInt(epoch, 10) + ":" + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("decode cursor: malformed payload")
	}
	epoch, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor epoch: %w", err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor id: %w", err)
	}
	return Cursor{Epoch: epoch, ID: id}, nil
}

// nowPair returns the ISO-8601 string and epoch millis for "now", the pair
// stored alongside every timestamped row (spec §3).
func nowPair() (string, int64) {
	now := time.Now()
	return now.Format(time.RFC3339), now.UnixMilli()
}

func categorizeObservation(in models.ObservationInput) models.Category {
	return categorize.Categorize(categorize.Input{
		Type:          in.Type,
		Title:         in.Title,
		Text:          in.Text,
		Narrative:     in.Narrative,
		Concepts:      in.Concepts,
		FilesModified: in.FilesModified,
		FilesRead:     in.FilesRead,
	})
}

func redactInput(in *models.ObservationInput) {
	in.Title, in.Text, in.Narrative = redact.Fields(in.Title, in.Text, in.Narrative)
}
