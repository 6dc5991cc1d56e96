// Package backup implements database snapshot create/list/restore/rotate
// (spec §4.11).
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/kiro-dev/kiro-memory/internal/store"
)

// schemaVersionTag matches the format embedded in exported JSONL (spec
// §4.10), kept in sync by convention rather than by import to avoid a
// porter<->backup dependency cycle.
const schemaVersionTag = "2.5.0"

// sidecarSuffixes are the SQLite WAL-mode files that travel with a .db
// snapshot when present.
var sidecarSuffixes = []string{"-wal", "-shm"}

// Stats is the row-count/size snapshot embedded in a backup's meta file.
type Stats struct {
	Observations int   `json:"observations"`
	Sessions     int   `json:"sessions"`
	Summaries    int   `json:"summaries"`
	Prompts      int   `json:"prompts"`
	DBSizeBytes  int64 `json:"dbSizeBytes"`
}

// Meta is the JSON sidecar written alongside each backup file (spec §4.11
// create).
type Meta struct {
	Timestamp      string `json:"timestamp"`
	TimestampEpoch int64  `json:"timestampEpoch"`
	SchemaVersion  string `json:"schemaVersion"`
	Stats          Stats  `json:"stats"`
	SourcePath     string `json:"sourcePath"`
	Filename       string `json:"filename"`
}

// Entry pairs a backup file with its sidecar metadata for List.
type Entry struct {
	Path string
	Meta Meta
}

// Policy is an optional, human-editable rotation policy read from a YAML
// file in the backup directory. LoadPolicy's tolerant-on-missing-or-bad-file
// behavior mirrors config.Load's treatment of settings.json.
type Policy struct {
	MaxKeep int `yaml:"max_keep"`
}

const policyFilename = "policy.yaml"
const metaSuffix = ".meta.json"
const backupTimeLayout = "2006-01-02-150405.000"

// LoadPolicy reads policy.yaml from backupDir. Missing or unparseable
// files yield the zero Policy, not an error, matching the teacher's
// tolerant local-config loading.
func LoadPolicy(backupDir string) Policy {
	data, err := os.ReadFile(filepath.Join(backupDir, policyFilename))
	if err != nil {
		return Policy{}
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}
	}
	return p
}

// Service creates, lists, restores, and rotates SQLite backups of a Store's
// database file.
type Service struct {
	store     *store.Store
	dbPath    string
	backupDir string
}

// New creates a backup Service for the database at dbPath, writing
// snapshots to backupDir.
func New(s *store.Store, dbPath, backupDir string) *Service {
	return &Service{store: s, dbPath: dbPath, backupDir: backupDir}
}

// Create snapshots the live database file (plus any -wal/-shm sidecars) by
// file copy and writes a JSON meta sidecar next to it. This is a
// best-effort snapshot, not a live online backup; callers should quiesce
// writes or rely on WAL checkpointing for consistency (spec §4.11 create).
func (s *Service) Create(ctx context.Context) (Entry, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("backup: create dir: %w", err)
	}
	if err := s.store.Ping(); err != nil {
		return Entry{}, fmt.Errorf("backup: source db unreachable: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("backup-%s.db", formatBackupTime(now))
	destPath := filepath.Join(s.backupDir, filename)

	size, err := copyFile(s.dbPath, destPath)
	if err != nil {
		return Entry{}, fmt.Errorf("backup: copy db: %w", err)
	}
	for _, suffix := range sidecarSuffixes {
		src := s.dbPath + suffix
		if _, statErr := os.Stat(src); statErr != nil {
			continue
		}
		if _, err := copyFile(src, destPath+suffix); err != nil {
			return Entry{}, fmt.Errorf("backup: copy sidecar %s: %w", suffix, err)
		}
	}

	meta := Meta{
		Timestamp:      now.Format(time.RFC3339),
		TimestampEpoch: now.UnixMilli(),
		SchemaVersion:  schemaVersionTag,
		SourcePath:     s.dbPath,
		Filename:       filename,
		Stats:          Stats{DBSizeBytes: size},
	}
	_ = s.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&meta.Stats.Observations)
	_ = s.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&meta.Stats.Sessions)
	_ = s.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM session_summaries`).Scan(&meta.Stats.Summaries)
	_ = s.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&meta.Stats.Prompts)

	if err := writeMeta(destPath, meta); err != nil {
		return Entry{}, fmt.Errorf("backup: write meta: %w", err)
	}

	return Entry{Path: destPath, Meta: meta}, nil
}

func formatBackupTime(t time.Time) string {
	// yields backup-YYYY-MM-DD-HHMMSS-mmm.db
	ts := t.UTC().Format(backupTimeLayout)
	return strings.Replace(ts, ".", "-", 1)
}

// List returns every backup in backupDir whose .db file has a matching
// .meta.json sidecar, newest first. Files missing their sidecar (or
// sidecars missing their .db) are discarded rather than reported (spec
// §4.11 list).
func (s *Service) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: list dir: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".db") {
			continue
		}
		dbPath := filepath.Join(s.backupDir, de.Name())
		meta, err := readMeta(dbPath)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Path: dbPath, Meta: meta})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Meta.TimestampEpoch > entries[j].Meta.TimestampEpoch
	})
	return entries, nil
}

// Restore replaces dbPath and its sidecars with backupFile's snapshot,
// removing any sidecar present at dbPath but absent from the snapshot
// (spec §4.11 restore). The caller must ensure the Store using dbPath is
// closed first.
func (s *Service) Restore(backupFile, dbPath string) error {
	if _, err := os.Stat(backupFile); err != nil {
		return fmt.Errorf("backup: source missing: %w", err)
	}
	if _, err := copyFile(backupFile, dbPath); err != nil {
		return fmt.Errorf("backup: restore: %w", err)
	}

	for _, suffix := range sidecarSuffixes {
		src := backupFile + suffix
		dst := dbPath + suffix
		if _, err := os.Stat(src); err != nil {
			_ = os.Remove(dst)
			continue
		}
		if _, err := copyFile(src, dst); err != nil {
			return fmt.Errorf("backup: restore sidecar %s: %w", suffix, err)
		}
	}
	return nil
}

// ErrInvalidMaxKeep is returned by Rotate when maxKeep is not positive.
var ErrInvalidMaxKeep = fmt.Errorf("backup: maxKeep must be > 0")

// Rotate keeps the maxKeep most recent backups and deletes the rest (spec
// §4.11 rotate). maxKeep <= 0 is an error.
func (s *Service) Rotate(maxKeep int) (int, error) {
	if maxKeep <= 0 {
		return 0, ErrInvalidMaxKeep
	}

	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxKeep {
		return 0, nil
	}

	var removed int
	for _, e := range entries[maxKeep:] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("backup: remove %s: %w", e.Path, err)
		}
		for _, suffix := range sidecarSuffixes {
			_ = os.Remove(e.Path + suffix)
		}
		_ = os.Remove(metaPath(e.Path))
		removed++
	}
	return removed, nil
}

func metaPath(dbPath string) string {
	return strings.TrimSuffix(dbPath, ".db") + metaSuffix
}

func writeMeta(dbPath string, meta Meta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath(dbPath), b, 0o644)
}

func readMeta(dbPath string) (Meta, error) {
	var meta Meta
	b, err := os.ReadFile(metaPath(dbPath))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
