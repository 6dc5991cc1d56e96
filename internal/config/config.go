// Package config provides configuration management for the memory engine.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultEmbeddingDimensions is the fixed vector width the engine
	// assumes when no embedding provider overrides it (spec §4.5).
	DefaultEmbeddingDimensions = 384

	// DefaultEmbeddingTruncateChars bounds the text handed to the embedder
	// (spec §4.5).
	DefaultEmbeddingTruncateChars = 2000

	// DefaultScoringHalfLifeHours is the recency half-life (spec §4.7,
	// glossary "Recency half-life").
	DefaultScoringHalfLifeHours = 168.0

	// DefaultVectorSearchThreshold is VectorIndex.search's minimum cosine
	// similarity (spec §4.6).
	DefaultVectorSearchThreshold = 0.3

	// DefaultStaleDetectionLimit bounds detectStale's scan (spec §4.9).
	DefaultStaleDetectionLimit = 500

	// DefaultConsolidateMinGroupSize is Repository.Consolidate's default
	// (spec §4.4).
	DefaultConsolidateMinGroupSize = 3

	// DefaultContextTokenBudget is Contexter.getSmartContext's default
	// (spec §4.12).
	DefaultContextTokenBudget = 2000

	// DefaultEmbeddingQueueSize bounds the fire-and-forget embedding
	// worker queue (spec §9 "bounded background worker pool").
	DefaultEmbeddingQueueSize = 1024

	// DefaultMaintenanceIntervalHours paces the Maintainer's ticker loop.
	DefaultMaintenanceIntervalHours = 6

	// DefaultBackupMaxKeep is Backup.rotate's default retention count.
	DefaultBackupMaxKeep = 10
)

// Config holds the engine's configuration. Every field has a workable
// default via Default(); Load() overlays a settings.json file on top.
type Config struct {
	DataDir             string `json:"data_dir"`
	DBPath              string `json:"db_path"`
	BackupDir           string `json:"backup_dir"`
	LogsDir             string `json:"logs_dir"`
	VectorDBDir         string `json:"vector_db_dir"`
	ObserverSessionsDir string `json:"observer_sessions_dir"`

	MaxConns int `json:"max_conns"`

	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingAPIKey     string `json:"embedding_api_key"`
	EmbeddingBaseURL    string `json:"embedding_base_url"`
	EmbeddingModelName  string `json:"embedding_model_name"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	EmbeddingQueueSize  int    `json:"embedding_queue_size"`

	ScoringHalfLifeHours  float64 `json:"scoring_half_life_hours"`
	VectorSearchThreshold float64 `json:"vector_search_threshold"`

	MaintenanceEnabled       bool `json:"maintenance_enabled"`
	MaintenanceIntervalHours int  `json:"maintenance_interval_hours"`
	MaintenanceWatchEnabled  bool `json:"maintenance_watch_enabled"`
	StaleDetectionLimit      int  `json:"stale_detection_limit"`
	ConsolidateMinGroupSize  int  `json:"consolidate_min_group_size"`

	RetentionObservationsMaxAgeDays int `json:"retention_observations_max_age_days"`
	RetentionSummariesMaxAgeDays    int `json:"retention_summaries_max_age_days"`
	RetentionPromptsMaxAgeDays      int `json:"retention_prompts_max_age_days"`
	RetentionKnowledgeMaxAgeDays    int `json:"retention_knowledge_max_age_days"`

	ContextTokenBudget       int    `json:"context_token_budget"`
	ContextUseTokenizer      bool   `json:"context_use_tokenizer"`
	ContextTokenizerEncoding string `json:"context_tokenizer_encoding"`

	BackupMaxKeep int `json:"backup_max_keep"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DefaultDataDir returns ~/.kiro-memory, the engine's persisted-state root
// (spec §6 "Persisted state layout").
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kiro-memory")
}

// SettingsPath returns the settings file path under a data directory.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings.json")
}

// EnsureDirs creates the data directory and its subdirectories (spec §6).
func EnsureDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.BackupDir, cfg.LogsDir, cfg.VectorDBDir, cfg.ObserverSessionsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a Config with every default value populated relative to
// DefaultDataDir().
func Default() *Config {
	return defaultsFor(DefaultDataDir())
}

func defaultsFor(dataDir string) *Config {
	return &Config{
		DataDir:             dataDir,
		DBPath:              filepath.Join(dataDir, "kiro-memory.db"),
		BackupDir:           filepath.Join(dataDir, "backups"),
		LogsDir:             filepath.Join(dataDir, "logs"),
		VectorDBDir:         filepath.Join(dataDir, "vector-db"),
		ObserverSessionsDir: filepath.Join(dataDir, "observer-sessions"),

		MaxConns: 4,

		EmbeddingProvider:   "",
		EmbeddingDimensions: DefaultEmbeddingDimensions,
		EmbeddingQueueSize:  DefaultEmbeddingQueueSize,

		ScoringHalfLifeHours:  DefaultScoringHalfLifeHours,
		VectorSearchThreshold: DefaultVectorSearchThreshold,

		MaintenanceEnabled:       true,
		MaintenanceIntervalHours: DefaultMaintenanceIntervalHours,
		// Off by default: most editors/agents run many short-lived sessions
		// against the same project tree, and a live watch only pays for
		// itself in long-running daemon-style deployments (spec §4.9 stale
		// detection still runs via the periodic sweep either way).
		MaintenanceWatchEnabled: false,
		StaleDetectionLimit:     DefaultStaleDetectionLimit,
		ConsolidateMinGroupSize: DefaultConsolidateMinGroupSize,

		// 0 disables a retention family (spec §4.9); defaults leave
		// retention off until an operator opts in.
		RetentionObservationsMaxAgeDays: 0,
		RetentionSummariesMaxAgeDays:    0,
		RetentionPromptsMaxAgeDays:      0,
		RetentionKnowledgeMaxAgeDays:    0,

		ContextTokenBudget:       DefaultContextTokenBudget,
		ContextUseTokenizer:      false,
		ContextTokenizerEncoding: "cl100k_base",

		BackupMaxKeep: DefaultBackupMaxKeep,
	}
}

// Load loads configuration from dataDir's settings.json, merging over
// Default(). A missing file is not an error; a malformed file falls back
// to defaults (spec §7: validation failures never corrupt state, they
// simply decline to apply).
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	cfg := defaultsFor(dataDir)

	data, err := os.ReadFile(SettingsPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	var overrides Config
	if err := json.Unmarshal(data, &overrides); err != nil {
		return cfg, nil
	}
	mergeNonZero(cfg, &overrides)
	return cfg, nil
}

// mergeNonZero copies every non-zero-valued field of override onto cfg.
func mergeNonZero(cfg, override *Config) {
	if override.DBPath != "" {
		cfg.DBPath = override.DBPath
	}
	if override.BackupDir != "" {
		cfg.BackupDir = override.BackupDir
	}
	if override.LogsDir != "" {
		cfg.LogsDir = override.LogsDir
	}
	if override.VectorDBDir != "" {
		cfg.VectorDBDir = override.VectorDBDir
	}
	if override.ObserverSessionsDir != "" {
		cfg.ObserverSessionsDir = override.ObserverSessionsDir
	}
	if override.MaxConns > 0 {
		cfg.MaxConns = override.MaxConns
	}
	if override.EmbeddingProvider != "" {
		cfg.EmbeddingProvider = override.EmbeddingProvider
	}
	if override.EmbeddingAPIKey != "" {
		cfg.EmbeddingAPIKey = override.EmbeddingAPIKey
	}
	if override.EmbeddingBaseURL != "" {
		cfg.EmbeddingBaseURL = override.EmbeddingBaseURL
	}
	if override.EmbeddingModelName != "" {
		cfg.EmbeddingModelName = override.EmbeddingModelName
	}
	if override.EmbeddingDimensions > 0 {
		cfg.EmbeddingDimensions = override.EmbeddingDimensions
	}
	if override.EmbeddingQueueSize > 0 {
		cfg.EmbeddingQueueSize = override.EmbeddingQueueSize
	}
	if override.ScoringHalfLifeHours > 0 {
		cfg.ScoringHalfLifeHours = override.ScoringHalfLifeHours
	}
	if override.VectorSearchThreshold > 0 {
		cfg.VectorSearchThreshold = override.VectorSearchThreshold
	}
	cfg.MaintenanceEnabled = override.MaintenanceEnabled || cfg.MaintenanceEnabled
	cfg.MaintenanceWatchEnabled = override.MaintenanceWatchEnabled || cfg.MaintenanceWatchEnabled
	if override.MaintenanceIntervalHours > 0 {
		cfg.MaintenanceIntervalHours = override.MaintenanceIntervalHours
	}
	if override.StaleDetectionLimit > 0 {
		cfg.StaleDetectionLimit = override.StaleDetectionLimit
	}
	if override.ConsolidateMinGroupSize > 0 {
		cfg.ConsolidateMinGroupSize = override.ConsolidateMinGroupSize
	}
	if override.RetentionObservationsMaxAgeDays != 0 {
		cfg.RetentionObservationsMaxAgeDays = override.RetentionObservationsMaxAgeDays
	}
	if override.RetentionSummariesMaxAgeDays != 0 {
		cfg.RetentionSummariesMaxAgeDays = override.RetentionSummariesMaxAgeDays
	}
	if override.RetentionPromptsMaxAgeDays != 0 {
		cfg.RetentionPromptsMaxAgeDays = override.RetentionPromptsMaxAgeDays
	}
	if override.RetentionKnowledgeMaxAgeDays != 0 {
		cfg.RetentionKnowledgeMaxAgeDays = override.RetentionKnowledgeMaxAgeDays
	}
	if override.ContextTokenBudget > 0 {
		cfg.ContextTokenBudget = override.ContextTokenBudget
	}
	cfg.ContextUseTokenizer = override.ContextUseTokenizer || cfg.ContextUseTokenizer
	if override.ContextTokenizerEncoding != "" {
		cfg.ContextTokenizerEncoding = override.ContextTokenizerEncoding
	}
	if override.BackupMaxKeep > 0 {
		cfg.BackupMaxKeep = override.BackupMaxKeep
	}
}

// Get returns the process-wide configuration, loading it from
// DefaultDataDir() on first use.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load(DefaultDataDir())
		if err != nil {
			globalConfig = Default()
		}
	})
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set overrides the process-wide configuration, for callers (tests, cmd/
// entrypoints) that construct their own Config rather than relying on
// settings.json discovery.
func Set(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = cfg
}
