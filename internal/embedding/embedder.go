package embedding

import (
	"github.com/rs/zerolog/log"

	"github.com/kiro-dev/kiro-memory/internal/config"
)

// maxEmbedInputChars truncates text before it reaches a provider (spec
// §4.5: "input text is truncated to 2 000 characters before the call").
const maxEmbedInputChars = 2000

// Embedder is the engine-facing capability spec §4.5 describes: pluggable,
// optionally absent, degrading every downstream vector operation to
// lexical-only when no backend is configured.
type Embedder struct {
	model    EmbeddingModel
	provider string
}

// NewEmbedder selects the first available backend from the registry for
// the configured provider. An empty or unregistered provider, or one whose
// factory errors (e.g. a missing API key), yields a non-nil Embedder whose
// IsAvailable() is false rather than an error — spec §4.5: "if none is
// available, isAvailable() stays false and all downstream vector
// operations degrade to lexical-only".
func NewEmbedder(cfg *config.Config) *Embedder {
	if cfg == nil || cfg.EmbeddingProvider == "" {
		return &Embedder{}
	}
	model, err := GetModel(cfg.EmbeddingProvider)
	if err != nil {
		log.Debug().Err(err).Str("provider", cfg.EmbeddingProvider).Msg("embedding provider unavailable")
		return &Embedder{}
	}
	return &Embedder{model: model, provider: cfg.EmbeddingProvider}
}

// IsAvailable reports whether a backend was successfully constructed.
func (e *Embedder) IsAvailable() bool {
	return e != nil && e.model != nil
}

// Provider returns the selected backend's identifier, or "" if none.
func (e *Embedder) Provider() string {
	if e == nil {
		return ""
	}
	return e.provider
}

// Dimensions returns the backend's fixed output width, or 0 if none.
func (e *Embedder) Dimensions() int {
	if !e.IsAvailable() {
		return 0
	}
	return e.model.Dimensions()
}

// Embed produces a dense vector for text, or nil if unavailable or the
// provider call fails. Failures are swallowed per spec §7 ("Embedding
// provider failures: always swallowed") and logged at debug level.
func (e *Embedder) Embed(text string) []float32 {
	if !e.IsAvailable() {
		return nil
	}
	if len(text) > maxEmbedInputChars {
		text = truncateRunes(text, maxEmbedInputChars)
	}
	vec, err := e.model.Embed(text)
	if err != nil {
		log.Debug().Err(err).Str("provider", e.provider).Msg("embedding call failed")
		return nil
	}
	return vec
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
