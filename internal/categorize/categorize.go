// Package categorize assigns a closed-set category to an observation using
// a deterministic, weighted rule bundle.
package categorize

import (
	"regexp"
	"strings"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// rule is one weighted bundle of signals for a single category.
type rule struct {
	category  models.Category
	keywords  []string
	types     []models.ObservationType
	pathRegex []*regexp.Regexp
	weight    float64
}

// Input bundles the fields the categorizer reads (spec §4.3).
type Input struct {
	Type          models.ObservationType
	Title         string
	Text          string
	Narrative     string
	Concepts      []string
	FilesModified []string
	FilesRead     []string
}

var rules = []rule{
	{
		category: models.CategorySecurity,
		keywords: []string{"vulnerability", "cve", "exploit", "auth", "authn", "authz", "credential", "secret", "token", "xss", "sql injection", "csrf", "sanitize", "encryption", "tls", "ssl", "permission"},
		types:    []models.ObservationType{models.ObsTypeConstraint},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(^|/)(auth|security|crypto)(/|\.|$)`),
		},
		weight: 3,
	},
	{
		category: models.CategoryTesting,
		keywords: []string{"test", "unit test", "integration test", "assert", "mock", "fixture", "coverage", "testify", "suite", "benchmark"},
		types:    []models.ObservationType{},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(_test\.go|/tests?/|\.test\.[jt]sx?$|_spec\.[jt]sx?$)`),
		},
		weight: 2,
	},
	{
		category: models.CategoryDebugging,
		keywords: []string{"bug", "fix", "crash", "panic", "stack trace", "traceback", "error", "fail", "regression", "root cause", "repro", "debug"},
		types:    []models.ObservationType{models.ObsTypeRejected},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(^|/)(debug|logs?)(/|\.|$)`),
		},
		weight: 2,
	},
	{
		category: models.CategoryArchitecture,
		keywords: []string{"architecture", "design", "interface", "abstraction", "module boundary", "dependency", "layering", "schema", "migration", "topology"},
		types:    []models.ObservationType{models.ObsTypeDecision},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(^|/)(internal|pkg|domain|core)(/|\.|$)`),
		},
		weight: 2,
	},
	{
		category: models.CategoryRefactoring,
		keywords: []string{"refactor", "rename", "extract", "simplify", "cleanup", "dedupe", "deduplicate", "restructure", "consolidate code"},
		types:    []models.ObservationType{},
		weight:   2,
	},
	{
		category: models.CategoryConfig,
		keywords: []string{"config", "configuration", "env var", "environment variable", "flag", "setting", "yaml", "toml", "dotenv", ".env"},
		types:    []models.ObservationType{},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\.ya?ml$|\.toml$|\.env$|(^|/)config(/|\.|$))`),
		},
		weight: 2,
	},
	{
		category: models.CategoryDocs,
		keywords: []string{"documentation", "docstring", "readme", "comment", "changelog", "godoc"},
		types:    []models.ObservationType{},
		pathRegex: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\.md$|(^|/)docs?(/|\.|$)|readme)`),
		},
		weight: 2,
	},
	{
		category: models.CategoryFeatureDev,
		keywords: []string{"implement", "add feature", "new endpoint", "new command", "support for", "enable", "introduce"},
		types:    []models.ObservationType{models.ObsTypeFileWrite, models.ObsTypeDelegation},
		weight:   1,
	},
}

// Categorize assigns one of the closed-set categories to in, per the
// scoring formula and tie-break rules of spec §4.3: greatest strictly
// positive score wins; ties favor the earlier rule; no positive score
// yields general.
func Categorize(in Input) models.Category {
	haystack := strings.ToLower(strings.Join([]string{in.Title, in.Text, in.Narrative, strings.Join(in.Concepts, " ")}, " "))

	best := models.CategoryGeneral
	bestScore := 0.0
	found := false

	for _, r := range rules {
		score := 0.0
		for _, kw := range r.keywords {
			if strings.Contains(haystack, kw) {
				score += r.weight
			}
		}
		for _, t := range r.types {
			if in.Type == t {
				score += 2 * r.weight
			}
		}
		for _, re := range r.pathRegex {
			for _, p := range in.FilesModified {
				if re.MatchString(p) {
					score += r.weight
				}
			}
			for _, p := range in.FilesRead {
				if re.MatchString(p) {
					score += r.weight
				}
			}
		}
		if score > 0 && (!found || score > bestScore) {
			best = r.category
			bestScore = score
			found = true
		}
	}
	return best
}
