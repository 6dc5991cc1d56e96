package categorize

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// CategorizeSuite is a test suite for the deterministic categorizer.
type CategorizeSuite struct {
	suite.Suite
}

func TestCategorizeSuite(t *testing.T) {
	suite.Run(t, new(CategorizeSuite))
}

// GoodScenarios: clear single-category signals.

func (s *CategorizeSuite) TestCategorize_GoodScenarios() {
	tests := []struct {
		name     string
		in       Input
		expected models.Category
	}{
		{
			name: "security keyword in title",
			in: Input{
				Type:  models.ObsTypeConstraint,
				Title: "Fix SQL injection vulnerability in login handler",
			},
			expected: models.CategorySecurity,
		},
		{
			name: "testing keyword and test file path",
			in: Input{
				Title:         "Add unit test for parser",
				FilesModified: []string{"internal/parser/parser_test.go"},
			},
			expected: models.CategoryTesting,
		},
		{
			name: "debugging keyword with panic",
			in: Input{
				Type:      models.ObsTypeRejected,
				Narrative: "Traced a panic to a nil pointer dereference and fixed the crash",
			},
			expected: models.CategoryDebugging,
		},
		{
			name: "architecture via decision type and module path",
			in: Input{
				Type:          models.ObsTypeDecision,
				Text:          "Chose a new module boundary for the storage layer",
				FilesModified: []string{"internal/store/store.go"},
			},
			expected: models.CategoryArchitecture,
		},
		{
			name: "refactoring keywords",
			in: Input{
				Title: "Refactor: extract helper and simplify duplicate logic",
			},
			expected: models.CategoryRefactoring,
		},
		{
			name: "config via yaml path and keyword",
			in: Input{
				Title:         "Update configuration defaults",
				FilesModified: []string{"config/settings.yaml"},
			},
			expected: models.CategoryConfig,
		},
		{
			name: "docs via markdown path",
			in: Input{
				Title:         "Update README",
				FilesModified: []string{"docs/README.md"},
			},
			expected: models.CategoryDocs,
		},
		{
			name: "feature-dev via file-write type and keyword",
			in: Input{
				Type:  models.ObsTypeFileWrite,
				Title: "Implement new endpoint for billing",
			},
			expected: models.CategoryFeatureDev,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got := Categorize(tt.in)
			s.Equal(tt.expected, got)
		})
	}
}

// EdgeCases: scoring ties, no signal, case-insensitivity.

func (s *CategorizeSuite) TestCategorize_EdgeCases() {
	s.Run("case insensitive keyword match", func() {
		got := Categorize(Input{Title: "FIX THE VULNERABILITY in AUTH flow"})
		s.Equal(models.CategorySecurity, got)
	})

	s.Run("no positive score falls back to general", func() {
		got := Categorize(Input{Title: "Read a file", Text: "nothing notable happened here"})
		s.Equal(models.CategoryGeneral, got)
	})

	s.Run("higher weighted category wins over a lower weighted keyword match", func() {
		got := Categorize(Input{Title: "auth test"})
		s.Equal(models.CategorySecurity, got)
	})

	s.Run("deterministic across repeated calls", func() {
		in := Input{Title: "Add a new feature to support bulk import", Type: models.ObsTypeFileWrite}
		first := Categorize(in)
		for i := 0; i < 5; i++ {
			s.Equal(first, Categorize(in))
		}
	})
}

// BadScenarios: empty/zero-value input must not panic and must be total.

func (s *CategorizeSuite) TestCategorize_BadScenarios() {
	s.Run("zero-value input", func() {
		got := Categorize(Input{})
		s.Equal(models.CategoryGeneral, got)
	})

	s.Run("nil slices", func() {
		got := Categorize(Input{Concepts: nil, FilesModified: nil, FilesRead: nil})
		s.Equal(models.CategoryGeneral, got)
	})

	s.Run("unknown observation type still categorizes on keywords", func() {
		got := Categorize(Input{Type: models.ObservationType("unconstrained-extension"), Title: "refactor and simplify the cache layer"})
		s.Equal(models.CategoryRefactoring, got)
	})
}
