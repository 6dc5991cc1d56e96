package porter

import (
	"bytes"
	"context"
	"os"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-porter-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestExportImportRoundTrip is spec §8 scenario 5: exporting 4 observations
// and 1 summary into JSONL, then importing into an empty database,
// reproduces the counts exactly; a second import of the same file skips
// everything.
func TestExportImportRoundTrip(t *testing.T) {
	srcStore := newTestStore(t)
	repo := repository.New(srcStore)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := repo.CreateObservation(ctx, models.ObservationInput{
			SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
			Title: "obs", PromptNumber: i,
		})
		require.NoError(t, err)
		// force distinct content hashes so none dedup against each other
		_, err = srcStore.DB().ExecContext(ctx,
			`UPDATE observations SET title = title || ' ' || id, content_hash = content_hash || id WHERE id = (SELECT MAX(id) FROM observations)`)
		require.NoError(t, err)
	}
	_, err := repo.StoreSummary(ctx, models.SummaryInput{SessionID: "s1", Project: "p1", Request: "do the thing"})
	require.NoError(t, err)

	srcPorter := New(srcStore)
	var buf bytes.Buffer
	require.NoError(t, srcPorter.Export(ctx, &buf, ExportFilters{}))

	var meta MetaRecord
	firstLine := buf.Bytes()[:bytes.IndexByte(buf.Bytes(), '\n')]
	require.NoError(t, json.Unmarshal(firstLine, &meta))
	require.Equal(t, 4, meta.Meta.Counts.Observations)
	require.Equal(t, 1, meta.Meta.Counts.Summaries)

	dstStore := newTestStore(t)
	dstPorter := New(dstStore)

	result, err := dstPorter.Import(ctx, bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	require.Equal(t, 5, result.Imported)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, 0, result.Errors)
	require.Equal(t, 5, result.Total)

	second, err := dstPorter.Import(ctx, bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	require.Equal(t, 0, second.Imported)
	require.Equal(t, second.Total, second.Skipped)
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	ctx := context.Background()

	input := "not json\n" + `{"_type":"observation","project":"p1","type":"file-read","title":"x"}` + "\n"
	result, err := p.Import(ctx, bytes.NewReader([]byte(input)), false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Errors)
	require.Equal(t, 1, result.Imported)
}

func TestImportDryRunDoesNotWrite(t *testing.T) {
	s := newTestStore(t)
	p := New(s)
	ctx := context.Background()

	input := `{"_type":"observation","project":"p1","type":"file-read","title":"x"}` + "\n"
	result, err := p.Import(ctx, bytes.NewReader([]byte(input)), true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count))
	require.Equal(t, 0, count)
}
