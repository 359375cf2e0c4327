package queue

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/bookiehq/bookie-back/internal/db"
	"github.com/bookiehq/bookie-back/internal/testutil"
)

const sampleExport = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
<DL><p>
    <DT><A HREF="http://example.com/go" TAGS="code,golang">The Go Programming Language</A>
    <DT><A HREF="http://example.com/zoo" TAGS="animals">Zoo news</A>
    <DT><A HREF="http://example.com/untagged">No tags here</A>
    <DT><A NAME="anchor-without-href">skip me</A>
</DL><p>
`

func TestParseExport(t *testing.T) {
	parsed, err := ParseExport(strings.NewReader(sampleExport))
	assert.NoError(t, err)

	assert.Equal(t, []ParsedBookmark{
		{URL: "http://example.com/go", Title: "The Go Programming Language", Tags: []string{"code", "golang"}},
		{URL: "http://example.com/zoo", Title: "Zoo news", Tags: []string{"animals"}},
		{URL: "http://example.com/untagged", Title: "No tags here"},
	}, parsed)
}

func TestParseExportEmptyDocument(t *testing.T) {
	parsed, err := ParseExport(strings.NewReader("<html><body>nothing here</body></html>"))
	assert.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestShortHashStable(t *testing.T) {
	a := ShortHash("http://example.com/go")
	b := ShortHash("http://example.com/go")
	c := ShortHash("http://example.com/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, hashIDLength)
}

func writeImportFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alice.bookmarks.html")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImporterRun(t *testing.T) {
	gdb := testutil.NewDB(t)
	logger := zap.NewNop().Sugar()
	mgr := NewManager(gdb, logger)
	imp := NewImporter(gdb, logger)

	job, err := mgr.Add("alice", writeImportFile(t, sampleExport))
	assert.NoError(t, err)

	assert.NoError(t, imp.Run(context.Background(), job))

	bmarks := make([]db.Bookmark, 0)
	assert.NoError(t, gdb.Preload("Tags").Preload("Hashed").Where("username = ?", "alice").Order("id").Find(&bmarks).Error)
	if assert.Len(t, bmarks, 3) {
		assert.Equal(t, "The Go Programming Language", bmarks[0].Description)
		assert.Equal(t, "http://example.com/go", bmarks[0].Hashed.URL)
		assert.Len(t, bmarks[0].Tags, 2)
		assert.Empty(t, bmarks[2].Tags)
	}

	// re-running is idempotent, nothing gets duplicated
	assert.NoError(t, imp.Run(context.Background(), job))
	var n int64
	assert.NoError(t, gdb.Model(&db.Bookmark{}).Where("username = ?", "alice").Count(&n).Error)
	assert.EqualValues(t, 3, n)
}

func TestRunnerProcess(t *testing.T) {
	gdb := testutil.NewDB(t)
	logger := zap.NewNop().Sugar()
	mgr := NewManager(gdb, logger)
	r := &Runner{
		jobs:     make(chan uint64, 1),
		done:     make(chan struct{}),
		mgr:      mgr,
		importer: NewImporter(gdb, logger),
		logger:   logger,
	}

	t.Run("success marks done", func(t *testing.T) {
		job, err := mgr.Add("alice", writeImportFile(t, sampleExport))
		assert.NoError(t, err)

		r.process(job.ID)

		got, err := mgr.Get(job.ID)
		assert.NoError(t, err)
		assert.Equal(t, StatusDone, got.Status)
		assert.NotNil(t, got.Completed)
	})

	t.Run("missing file marks error", func(t *testing.T) {
		job, err := mgr.Add("bob", filepath.Join(t.TempDir(), "gone.html"))
		assert.NoError(t, err)

		r.process(job.ID)

		got, err := mgr.Get(job.ID)
		assert.NoError(t, err)
		assert.Equal(t, StatusError, got.Status)
		assert.Contains(t, got.Error, "open import file")
	})

	t.Run("non-NEW jobs are skipped", func(t *testing.T) {
		job, err := mgr.Add("carol", writeImportFile(t, sampleExport))
		assert.NoError(t, err)
		assert.NoError(t, mgr.MarkDone(job.ID))

		r.process(job.ID)

		got, err := mgr.Get(job.ID)
		assert.NoError(t, err)
		assert.Equal(t, StatusDone, got.Status)
	})
}
