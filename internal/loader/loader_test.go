package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/domain"
)

func writeFile(t *testing.T, root, rel, body string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_WalksSupportedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a-notes.txt", "Plain notes.\n")
	writeFile(t, root, "guides/restart.md", "# Restarting\n\nUse the *restart* command.\n")
	writeFile(t, root, "guides/image.png", "binary")
	writeFile(t, root, ".git/HEAD.md", "# hidden\n")
	writeFile(t, root, "node_modules/pkg/README.md", "# vendored\n")

	docs, err := New(root, "ops", zerolog.Nop()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "a-notes.txt", docs[0].ID)
	assert.Equal(t, "a-notes", docs[0].Title)
	assert.Equal(t, "Plain notes.\n", docs[0].Text)
	assert.Equal(t, "ops", docs[0].Owner)
	assert.False(t, docs[0].UpdatedAt.IsZero())

	assert.Equal(t, "guides/restart.md", docs[1].ID)
	assert.Equal(t, "Restarting", docs[1].Title)
	assert.Equal(t, "Restarting\n\nUse the restart command.", docs[1].Text)
	assert.Equal(t, filepath.Join(root, "guides", "restart.md"), docs[1].Source)
}

func TestLoad_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), "", zerolog.Nop()).Load(context.Background())
	assert.Error(t, err)
}

func TestLoad_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "# Doc\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(root, "", zerolog.Nop()).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	p := writeFile(t, outside, "faq.md", "Just text.\n")

	l := New(root, "", zerolog.Nop())
	doc, err := l.LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(p), doc.ID)
	assert.Equal(t, "faq", doc.Title)

	_, err = l.LoadFile(writeFile(t, root, "data.csv", "a,b"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = l.LoadFile(filepath.Join(root, "missing.txt"))
	assert.Error(t, err)
}
