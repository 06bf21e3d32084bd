package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "snapshots")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		require.DirExists(t, dir)
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "run-1/dgmp/0123abcd.pdf", "application/pdf", bytes.NewReader([]byte("%PDF-1.4")))
	require.NoError(t, err)
	full := filepath.Join(dir, "run-1/dgmp/0123abcd.pdf")
	require.Equal(t, "file://"+full, uri)

	// #nosec G304 -- test reads from its own temp directory.
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(data))

	entries, err := os.ReadDir(filepath.Dir(full))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")

	_, err = store.PutObject(ctx, "", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}
