package snapshot

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/storage/memory"
)

func TestStoreSnapshotKeyLayout(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	s := New(blobs, "/snapshots/")

	uri, err := s.StoreSnapshot(context.Background(), []byte("<html></html>"), "DGMP Quotidien", "https://dgmp.example/q", "run-1", "text/html; charset=utf-8")
	require.NoError(t, err)

	keys := blobs.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "snapshots/run-1/dgmp-quotidien/"))
	require.True(t, strings.HasSuffix(keys[0], ".html"))
	name := keys[0][strings.LastIndex(keys[0], "/")+1:]
	require.Len(t, name, len("0123456789abcdef.html"))
	require.Equal(t, "memory://"+keys[0], uri)

	again := s.Key("run-1", "DGMP Quotidien", "https://dgmp.example/q", "html")
	require.Equal(t, keys[0], again, "keys are deterministic")
}

func TestStoreSnapshotRequiresRunID(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewBlobStore(), "").StoreSnapshot(context.Background(), nil, "s", "u", "", "")
	require.Error(t, err)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestStoreSnapshotWrapsBlobErrors(t *testing.T) {
	t.Parallel()

	_, err := New(failingBlobs{}, "p").StoreSnapshot(context.Background(), []byte("x"), "s", "https://x", "r", "")
	require.ErrorContains(t, err, "bucket unavailable")
}

func TestSlugAndExtension(t *testing.T) {
	t.Parallel()

	require.Equal(t, "marches-publics-burkina", Slug("  Marchés Publics (Burkina) "))
	require.Equal(t, "unknown", Slug("***"))

	require.Equal(t, "pdf", Extension("application/octet-stream", []byte("%PDF-1.7")))
	require.Equal(t, "pdf", Extension("application/pdf", nil))
	require.Equal(t, "html", Extension("text/html", nil))
	require.Equal(t, "txt", Extension("", []byte("plain")))
}
