package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "run/dgmp/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://run/dgmp/abc.html", uri)

	payload[0] = 'C'
	got, ct, ok := store.Get("run/dgmp/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, "text/html", ct)

	got[0] = 'X'
	again, _, _ := store.Get("run/dgmp/abc.html")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"run/dgmp/abc.html"}, store.Keys())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, _, ok := NewBlobStore().Get("missing")
	require.False(t, ok)
}
