package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripperFunc) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "snapshots"})
	require.Error(t, err)

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)
}

func TestPutObjectSniffsContentType(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		path   string
		upload []byte
	)
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		upload = append(upload, body...)
		mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"bucket":"snapshots","name":"run-1/dgmp/abc.pdf"}`)),
			Header:     http.Header{"Content-Type": {"application/json"}},
			Request:    r,
		}, nil
	})
	store, err := New(client, Config{Bucket: "snapshots"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/dgmp/abc.pdf", "", bytes.NewReader([]byte("%PDF-1.4 quotidien")))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/run-1/dgmp/abc.pdf", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/b/snapshots/o")
	require.Contains(t, string(upload), "%PDF-1.4 quotidien")
	require.Contains(t, string(upload), "application/pdf")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	store, err := New(client, Config{Bucket: "snapshots"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader("<html>"))
	require.Error(t, err)
}
