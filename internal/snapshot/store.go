// Package snapshot keeps the raw payloads fetched during a run for later audit.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/tender-ingest/internal/hash/sha256"
	"github.com/JakeFAU/tender-ingest/internal/tender"
	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Store writes snapshots to a BlobStore under
// {prefix}/{runID}/{source-slug}/{sha256(url)[:16]}.{ext}.
type Store struct {
	blobs  tender.BlobStore
	prefix string
	hasher *sha256.Hasher
}

// New builds a Store over blobs.
func New(blobs tender.BlobStore, prefix string) *Store {
	return &Store{blobs: blobs, prefix: strings.Trim(prefix, "/"), hasher: sha256.New()}
}

// StoreSnapshot writes payload and returns the blob URI.
func (s *Store) StoreSnapshot(ctx context.Context, payload []byte, sourceName, url, runID, contentType string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("snapshot %s: run id is required", url)
	}
	key := s.Key(runID, sourceName, url, Extension(contentType, payload))
	uri, err := s.blobs.PutObject(ctx, key, contentType, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", url, err)
	}
	return uri, nil
}

// Key returns the object path for one snapshot.
func (s *Store) Key(runID, sourceName, url, ext string) string {
	return path.Join(s.prefix, runID, Slug(sourceName), s.hasher.Short(url, 16)+"."+ext)
}

// Slug folds a source name into a path segment.
func Slug(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(textnorm.Fold(name), "-"), "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// Extension picks pdf, html or txt from the content type, sniffing PDFs by magic bytes.
func Extension(contentType string, payload []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf") || bytes.HasPrefix(payload, []byte("%PDF-")):
		return "pdf"
	case strings.Contains(ct, "html"):
		return "html"
	default:
		return "txt"
	}
}
