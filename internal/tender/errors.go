// Package tender holds the domain types shared by the ingestion pipeline: sources, fetch
// results, discovered links, notice drafts and the collaborator interfaces the pipeline is
// wired with.
package tender

import "errors"

var (
	// ErrNoSources is reported when the registry yields no enabled source.
	ErrNoSources = errors.New("no active sources found to monitor")
	// ErrAllListingsFailed is reported when every listing fetch failed.
	ErrAllListingsFailed = errors.New("all listing fetches failed")
)

// ErrRunNotFound is returned by run readers when no run has been recorded.
var ErrRunNotFound = errors.New("run not found")
