// Package registry loads the monitored source list from a YAML file.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// File is the on-disk registry document.
type File struct {
	Sources []tender.Source `yaml:"sources"`
}

// Load reads path and returns every source it declares, validated.
func Load(path string) ([]tender.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a registry document.
func Parse(data []byte) ([]tender.Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Sources))
	var errs []error
	for i := range f.Sources {
		src := &f.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		if src.ListingURL == "" {
			src.ListingURL = src.BaseURL
		}
		if err := validate(*src); err != nil {
			errs = append(errs, fmt.Errorf("source %d (%s): %w", i, src.Name, err))
			continue
		}
		if _, dup := seen[src.Name]; dup {
			errs = append(errs, fmt.Errorf("source %d: duplicate name %q", i, src.Name))
		}
		seen[src.Name] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Sources, nil
}

// Enabled returns the enabled sources, preserving registry order.
func Enabled(sources []tender.Source) []tender.Source {
	out := make([]tender.Source, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func validate(s tender.Source) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if !s.Strategy.Valid() {
		return fmt.Errorf("unknown parser %q", s.Strategy)
	}
	u, err := url.Parse(s.ListingURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("list_url %q must be an absolute http(s) URL", s.ListingURL)
	}
	return nil
}
