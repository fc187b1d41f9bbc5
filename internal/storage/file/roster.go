// Package file reads the harvest roster from a YAML document on disk.
//
// The document lists profiles in harvest order:
//
//	profiles:
//	  - identity_key: ada
//	    source_url: https://scholar.example.org/citations?user=ada
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

type rosterDocument struct {
	Profiles []harvest.ProfileTarget `yaml:"profiles"`
}

// RosterProvider re-reads its file on every call so roster edits apply to the next pass.
type RosterProvider struct {
	path string
}

// NewRosterProvider returns a provider for the YAML file at path.
func NewRosterProvider(path string) (*RosterProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("roster.path is required")
	}
	return &RosterProvider{path: path}, nil
}

// ListTargets parses the roster file.
func (p *RosterProvider) ListTargets(ctx context.Context) ([]harvest.ProfileTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", p.path, err)
	}
	var doc rosterDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", p.path, err)
	}
	for i := range doc.Profiles {
		doc.Profiles[i].IdentityKey = strings.TrimSpace(doc.Profiles[i].IdentityKey)
		doc.Profiles[i].SourceURL = strings.TrimSpace(doc.Profiles[i].SourceURL)
		if doc.Profiles[i].IdentityKey == "" {
			return nil, fmt.Errorf("roster %s: profile %d has no identity_key", p.path, i)
		}
	}
	return doc.Profiles, nil
}
