// Package catalog resolves configured session identifiers into session
// descriptors. Resolution is pure: it performs no I/O and cannot fail.
package catalog

import (
	"path/filepath"

	"github.com/joescharf/nwbbatch/internal/models"
)

// Companion is a secondary source list, parallel to the primary list.
type Companion struct {
	Kind     models.SourceKind
	Suffix   string // appended to each identifier, e.g. ".imec0.ap.bin"
	IsDir    bool
	Optional bool
	IDs      []string
}

// Sources is the static session configuration for a batch.
type Sources struct {
	BasePath     string
	OutputSuffix string
	PrimaryKind  models.SourceKind
	PrimaryIsDir bool
	Primary      []string
	Companions   []Companion
	Exclude      []string
}

// Resolve returns one descriptor per primary identifier whose session name
// is not excluded, in configured order.
func Resolve(src Sources) []models.SessionDescriptor {
	excluded := make(map[string]bool, len(src.Exclude))
	for _, e := range src.Exclude {
		excluded[e] = true
	}

	kind := src.PrimaryKind
	if kind == "" {
		kind = models.SourceBehavior
	}

	var out []models.SessionDescriptor
	for i, primary := range src.Primary {
		primaryPath := filepath.Join(src.BasePath, primary)
		name := SessionName(primaryPath)
		if excluded[name] {
			continue
		}

		inputs := map[models.SourceKind]models.InputLocation{
			kind: {Path: primaryPath, IsDir: src.PrimaryIsDir},
		}
		for _, c := range src.Companions {
			if i >= len(c.IDs) || c.IDs[i] == "" {
				continue
			}
			inputs[c.Kind] = models.InputLocation{
				Path:     filepath.Join(src.BasePath, c.IDs[i]) + c.Suffix,
				IsDir:    c.IsDir,
				Optional: c.Optional,
			}
		}

		out = append(out, models.SessionDescriptor{
			ID:         name,
			Inputs:     inputs,
			OutputPath: OutputPath(src.BasePath, primary, src.OutputSuffix),
		})
	}
	return out
}

// OutputPath is the deterministic output location for a primary identifier.
func OutputPath(basePath, primary, suffix string) string {
	if suffix == "" {
		suffix = ".nwb"
	}
	return filepath.Join(basePath, primary) + suffix
}

// SessionName is the human-readable session name: the final path component
// of the primary input location. Exclusion matches against it.
func SessionName(primaryPath string) string {
	return filepath.Base(filepath.Clean(primaryPath))
}
