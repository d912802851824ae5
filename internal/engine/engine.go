// Package engine is the boundary to the external conversion engine. The
// engine owns source-format decoding, device metadata extraction, and the
// output file layout; this package only describes jobs and runs them.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

// SourceConfig points the engine at one input source.
type SourceConfig struct {
	FilePath   string `json:"file_path,omitempty"`
	FolderPath string `json:"folder_path,omitempty"`
}

// Path returns whichever of FilePath or FolderPath is set.
func (s SourceConfig) Path() string {
	if s.FolderPath != "" {
		return s.FolderPath
	}
	return s.FilePath
}

// SourceOptions are per-source conversion options.
type SourceOptions struct {
	StubTest bool `json:"stub_test"`
}

// Job is everything the engine needs to convert one session.
type Job struct {
	SessionID  string                              `json:"session_id"`
	Sources    map[models.SourceKind]SourceConfig  `json:"source_data"`
	Options    map[models.SourceKind]SourceOptions `json:"conversion_options,omitempty"`
	Metadata   *metadata.Record                    `json:"metadata,omitempty"`
	OutputPath string                              `json:"nwbfile_path"`
}

// Kinds returns the job's source kinds in sorted order.
func (j Job) Kinds() []models.SourceKind {
	kinds := make([]models.SourceKind, 0, len(j.Sources))
	for k := range j.Sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(a, b int) bool { return kinds[a] < kinds[b] })
	return kinds
}

// NewJob builds a job from a descriptor. Sources listed in omit are left
// out; every remaining source gets the stub option.
func NewJob(d models.SessionDescriptor, stub bool, omit ...models.SourceKind) Job {
	skip := make(map[models.SourceKind]bool, len(omit))
	for _, k := range omit {
		skip[k] = true
	}

	job := Job{
		SessionID:  d.ID,
		Sources:    make(map[models.SourceKind]SourceConfig, len(d.Inputs)),
		Options:    make(map[models.SourceKind]SourceOptions, len(d.Inputs)),
		OutputPath: d.OutputPath,
	}
	for kind, loc := range d.Inputs {
		if skip[kind] {
			continue
		}
		if loc.IsDir {
			job.Sources[kind] = SourceConfig{FolderPath: loc.Path}
		} else {
			job.Sources[kind] = SourceConfig{FilePath: loc.Path}
		}
		job.Options[kind] = SourceOptions{StubTest: stub}
	}
	return job
}

// Engine converts sessions. Implementations may be slow and may fail; they
// report failure synchronously through the returned error.
type Engine interface {
	// Metadata returns the engine's default metadata for the job's sources.
	Metadata(ctx context.Context, job Job) (*metadata.Record, error)
	// Convert writes the output artifact at job.OutputPath.
	Convert(ctx context.Context, job Job) error
}

// SourceInspector derives metadata from a source's header, such as the
// probe identity recorded next to a raw recording.
type SourceInspector interface {
	Inspect(ctx context.Context, kind models.SourceKind, src SourceConfig) (*metadata.Record, error)
}

// Failure is an error reported by the engine.
type Failure struct {
	Op     string // metadata, inspect, or convert
	Detail string // engine-provided detail, e.g. the tail of its stderr
	Err    error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("engine %s failed", f.Op)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }
