// Package gate decides, before any heavy work, whether a session should be
// converted. All checks are stat-only.
package gate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/joescharf/nwbbatch/internal/models"
)

// Verdict is the gate's decision for one session.
type Verdict int

const (
	Proceed Verdict = iota
	Skip
	Abandon
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Abandon:
		return "abandon"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is a verdict with a human-readable reason.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// ErrInputNotFound reports a required source location that does not exist.
var ErrInputNotFound = errors.New("input not found")

// Gate checks a session against the filesystem.
type Gate struct {
	basePath string
	stat     func(string) (os.FileInfo, error)
}

// New returns a Gate for sessions under basePath.
func New(basePath string) *Gate {
	return &Gate{basePath: basePath, stat: os.Stat}
}

// Decide returns Abandon when the base path is missing or unreadable, Skip
// when the output file already exists, and Proceed otherwise.
func (g *Gate) Decide(d models.SessionDescriptor) Decision {
	fi, err := g.stat(g.basePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Decision{Verdict: Abandon, Reason: fmt.Sprintf("the folder (%s) does not exist", g.basePath)}
	case err != nil:
		return Decision{Verdict: Abandon, Reason: fmt.Sprintf("cannot access the folder (%s): %v", g.basePath, err)}
	case !fi.IsDir():
		return Decision{Verdict: Abandon, Reason: fmt.Sprintf("the base path (%s) is not a folder", g.basePath)}
	}
	if fi, err := g.stat(d.OutputPath); err == nil && fi.Mode().IsRegular() {
		return Decision{Verdict: Skip, Reason: "output already exists: " + d.OutputPath}
	}
	return Decision{Verdict: Proceed}
}

// CheckInputs verifies that every required source exists. It returns the
// kinds of optional sources that are absent, sorted, and an error wrapping
// ErrInputNotFound for the first missing required source.
func (g *Gate) CheckInputs(d models.SessionDescriptor) (missingOptional []models.SourceKind, err error) {
	kinds := make([]models.SourceKind, 0, len(d.Inputs))
	for k := range d.Inputs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, k := range kinds {
		loc := d.Inputs[k]
		if g.present(loc) {
			continue
		}
		if loc.Optional {
			missingOptional = append(missingOptional, k)
			continue
		}
		return missingOptional, fmt.Errorf("%w: %s (%s)", ErrInputNotFound, k, loc.Path)
	}
	return missingOptional, nil
}

func (g *Gate) present(loc models.InputLocation) bool {
	fi, err := g.stat(loc.Path)
	if err != nil {
		return false
	}
	return fi.IsDir() == loc.IsDir
}
