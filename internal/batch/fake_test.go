package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/nwbbatch/internal/catalog"
	"github.com/joescharf/nwbbatch/internal/engine"
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

// fakeEngine writes a small output file for every job unless the job's
// session is listed in fail. It records every job it receives.
type fakeEngine struct {
	mu       sync.Mutex
	jobs     []engine.Job
	defaults *metadata.Record
	fail     map[string]bool

	metadataErr error
	convertFn   func(ctx context.Context, job engine.Job) error
}

func (f *fakeEngine) Metadata(_ context.Context, _ engine.Job) (*metadata.Record, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.defaults, nil
}

func (f *fakeEngine) Convert(ctx context.Context, job engine.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.convertFn != nil {
		return f.convertFn(ctx, job)
	}
	if f.fail[job.SessionID] {
		_ = os.WriteFile(job.OutputPath, []byte("partial"), 0o644)
		return &engine.Failure{Op: "convert", Detail: "corrupt behavior file", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(job.OutputPath, []byte("nwb"), 0o644)
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeEngine) job(sessionID string) (engine.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.SessionID == sessionID {
			return j, true
		}
	}
	return engine.Job{}, false
}

type fakeInspector struct {
	rec *metadata.Record
	err error
}

func (f *fakeInspector) Inspect(_ context.Context, _ models.SourceKind, _ engine.SourceConfig) (*metadata.Record, error) {
	return f.rec, f.err
}

// sessionTree creates a base directory holding a behavior folder and a raw
// recording file for each name, and returns the matching catalog sources.
func sessionTree(t *testing.T, names ...string) catalog.Sources {
	t.Helper()
	base := t.TempDir()

	src := catalog.Sources{
		BasePath:     base,
		OutputSuffix: "_local_stub.nwb",
		PrimaryKind:  models.SourceBehavior,
		PrimaryIsDir: true,
		Companions:   []catalog.Companion{{Kind: models.SourceRawRecording, Suffix: ".imec0.ap.bin"}},
	}
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, "TowersTask", n), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(base, "Neuropixels"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(base, "Neuropixels", n+"_g0_t0.imec0.ap.bin"), []byte("raw"), 0o644))
		src.Primary = append(src.Primary, filepath.Join("TowersTask", n))
		src.Companions[0].IDs = append(src.Companions[0].IDs, filepath.Join("Neuropixels", n+"_g0_t0"))
	}
	return src
}

func newTestTask(src catalog.Sources, eng engine.Engine) *Task {
	return NewTask(TaskConfig{
		Gate:   gate.New(src.BasePath),
		Engine: eng,
		Stub:   true,
	})
}
