package cmd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nwbbatch/internal/config"
	"github.com/joescharf/nwbbatch/internal/engine"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
	"github.com/joescharf/nwbbatch/internal/store"
)

// stubEngine writes an output file per job and fails sessions listed in fail.
type stubEngine struct {
	mu   sync.Mutex
	fail map[string]bool
	jobs []engine.Job
}

func (e *stubEngine) Metadata(context.Context, engine.Job) (*metadata.Record, error) {
	return &metadata.Record{Session: metadata.Session{Institution: metadata.String("Princeton")}}, nil
}

func (e *stubEngine) Convert(_ context.Context, job engine.Job) error {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	failed := e.fail[job.SessionID]
	e.mu.Unlock()
	if failed {
		return &engine.Failure{Op: "convert", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(job.OutputPath, []byte("nwb"), 0o644)
}

func (e *stubEngine) Inspect(context.Context, models.SourceKind, engine.SourceConfig) (*metadata.Record, error) {
	return &metadata.Record{Devices: []metadata.Device{{Name: "Neuropixels 1.0"}}}, nil
}

func batchConfig(t *testing.T, names ...string) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		BasePath:     base,
		OutputSuffix: ".nwb",
		StateDir:     t.TempDir(),
		Concurrency:  2,
		Sessions: config.SessionsConfig{
			PrimaryKind:  string(models.SourceBehavior),
			PrimaryIsDir: true,
		},
		Engine: config.EngineConfig{Command: "fake-converter"},
	}
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, n), 0o755))
		cfg.Sessions.Primary = append(cfg.Sessions.Primary, n)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestHistory(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecuteBatch_RecordsHistory(t *testing.T) {
	testEnv(t)
	cfg := batchConfig(t, "ses-a", "ses-b", "ses-c")
	eng := &stubEngine{fail: map[string]bool{"ses-b": true}}
	hist := newTestHistory(t)

	report, err := executeBatch(context.Background(), cfg, eng, eng, hist, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, models.StatusSucceeded, report.Outcomes[0].Status)
	assert.Equal(t, models.StatusFailed, report.Outcomes[1].Status)
	assert.Equal(t, models.StatusSucceeded, report.Outcomes[2].Status)
	assert.False(t, report.OK())
	require.NotEmpty(t, report.RunID)

	run, err := hist.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, models.Counts{Succeeded: 2, Failed: 1}, run.Counts)

	outcomes, err := hist.ListOutcomes(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "ses-b", outcomes[1].SessionID)
	assert.Equal(t, models.StatusFailed, outcomes[1].Status)

	// A second run converts only the failed session.
	eng.fail = nil
	eng.jobs = nil
	report, err = executeBatch(context.Background(), cfg, eng, eng, hist, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, models.Counts{Skipped: 2, Succeeded: 1}, report.Counts())
	require.Len(t, eng.jobs, 1)
	assert.Equal(t, "ses-b", eng.jobs[0].SessionID)
}

func TestExecuteBatch_WithoutHistory(t *testing.T) {
	testEnv(t)
	cfg := batchConfig(t, "ses-a")
	eng := &stubEngine{}

	report, err := executeBatch(context.Background(), cfg, eng, eng, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.NotEmpty(t, report.RunID)
}

func TestExecuteBatch_InspectorOnlyWhenConfigured(t *testing.T) {
	testEnv(t)
	cfg := batchConfig(t, "ses-a")
	eng := &stubEngine{}

	_, err := executeBatch(context.Background(), cfg, eng, eng, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.Len(t, eng.jobs, 1)
	assert.Empty(t, eng.jobs[0].Metadata.Devices)
	assert.Equal(t, "Princeton", metadata.Value(eng.jobs[0].Metadata.Session.Institution))

	require.NoError(t, os.Remove(filepath.Join(cfg.BasePath, "ses-a.nwb")))
	cfg.Metadata.Inspect = string(models.SourceBehavior)
	eng.jobs = nil

	_, err = executeBatch(context.Background(), cfg, eng, eng, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.Len(t, eng.jobs, 1)
	require.Len(t, eng.jobs[0].Metadata.Devices, 1)
	assert.Equal(t, "Neuropixels 1.0", eng.jobs[0].Metadata.Devices[0].Name)
}

func TestExecuteBatch_MissingBasePath(t *testing.T) {
	testEnv(t)
	cfg := batchConfig(t, "ses-a", "ses-b")
	cfg.BasePath = filepath.Join(cfg.BasePath, "unmounted")
	eng := &stubEngine{}

	report, err := executeBatch(context.Background(), cfg, eng, eng, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Abandoned: 2}, report.Counts())
	assert.Empty(t, eng.jobs)
}

func TestApplyRunFlags(t *testing.T) {
	cfg := &config.Config{Concurrency: 1, Exclude: []string{"a"}}

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.IntVarP(&runConcurrency, "concurrency", "j", 1, "")
	flags.BoolVar(&runStub, "stub", false, "")
	flags.DurationVar(&runTimeout, "timeout", 0, "")
	flags.StringSliceVar(&runExclude, "exclude", nil, "")
	t.Cleanup(func() {
		runConcurrency, runStub, runTimeout, runExclude = 1, false, 0, nil
	})
	require.NoError(t, flags.Parse([]string{"-j", "4", "--exclude", "b,c", "--timeout", "90s"}))

	applyRunFlags(flags, cfg)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.Stub)
	assert.Equal(t, "1m30s", cfg.TaskTimeout.String())
	assert.Equal(t, config.List{"a", "b", "c"}, cfg.Exclude)
}

func TestPrintReport(t *testing.T) {
	testEnv(t)
	out := ui.Out.(*bytes.Buffer)
	errOut := ui.ErrOut.(*bytes.Buffer)

	printReport(&models.Report{Outcomes: []models.Outcome{
		{SessionID: "ses-a", Status: models.StatusSucceeded},
		{SessionID: "ses-b", Status: models.StatusFailed, Reason: "engine convert failed"},
	}})

	assert.Contains(t, out.String(), "ses-a")
	assert.Contains(t, out.String(), "engine convert failed")
	assert.Contains(t, errOut.String(), "Batch finished")
}
