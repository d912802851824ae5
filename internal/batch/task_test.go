package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nwbbatch/internal/catalog"
	"github.com/joescharf/nwbbatch/internal/engine"
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

func TestTask_Succeeded(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{defaults: &metadata.Record{Subject: metadata.Subject{Species: metadata.String("unspecified")}}}

	task := NewTask(TaskConfig{
		Gate:     gate.New(src.BasePath),
		Composer: metadata.NewComposer(&metadata.Record{Subject: metadata.Subject{Species: metadata.String("Mus musculus")}}, nil),
		Engine:   eng,
		Stub:     true,
	})

	out := task.Execute(context.Background(), d)

	assert.Equal(t, models.StatusSucceeded, out.Status)
	assert.Empty(t, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, d.OutputPath, out.OutputPath)
	assert.False(t, out.StartedAt.IsZero())

	job, ok := eng.job(d.ID)
	require.True(t, ok)
	require.NotNil(t, job.Metadata)
	assert.Equal(t, "Mus musculus", metadata.Value(job.Metadata.Subject.Species))
	assert.True(t, job.Options[models.SourceRawRecording].StubTest)
	assert.Equal(t, d.Inputs[models.SourceBehavior].Path, job.Sources[models.SourceBehavior].FolderPath)

	_, err := os.Stat(d.OutputPath)
	assert.NoError(t, err)
}

func TestTask_SkipDoesNotTouchEngine(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	require.NoError(t, os.WriteFile(d.OutputPath, []byte("nwb"), 0o644))
	eng := &fakeEngine{}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusSkipped, out.Status)
	assert.Contains(t, out.Reason, "already exists")
	assert.ErrorIs(t, out.Err, ErrAlreadyConverted)
	assert.Equal(t, 0, eng.calls())
}

func TestTask_AbandonWhenBaseMissing(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	src.BasePath = filepath.Join(src.BasePath, "gone")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusAbandoned, out.Status)
	assert.Contains(t, out.Reason, "does not exist")
	assert.ErrorIs(t, out.Err, ErrAbandoned)
	assert.Equal(t, 0, eng.calls())
}

func TestTask_InputNotFound(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	require.NoError(t, os.Remove(d.Inputs[models.SourceRawRecording].Path))
	eng := &fakeEngine{}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, ErrInputNotFound.Error())
	assert.ErrorIs(t, out.Err, ErrInputNotFound)
	assert.Equal(t, 0, eng.calls())
}

func TestTask_OptionalSourceOmitted(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	src.Companions = append(src.Companions, catalog.Companion{
		Kind:     models.SourceSortedUnits,
		Optional: true,
		IDs:      []string{"spikeinterface/sorter1.pkl"},
	})
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusSucceeded, out.Status)
	job, ok := eng.job(d.ID)
	require.True(t, ok)
	assert.NotContains(t, job.Sources, models.SourceSortedUnits)
	assert.Contains(t, job.Sources, models.SourceRawRecording)
}

func TestTask_EngineFailureRemovesPartialOutput(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{fail: map[string]bool{d.ID: true}}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "corrupt behavior file")
	var failure *engine.Failure
	require.True(t, errors.As(out.Err, &failure))
	assert.Equal(t, "convert", failure.Op)
	_, err := os.Stat(d.OutputPath)
	assert.True(t, os.IsNotExist(err), "partial output should be removed")
}

func TestTask_MetadataFailure(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{metadataErr: &engine.Failure{Op: "metadata", Err: errors.New("exit status 2")}}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "engine metadata failed")
	assert.Equal(t, 0, eng.calls())
}

func TestTask_DerivedMetadata(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{defaults: &metadata.Record{Devices: []metadata.Device{{Name: "Neuropixels", Description: metadata.String("unknown")}}}}
	insp := &fakeInspector{rec: &metadata.Record{Devices: []metadata.Device{{Name: "Neuropixels", Description: metadata.String("probe 3B2")}}}}

	task := NewTask(TaskConfig{
		Gate:        gate.New(src.BasePath),
		Engine:      eng,
		Inspector:   insp,
		InspectKind: models.SourceRawRecording,
	})
	out := task.Execute(context.Background(), d)
	require.Equal(t, models.StatusSucceeded, out.Status)

	job, _ := eng.job(d.ID)
	require.Len(t, job.Metadata.Devices, 1)
	assert.Equal(t, "probe 3B2", metadata.Value(job.Metadata.Devices[0].Description))
}

func TestTask_InspectorFailure(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{}

	task := NewTask(TaskConfig{
		Gate:        gate.New(src.BasePath),
		Engine:      eng,
		Inspector:   &fakeInspector{err: errors.New("no .meta file")},
		InspectKind: models.SourceRawRecording,
	})
	out := task.Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "no .meta file")
	assert.Equal(t, 0, eng.calls())
}

func TestTask_Timeout(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	release := make(chan struct{})
	defer close(release)

	eng := &fakeEngine{convertFn: func(ctx context.Context, _ engine.Job) error {
		<-release
		return nil
	}}

	task := NewTask(TaskConfig{Gate: gate.New(src.BasePath), Engine: eng, Timeout: 20 * time.Millisecond})
	out := task.Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, ErrTimeout.Error())
	assert.ErrorIs(t, out.Err, ErrTimeout)
}

func TestTask_BatchCancelDoesNotInterruptEngine(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]

	var engineCtxErr error
	eng := &fakeEngine{convertFn: func(ctx context.Context, job engine.Job) error {
		engineCtxErr = ctx.Err()
		return os.WriteFile(job.OutputPath, []byte("nwb"), 0o644)
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestTask(src, eng).Execute(ctx, d)

	assert.Equal(t, models.StatusSucceeded, out.Status)
	assert.NoError(t, engineCtxErr)
}

func TestTask_RecoversPanic(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{convertFn: func(_ context.Context, job engine.Job) error {
		require.NoError(t, os.WriteFile(job.OutputPath, []byte("half"), 0o644))
		panic("nil probe table")
	}}

	out := newTestTask(src, eng).Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "panic: nil probe table")
	assert.NoFileExists(t, d.OutputPath)

	// The next run converts again instead of skipping a corrupt output.
	eng.convertFn = nil
	out = newTestTask(src, eng).Execute(context.Background(), d)
	assert.Equal(t, models.StatusSucceeded, out.Status)
}

func TestTask_RecoversPanicWithTimeout(t *testing.T) {
	src := sessionTree(t, "E75_20181105")
	d := catalog.Resolve(src)[0]
	eng := &fakeEngine{convertFn: func(_ context.Context, job engine.Job) error {
		require.NoError(t, os.WriteFile(job.OutputPath, []byte("half"), 0o644))
		panic("nil probe table")
	}}
	task := NewTask(TaskConfig{Gate: gate.New(src.BasePath), Engine: eng, Timeout: time.Minute})

	out := task.Execute(context.Background(), d)

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.NoFileExists(t, d.OutputPath)
}

func TestSourceList(t *testing.T) {
	job := engine.Job{Sources: map[models.SourceKind]engine.SourceConfig{
		models.SourceRawRecording: {FilePath: "/data/E75_g0_t0.imec0.ap.bin"},
		models.SourceBehavior:     {FolderPath: "/data/TowersTask/E75"},
	}}

	assert.Equal(t, []string{
		"behavior=/data/TowersTask/E75",
		"rawRecording=/data/E75_g0_t0.imec0.ap.bin",
	}, sourceList(job))
}
