// vidsplit/task/manager_test.go
package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidsplit/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLocator struct {
	err error
}

func (m *mockLocator) Locate() (Tools, error) {
	if m.err != nil {
		return Tools{}, m.err
	}
	return Tools{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"}, nil
}

type mockProber struct {
	total float64
	err   error
}

func (m *mockProber) TotalDuration(ctx context.Context, ffprobe string, files []string) (float64, error) {
	return m.total, m.err
}

type mockManifests struct {
	dir string
	err error
}

func (m *mockManifests) Build(files []string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	path := filepath.Join(m.dir, "concat_list.txt")
	return path, os.WriteFile(path, []byte("manifest"), 0o644)
}

// mockRunner is a mock implementation of the FFmpegRunner interface for testing.
type mockRunner struct {
	mu      sync.Mutex
	calls   int
	lastJob Job
	runFunc func(ctx context.Context, j *Job, onProgress func(float64)) error
}

func (m *mockRunner) Run(ctx context.Context, j *Job, onProgress func(float64)) error {
	m.mu.Lock()
	m.calls++
	m.lastJob = *j
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, j, onProgress)
	}
	return nil
}

func (m *mockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig() *config.Config {
	return &config.Config{
		SegmentTime:    10 * time.Minute,
		OutputExt:      "mp4",
		FilenamePrefix: "segment",
		VideoExts:      []string{"mp4", "mov"},
	}
}

type fixture struct {
	mgr       *Manager
	locator   *mockLocator
	prober    *mockProber
	manifests *mockManifests
	runner    *mockRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		locator:   &mockLocator{},
		prober:    &mockProber{total: 600},
		manifests: &mockManifests{dir: t.TempDir()},
		runner:    &mockRunner{},
	}
	mgr, err := NewManager(testConfig(), Toolchain{
		Locator:   f.locator,
		Prober:    f.prober,
		Manifests: f.manifests,
		Runner:    f.runner,
	})
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// ready adds inputs and an output directory so Submit can pass validation.
func (f *fixture) ready(t *testing.T) {
	t.Helper()
	f.mgr.AddFiles([]string{"/videos/a.mp4", "/videos/b.mp4", "/videos/c.mp4"})
	require.NoError(t, f.mgr.SetOutputDirectory(t.TempDir()))
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.mgr.Start(ctx)
}

func collectUntilTerminal(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	var out []Snapshot
	for {
		select {
		case s := <-ch:
			out = append(out, s)
			if s.State.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("no terminal state, got %+v", out)
			return nil
		}
	}
}

func TestNewManagerRequiresToolchain(t *testing.T) {
	_, err := NewManager(testConfig(), Toolchain{Locator: &mockLocator{}})
	assert.Error(t, err)
}

func TestManager_AddFiles(t *testing.T) {
	f := newFixture(t)

	f.mgr.AddFiles([]string{"/videos/a.mp4"})
	f.mgr.AddFiles([]string{"/videos/a.mp4", "/videos/readme.txt"})

	videos := f.mgr.Videos()
	require.Len(t, videos, 1)
	assert.Equal(t, "/videos/a.mp4", videos[0].Path)
}

func TestManager_Output(t *testing.T) {
	f := newFixture(t)

	dir, prefix := f.mgr.Output()
	assert.Empty(t, dir)
	assert.Equal(t, "segment", prefix)

	assert.ErrorIs(t, f.mgr.SetOutputDirectory(""), ErrNoOutputDirectory)
	assert.Error(t, f.mgr.SetOutputDirectory(filepath.Join(t.TempDir(), "missing")))

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, f.mgr.SetOutputDirectory(file))

	out := t.TempDir()
	require.NoError(t, f.mgr.SetOutputDirectory(out))
	require.NoError(t, f.mgr.SetPrefix("  trip "))
	assert.Error(t, f.mgr.SetPrefix(" "))
	assert.Error(t, f.mgr.SetPrefix("a/b"))

	dir, prefix = f.mgr.Output()
	assert.Equal(t, out, dir)
	assert.Equal(t, "trip", prefix)
}

func TestManager_SubmitValidation(t *testing.T) {
	t.Run("tool not found", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.locator.err = ErrToolNotFound

		_, err := f.mgr.Submit(0)
		var alert *Alert
		require.ErrorAs(t, err, &alert)
		assert.Equal(t, "FFmpeg Not Found", alert.Title)
		assert.ErrorIs(t, err, ErrToolNotFound)
		assert.Equal(t, PhaseIdle, f.mgr.State().State.Phase)

		pending, ok := f.mgr.TakeAlert()
		require.True(t, ok)
		assert.Equal(t, alert, pending)
		_, ok = f.mgr.TakeAlert()
		assert.False(t, ok)
	})

	t.Run("no inputs", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.SetOutputDirectory(t.TempDir()))

		_, err := f.mgr.Submit(0)
		assert.ErrorIs(t, err, ErrNoInputs)
		assert.Equal(t, PhaseIdle, f.mgr.State().State.Phase)
	})

	t.Run("no output directory", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.AddFiles([]string{"/videos/a.mp4"})

		_, err := f.mgr.Submit(0)
		var alert *Alert
		require.ErrorAs(t, err, &alert)
		assert.Equal(t, "Output Directory Required", alert.Title)
		assert.ErrorIs(t, err, ErrNoOutputDirectory)
		assert.Equal(t, PhaseIdle, f.mgr.State().State.Phase)
	})

	t.Run("negative segment length", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)

		_, err := f.mgr.Submit(-5)
		require.Error(t, err)
		var alert *Alert
		assert.False(t, errors.As(err, &alert))
	})
}

func TestManager_ProcessJob(t *testing.T) {
	t.Run("successful processing", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.runner.runFunc = func(ctx context.Context, j *Job, onProgress func(float64)) error {
			onProgress(0.5)
			onProgress(1.0)
			return nil
		}
		ch, unsubscribe := f.mgr.Subscribe()
		defer unsubscribe()
		f.start(t)

		j, err := f.mgr.Submit(0)
		require.NoError(t, err)
		assert.NotEmpty(t, j.ID)

		snaps := collectUntilTerminal(t, ch)
		var phases []Phase
		var fractions []float64
		for _, s := range snaps[1:] {
			phases = append(phases, s.State.Phase)
			fractions = append(fractions, s.State.Fraction)
		}
		assert.Equal(t, []Phase{PhaseProcessing, PhaseProcessing, PhaseProcessing, PhaseProcessing, PhaseCompleted}, phases)
		assert.Equal(t, []float64{0, 0, 0.5, 1, 1}, fractions)
		assert.Equal(t, "Calculating total duration...", snaps[1].Description)
		assert.Equal(t, "Processing: 50%", snaps[3].Description)
		assert.Equal(t, "Done!", snaps[len(snaps)-1].Description)

		ran := f.runner.lastJob
		assert.Equal(t, 600.0, ran.TotalDuration)
		assert.Equal(t, 600.0, ran.Plan.SegmentSeconds)
		assert.Equal(t, filepath.Join(f.manifests.dir, "concat_list.txt"), ran.ManifestPath)
		assert.Equal(t, []string{"/videos/a.mp4", "/videos/b.mp4", "/videos/c.mp4"}, ran.Plan.Paths())

		// The manifest does not outlive the job.
		_, err = os.Stat(ran.ManifestPath)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("non-zero exit after full progress is an error", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.runner.runFunc = func(ctx context.Context, j *Job, onProgress func(float64)) error {
			onProgress(1.0)
			return &JobError{ExitCode: 2, Stderr: "Conversion failed!"}
		}
		ch, unsubscribe := f.mgr.Subscribe()
		defer unsubscribe()
		f.start(t)

		_, err := f.mgr.Submit(0)
		require.NoError(t, err)

		snaps := collectUntilTerminal(t, ch)
		for _, s := range snaps {
			assert.NotEqual(t, PhaseCompleted, s.State.Phase)
		}
		final := snaps[len(snaps)-1].State
		assert.Equal(t, PhaseError, final.Phase)
		assert.Equal(t, 2, final.ExitCode)
		assert.Equal(t, "ffmpeg exited with code 2", final.Message)

		j, ok := f.mgr.CurrentJob()
		require.True(t, ok)
		assert.Equal(t, "Conversion failed!", j.FFMpegOutput)
		assert.Equal(t, "ffmpeg exited with code 2", j.Error)
	})

	t.Run("probe failure", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.prober.err = &ProbeError{Path: "/videos/a.mp4", Err: errors.New("exec: not found")}
		f.start(t)

		_, err := f.mgr.Submit(0)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseError
		}, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.mgr.State().State.Message, "probe durations")
		assert.Equal(t, 0, f.runner.Calls())
	})

	t.Run("manifest failure never launches ffmpeg", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.manifests.err = errors.New("disk full")
		f.start(t)

		_, err := f.mgr.Submit(0)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseError
		}, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.mgr.State().State.Message, "write manifest")
		assert.Equal(t, 0, f.runner.Calls())
	})

	t.Run("new job after completion", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.start(t)

		first, err := f.mgr.Submit(0)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseCompleted
		}, time.Second, 5*time.Millisecond)

		second, err := f.mgr.Submit(30)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		require.Eventually(t, func() bool {
			s := f.mgr.State()
			return s.JobID == second.ID && s.State.Phase == PhaseCompleted
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 30.0, f.runner.lastJob.Plan.SegmentSeconds)
	})
}

func TestManager_SingleActiveJob(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	release := make(chan struct{})
	f.runner.runFunc = func(ctx context.Context, j *Job, onProgress func(float64)) error {
		<-release
		return nil
	}
	f.start(t)

	_, err := f.mgr.Submit(0)
	require.NoError(t, err)

	_, err = f.mgr.Submit(0)
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)

	close(release)
	require.Eventually(t, func() bool {
		return f.mgr.State().State.Phase == PhaseCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Cancel(t *testing.T) {
	t.Run("cancel processing job", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		processingStarted := make(chan struct{})
		f.runner.runFunc = func(ctx context.Context, j *Job, onProgress func(float64)) error {
			close(processingStarted)
			<-ctx.Done() // Block until context is canceled
			return ctx.Err()
		}
		f.start(t)

		_, err := f.mgr.Submit(0)
		require.NoError(t, err)
		<-processingStarted

		require.NoError(t, f.mgr.Cancel())
		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseError
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, "cancelled", f.mgr.State().State.Message)
	})

	t.Run("cancel queued job", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)

		// Worker not started yet, so the job stays queued.
		_, err := f.mgr.Submit(0)
		require.NoError(t, err)
		require.NoError(t, f.mgr.Cancel())
		f.start(t)

		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseError
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, "cancelled", f.mgr.State().State.Message)
		assert.Equal(t, 0, f.runner.Calls())
	})

	t.Run("cannot cancel without a running job", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.mgr.Cancel(), ErrNoRunningJob)

		f.ready(t)
		f.start(t)
		_, err := f.mgr.Submit(0)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return f.mgr.State().State.Phase == PhaseCompleted
		}, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, f.mgr.Cancel(), ErrNoRunningJob)
	})
}

func TestManager_Timeout(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.FFTimeout = 20 * time.Millisecond
	f.ready(t)
	f.runner.runFunc = func(ctx context.Context, j *Job, onProgress func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f.start(t)

	_, err := f.mgr.Submit(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.mgr.State().State.Phase == PhaseError
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.mgr.State().State.Message, "timed out")
}
