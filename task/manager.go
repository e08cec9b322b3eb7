package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidsplit/config"

	"github.com/lithammer/shortuuid/v4"
)

// ToolLocator resolves the ffmpeg and ffprobe executables.
type ToolLocator interface {
	Locate() (Tools, error)
}

// DurationProber sums the durations of the given files, in order.
type DurationProber interface {
	TotalDuration(ctx context.Context, ffprobe string, files []string) (float64, error)
}

// ManifestBuilder writes the concat list for the given files.
type ManifestBuilder interface {
	Build(files []string) (string, error)
}

// FFmpegRunner runs the concat-and-split job, reporting progress fractions.
type FFmpegRunner interface {
	Run(ctx context.Context, j *Job, onProgress func(fraction float64)) error
}

// Toolchain groups the collaborators a Manager drives.
type Toolchain struct {
	Locator   ToolLocator
	Prober    DurationProber
	Manifests ManifestBuilder
	Runner    FFmpegRunner
}

const (
	descProbing = "Calculating total duration..."
	descDone    = "Done!"
)

// Manager owns the input list, output settings and the single active job.
type Manager struct {
	cfg      *config.Config
	tools    Toolchain
	playlist *Playlist
	state    *StateHolder
	jobQueue chan *Job

	mu        sync.Mutex
	outputDir string
	prefix    string
	current   *Job
	alert     *Alert
}

func NewManager(cfg *config.Config, tools Toolchain) (*Manager, error) {
	if tools.Locator == nil || tools.Prober == nil || tools.Manifests == nil || tools.Runner == nil {
		return nil, fmt.Errorf("incomplete toolchain")
	}
	m := &Manager{
		cfg:       cfg,
		tools:     tools,
		playlist:  NewPlaylist(cfg.VideoExts),
		state:     NewStateHolder(),
		jobQueue:  make(chan *Job, 1),
		outputDir: cfg.OutputDir,
		prefix:    cfg.FilenamePrefix,
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	log.Println("Job manager started.")
	go m.workerLoop(ctx)
}

// workerLoop runs submitted jobs one at a time
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case j := <-m.jobQueue:
			m.processJob(ctx, j)
		}
	}
}

// Videos returns the input list in order.
func (m *Manager) Videos() []InputVideo {
	return m.playlist.List()
}

// AddFiles appends video files, ignoring duplicates and non-video paths.
func (m *Manager) AddFiles(paths []string) []InputVideo {
	added := m.playlist.Add(paths)
	if skipped := len(paths) - len(added); skipped > 0 {
		log.Printf("Added %d videos, skipped %d duplicate or unsupported paths.", len(added), skipped)
	}
	return added
}

func (m *Manager) RemoveVideo(id string) error {
	return m.playlist.Remove(id)
}

func (m *Manager) ClearVideos() {
	m.playlist.Clear()
}

func (m *Manager) MoveVideos(from []int, to int) error {
	return m.playlist.Move(from, to)
}

// Output returns the output directory and filename prefix.
func (m *Manager) Output() (dir, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputDir, m.prefix
}

// SetOutputDirectory selects an existing directory for segment files.
func (m *Manager) SetOutputDirectory(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrNoOutputDirectory
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory: %s is not a directory", abs)
	}

	m.mu.Lock()
	m.outputDir = abs
	m.mu.Unlock()
	return nil
}

// SetPrefix sets the segment filename prefix.
func (m *Manager) SetPrefix(prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	if strings.ContainsAny(prefix, `/\`) {
		return fmt.Errorf("prefix must not contain path separators: %q", prefix)
	}

	m.mu.Lock()
	m.prefix = prefix
	m.mu.Unlock()
	return nil
}

// State returns the latest processing state snapshot.
func (m *Manager) State() Snapshot {
	return m.state.Current()
}

// Subscribe streams processing state snapshots.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	return m.state.Subscribe()
}

// CurrentJob returns a copy of the most recent job.
func (m *Manager) CurrentJob() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Job{}, false
	}
	return *m.current, true
}

// TakeAlert returns the pending alert once.
func (m *Manager) TakeAlert() (*Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.alert
	m.alert = nil
	return a, a != nil
}

func (m *Manager) raise(a *Alert) *Alert {
	m.mu.Lock()
	m.alert = a
	m.mu.Unlock()
	log.Printf("Alert: %s", a.Title)
	return a
}

// Submit validates the work plan and queues a job. A segmentSeconds of
// zero uses the configured segment length. Validation failures are
// returned as *Alert and leave the processing state untouched.
func (m *Manager) Submit(segmentSeconds float64) (*Job, error) {
	tools, err := m.tools.Locator.Locate()
	if err != nil {
		return nil, m.raise(toolNotFoundAlert(err))
	}

	if segmentSeconds == 0 {
		segmentSeconds = m.cfg.SegmentTime.Seconds()
	}
	dir, prefix := m.Output()
	plan := Plan{
		Videos:         m.playlist.List(),
		OutputDir:      dir,
		Prefix:         prefix,
		SegmentSeconds: segmentSeconds,
		OutputExt:      m.cfg.OutputExt,
	}
	if err := plan.Validate(); err != nil {
		switch {
		case errors.Is(err, ErrNoInputs):
			return nil, m.raise(noInputsAlert())
		case errors.Is(err, ErrNoOutputDirectory):
			return nil, m.raise(noOutputDirAlert())
		}
		return nil, err
	}

	j := &Job{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Plan:      plan,
		Tools:     tools,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.Begin(j.ID, descProbing); err != nil {
		return nil, err
	}
	m.current = j
	m.jobQueue <- j
	log.Printf("Job %s submitted with %d inputs.", j.ID, len(plan.Videos))
	return j, nil
}

// Cancel stops the running job. The job ends in error("cancelled").
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.current
	if j == nil || m.state.Current().State.Phase != PhaseProcessing {
		return ErrNoRunningJob
	}
	j.cancelled = true
	if j.cancelFunc != nil {
		j.cancelFunc()
		log.Printf("Cancellation signal sent to running job %s.", j.ID)
	} else {
		log.Printf("Job %s marked as cancelled before start.", j.ID)
	}
	return nil
}

func (m *Manager) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.FFTimeout > 0 {
		return context.WithTimeout(parent, m.cfg.FFTimeout)
	}
	return context.WithCancel(parent)
}

// processJob handles the execution of a single job
func (m *Manager) processJob(parent context.Context, j *Job) {
	ctx, cancel := m.jobContext(parent)
	defer cancel()

	m.mu.Lock()
	if j.cancelled {
		m.mu.Unlock()
		m.finish(ctx, j, ErrCancelled)
		return
	}
	j.cancelFunc = cancel
	j.StartedAt = time.Now()
	m.mu.Unlock()

	log.Printf("Processing job %s", j.ID)
	m.finish(ctx, j, m.execute(ctx, j))
}

func (m *Manager) execute(ctx context.Context, j *Job) error {
	paths := j.Plan.Paths()

	total, err := m.tools.Prober.TotalDuration(ctx, j.Tools.FFprobe, paths)
	if err != nil {
		return fmt.Errorf("probe durations: %w", err)
	}
	m.mu.Lock()
	j.TotalDuration = total
	m.mu.Unlock()
	log.Printf("Job %s: total input duration %.2fs", j.ID, total)

	manifest, err := m.tools.Manifests.Build(paths)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	m.mu.Lock()
	j.ManifestPath = manifest
	m.mu.Unlock()
	defer func() {
		if err := os.Remove(manifest); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: could not remove manifest %s: %v", manifest, err)
		}
	}()

	if err := m.state.Describe(progressDescription(0)); err != nil {
		return err
	}
	return m.tools.Runner.Run(ctx, j, func(fraction float64) {
		_ = m.state.Progress(fraction, progressDescription(fraction))
	})
}

func (m *Manager) finish(ctx context.Context, j *Job, err error) {
	m.mu.Lock()
	cancelled := j.cancelled
	j.cancelFunc = nil
	j.CompletedAt = time.Now()
	m.mu.Unlock()

	var jobErr *JobError
	switch {
	case err == nil:
		log.Printf("Job %s completed successfully.", j.ID)
		_ = m.state.Complete(descDone)
		return
	case cancelled || errors.Is(err, ErrCancelled):
		err = ErrCancelled
		_ = m.state.Fail(ErrCancelled.Error(), 0)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("timed out after %s", m.cfg.FFTimeout)
		_ = m.state.Fail(err.Error(), 0)
	case errors.As(err, &jobErr):
		m.mu.Lock()
		j.FFMpegOutput = jobErr.Stderr
		m.mu.Unlock()
		_ = m.state.Fail(err.Error(), jobErr.ExitCode)
	default:
		_ = m.state.Fail(err.Error(), 0)
	}

	m.mu.Lock()
	j.Error = err.Error()
	m.mu.Unlock()
	log.Printf("Job %s failed: %v", j.ID, err)
}

func progressDescription(fraction float64) string {
	return fmt.Sprintf("Processing: %d%%", int(clampFraction(fraction)*100))
}
