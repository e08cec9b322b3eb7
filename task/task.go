package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrToolNotFound      = errors.New("ffmpeg not found")
	ErrNoInputs          = errors.New("no input videos")
	ErrNoOutputDirectory = errors.New("no output directory")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrNoRunningJob      = errors.New("no running job")
	ErrCancelled         = errors.New("cancelled")
	ErrVideoNotFound     = errors.New("video not found")
	ErrInvalidMove       = errors.New("invalid move")
)

// InputVideo is one entry of the ordered input list.
type InputVideo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
}

// Tools holds the resolved executables for a job.
type Tools struct {
	FFmpeg  string `json:"ffmpeg"`
	FFprobe string `json:"ffprobe"`
}

// Plan is the work plan captured when a job starts.
type Plan struct {
	Videos         []InputVideo `json:"videos"`
	OutputDir      string       `json:"outputDir"`
	Prefix         string       `json:"prefix"`
	SegmentSeconds float64      `json:"segmentSeconds"`
	OutputExt      string       `json:"outputExt"`
}

// Paths returns the input paths in list order.
func (p Plan) Paths() []string {
	paths := make([]string, len(p.Videos))
	for i, v := range p.Videos {
		paths[i] = v.Path
	}
	return paths
}

// OutputPattern is the segment muxer filename template.
func (p Plan) OutputPattern() string {
	return filepath.Join(p.OutputDir, fmt.Sprintf("%s_%%03d.%s", p.Prefix, p.OutputExt))
}

// Validate reports the first pre-start condition the plan violates.
func (p Plan) Validate() error {
	if len(p.Videos) == 0 {
		return ErrNoInputs
	}
	if strings.TrimSpace(p.OutputDir) == "" {
		return ErrNoOutputDirectory
	}
	if p.SegmentSeconds <= 0 {
		return fmt.Errorf("segment length must be positive, got %v", p.SegmentSeconds)
	}
	return nil
}

// Job is the single long-running concat-and-split run.
type Job struct {
	ID            string    `json:"id"`
	Plan          Plan      `json:"plan"`
	Tools         Tools     `json:"tools"`
	ManifestPath  string    `json:"-"`
	TotalDuration float64   `json:"totalDuration"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
	CompletedAt   time.Time `json:"completedAt,omitempty"`
	FFMpegOutput  string    `json:"ffmpegOutput,omitempty"` // tail of ffmpeg stderr
	cancelFunc    context.CancelFunc
	cancelled     bool
}

// Alert is a pre-start validation failure meant for a blocking dialog.
// It never changes the processing state.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (a *Alert) Error() string {
	return fmt.Sprintf("%s: %s", a.Title, a.Message)
}

func (a *Alert) Unwrap() error {
	return a.Err
}

func toolNotFoundAlert(err error) *Alert {
	return &Alert{
		Title:   "FFmpeg Not Found",
		Message: "This app requires FFmpeg to function.\n\nPlease install it, for example with 'brew install ffmpeg' or your system package manager.",
		Err:     err,
	}
}

func noInputsAlert() *Alert {
	return &Alert{
		Title:   "Video Files Missing",
		Message: "Please add video files first.",
		Err:     ErrNoInputs,
	}
}

func noOutputDirAlert() *Alert {
	return &Alert{
		Title:   "Output Directory Required",
		Message: "Please select an output directory.",
		Err:     ErrNoOutputDirectory,
	}
}

// JobError reports an ffmpeg run that exited with a non-zero status.
type JobError struct {
	ExitCode int
	Stderr   string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
}

// ProbeError reports that the probing tool could not be run for a file.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
