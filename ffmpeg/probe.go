package ffmpeg

import (
	"context"
	"errors"
	"log"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"vidsplit/task"
)

// outputRunner runs a command and returns its standard output.
type outputRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execOutputRunner struct{}

func (execOutputRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Prober sums container durations reported by ffprobe.
type Prober struct {
	run outputRunner
}

func NewProber() *Prober {
	return &Prober{run: execOutputRunner{}}
}

// probeArgs asks for the bare format=duration value only.
func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// TotalDuration probes each file in order and returns the summed seconds.
// A file whose output does not parse contributes zero. Failing to launch
// ffprobe at all aborts the whole probe.
func (p *Prober) TotalDuration(ctx context.Context, ffprobe string, files []string) (float64, error) {
	var total float64
	for _, f := range files {
		out, err := p.run.Output(ctx, ffprobe, probeArgs(f)...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return 0, &task.ProbeError{Path: f, Err: err}
			}
			log.Printf("Warning: ffprobe exited with code %d for %s", exitErr.ExitCode(), f)
		}

		seconds, ok := parseDuration(out)
		if !ok {
			log.Printf("Warning: no duration for %s, counting it as 0s", f)
			continue
		}
		total += seconds
	}
	return total, nil
}

func parseDuration(out []byte) (float64, bool) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	return seconds, true
}
