package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"vidsplit/config"
	"vidsplit/task"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// stderrTailLines is how much ffmpeg output a JobError keeps.
const stderrTailLines = 20

type Runner struct {
	cfg       *config.Config
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	var extra []string
	if strings.TrimSpace(cfg.FFExtraArgs) != "" {
		args, err := SplitCommand(cfg.FFExtraArgs)
		if err != nil {
			return nil, err
		}
		if err := SanitizeExtraArgs(args); err != nil {
			return nil, fmt.Errorf("invalid FF_EXTRA_ARGS: %w", err)
		}
		extra = args
	}
	return &Runner{
		cfg:       cfg,
		extraArgs: extra,
	}, nil
}

// BuildArgs returns the ffmpeg arguments that concatenate the manifest
// entries with stream copy and cut the result into fixed-length segments.
func BuildArgs(j *task.Job, extra []string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-f", "concat",
		"-safe", "0",
		"-i", j.ManifestPath,
		"-c", "copy",
		"-map", "0",
	}
	args = append(args, extra...)
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(j.Plan.SegmentSeconds, 'f', -1, 64),
		"-reset_timestamps", "1",
		j.Plan.OutputPattern(),
	)
	return args
}

// Run implements task.FFmpegRunner. stderr is consumed line by line while
// ffmpeg runs; each progress line is turned into a fraction of
// j.TotalDuration and passed to onProgress.
func (r *Runner) Run(ctx context.Context, j *task.Job, onProgress func(fraction float64)) error {
	if err := r.checkResources(j.Plan.OutputDir); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	args := BuildArgs(j, r.extraArgs)
	cmd := exec.CommandContext(ctx, j.Tools.FFmpeg, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach to ffmpeg stderr: %w", err)
	}

	log.Printf("Executing for job %s: %s", j.ID, strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch ffmpeg: %w", err)
	}

	tail := streamProgress(stderr, j.TotalDuration, onProgress)
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &task.JobError{ExitCode: exitErr.ExitCode(), Stderr: tail}
		}
		return fmt.Errorf("ffmpeg execution failed: %w", waitErr)
	}
	return nil
}

// streamProgress reads r until EOF, reporting progress per line, and
// returns the last lines read.
func streamProgress(r io.Reader, total float64, onProgress func(float64)) string {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(ScanProgressLines)

	var tail []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
		if fraction, ok := LineProgress(line, total); ok && onProgress != nil {
			onProgress(fraction)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Warning: error reading ffmpeg output: %v", err)
		// Keep draining so ffmpeg never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return strings.Join(tail, "\n")
}

// checkResources verifies that the system has enough free resources to start a job.
// A zero threshold disables its check.
func (r *Runner) checkResources(outputDir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 && outputDir != "" {
		d, err := disk.Usage(outputDir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", outputDir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
