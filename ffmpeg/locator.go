package ffmpeg

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vidsplit/config"
	"vidsplit/task"
)

// ErrProbeDerivation is returned in derive mode when the ffmpeg path does
// not contain the ffmpeg name, so no ffprobe path can be derived from it.
var ErrProbeDerivation = errors.New("cannot derive ffprobe path from ffmpeg path")

// Locator finds ffmpeg and ffprobe in a fixed, ordered list of install
// directories, optionally falling back to $PATH.
type Locator struct {
	cfg      *config.Config
	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

func NewLocator(cfg *config.Config) *Locator {
	return &Locator{
		cfg:      cfg,
		stat:     os.Stat,
		lookPath: exec.LookPath,
	}
}

// Locate implements task.ToolLocator.
func (l *Locator) Locate() (task.Tools, error) {
	ffmpegPath, ok := l.find(l.cfg.FFBin)
	if !ok {
		return task.Tools{}, fmt.Errorf("%w: %s not in %s", task.ErrToolNotFound, l.cfg.FFBin, strings.Join(l.cfg.FFSearchPaths, ", "))
	}

	var probePath string
	switch l.cfg.ProbeDiscovery {
	case config.ProbeDiscoveryDerive:
		if !strings.Contains(ffmpegPath, l.cfg.FFBin) {
			return task.Tools{}, fmt.Errorf("%w: %s", ErrProbeDerivation, ffmpegPath)
		}
		probePath = strings.ReplaceAll(ffmpegPath, l.cfg.FFBin, l.cfg.FFProbeBin)
	default:
		p, ok := l.find(l.cfg.FFProbeBin)
		if !ok {
			return task.Tools{}, fmt.Errorf("%w: %s not in %s", task.ErrToolNotFound, l.cfg.FFProbeBin, strings.Join(l.cfg.FFSearchPaths, ", "))
		}
		probePath = p
	}

	log.Printf("Using ffmpeg at %s, ffprobe at %s", ffmpegPath, probePath)
	return task.Tools{FFmpeg: ffmpegPath, FFprobe: probePath}, nil
}

// find returns the first regular file named name in the search paths.
func (l *Locator) find(name string) (string, bool) {
	for _, dir := range l.cfg.FFSearchPaths {
		candidate := filepath.Join(dir, name)
		if info, err := l.stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	if l.cfg.FFUsePath {
		if p, err := l.lookPath(name); err == nil {
			return p, true
		}
	}
	return "", false
}
