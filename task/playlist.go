package task

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v4"
)

// Playlist is the user-ordered list of input videos. Paths are unique.
type Playlist struct {
	mu     sync.RWMutex
	videos []InputVideo
	exts   map[string]struct{}
}

// NewPlaylist creates an empty list accepting the given extensions.
// An empty extension set accepts every file.
func NewPlaylist(exts []string) *Playlist {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return &Playlist{exts: set}
}

func (p *Playlist) accepts(path string) bool {
	if len(p.exts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := p.exts[ext]
	return ok
}

// Add appends the given files in order, skipping non-video extensions and
// paths already present. It returns the entries actually added.
func (p *Playlist) Add(paths []string) []InputVideo {
	p.mu.Lock()
	defer p.mu.Unlock()

	var added []InputVideo
	for _, raw := range paths {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		abs, err := filepath.Abs(raw)
		if err != nil {
			continue
		}
		if !p.accepts(abs) || p.indexOf(abs) >= 0 {
			continue
		}
		v := InputVideo{
			ID:   shortuuid.New(),
			Path: abs,
			Name: filepath.Base(abs),
		}
		p.videos = append(p.videos, v)
		added = append(added, v)
	}
	return added
}

func (p *Playlist) indexOf(path string) int {
	for i, v := range p.videos {
		if v.Path == path {
			return i
		}
	}
	return -1
}

// Remove deletes one entry by id.
func (p *Playlist) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, v := range p.videos {
		if v.ID == id {
			p.videos = append(p.videos[:i], p.videos[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrVideoNotFound, id)
}

// Clear removes every entry.
func (p *Playlist) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videos = nil
}

// Move relocates the entries at the from offsets so they sit before the
// entry that was at offset to (to == Len appends). Moved entries keep their
// relative order, as do all others.
func (p *Playlist) Move(from []int, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.videos)
	if to < 0 || to > n {
		return fmt.Errorf("%w: destination %d out of range [0,%d]", ErrInvalidMove, to, n)
	}

	selected := make(map[int]bool, len(from))
	for _, i := range from {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidMove, i, n)
		}
		selected[i] = true
	}
	if len(selected) == 0 {
		return nil
	}

	moved := make([]InputVideo, 0, len(selected))
	rest := make([]InputVideo, 0, n-len(selected))
	insertAt := to
	for i, v := range p.videos {
		if selected[i] {
			moved = append(moved, v)
			if i < to {
				insertAt--
			}
			continue
		}
		rest = append(rest, v)
	}

	out := make([]InputVideo, 0, n)
	out = append(out, rest[:insertAt]...)
	out = append(out, moved...)
	out = append(out, rest[insertAt:]...)
	p.videos = out
	return nil
}

// List returns a copy of the entries in order.
func (p *Playlist) List() []InputVideo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]InputVideo(nil), p.videos...)
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.videos)
}
