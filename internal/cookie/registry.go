package cookie

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PrefixBase is the leading part of every cookie file name.
const PrefixBase = ".watchsync-cookie-"

// registry tracks the directories that receive cookie files.
type registry struct {
	mu     sync.RWMutex
	dirs   map[string]struct{}
	prefix string
}

func newRegistry(prefix string) *registry {
	return &registry{
		dirs:   make(map[string]struct{}),
		prefix: prefix,
	}
}

// defaultPrefix builds the process-unique prefix
// ".watchsync-cookie-<hostname>-<pid>-".
func defaultPrefix() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}
	host = strings.ReplaceAll(host, string(filepath.Separator), "_")
	return fmt.Sprintf("%s%s-%d-", PrefixBase, host, os.Getpid()), nil
}

func (r *registry) add(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[filepath.Clean(dir)] = struct{}{}
}

func (r *registry) remove(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirs, filepath.Clean(dir))
}

func (r *registry) set(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = map[string]struct{}{filepath.Clean(dir): {}}
}

// snapshot returns the sorted directory set and the prefix.
func (r *registry) snapshot() ([]string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dirs := make([]string, 0, len(r.dirs))
	for d := range r.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, r.prefix
}

func (r *registry) contains(dir string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dirs[dir]
	return ok
}

// AddDir puts dir into sync scope.
func (s *Sync) AddDir(dir string) {
	s.reg.add(dir)
}

// SetDir replaces the whole sync scope with dir.
func (s *Sync) SetDir(dir string) {
	s.reg.set(dir)
}

// RemoveDir takes dir out of sync scope.
//
// Cookies pending under dir will never be observed, so each one is counted
// as serviced and dropped from the pending map. Without this a barrier
// targeting dir would stall until its deadline.
func (s *Sync) RemoveDir(dir string) {
	dir = filepath.Clean(dir)
	s.reg.remove(dir)

	under := dir + string(filepath.Separator)
	var serviced []*Cookie

	s.mu.Lock()
	for path, c := range s.pending {
		if strings.HasPrefix(path, under) {
			serviced = append(serviced, c)
			delete(s.pending, path)
		}
	}
	s.mu.Unlock()

	for _, c := range serviced {
		c.observe()
	}
	s.observed.Add(uint64(len(serviced)))
}

// Dirs returns a snapshot of the directories in scope.
func (s *Sync) Dirs() []string {
	dirs, _ := s.reg.snapshot()
	return dirs
}

// Prefix returns the cookie file name prefix.
func (s *Sync) Prefix() string {
	return s.reg.prefix
}

// IsCookieDir reports whether path is one of the directories in scope.
func (s *Sync) IsCookieDir(path string) bool {
	return s.reg.contains(filepath.Clean(path))
}

// IsCookiePrefix reports whether path names a cookie file: its containing
// directory is in scope and its base name carries the prefix.
func (s *Sync) IsCookiePrefix(path string) bool {
	path = filepath.Clean(path)
	return strings.HasPrefix(filepath.Base(path), s.reg.prefix) &&
		s.reg.contains(filepath.Dir(path))
}
