// Package runbook loads operator-written markdown runbooks from a local
// directory and serves them to the agent as extra context for an alert.
// Files are named after the alert (ContainerDown.md) and cached with a TTL.
package runbook

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxRunbookBytes caps how much of a runbook is handed to the agent.
const maxRunbookBytes = 16 << 10

// defaultTTL is how long a loaded directory listing stays fresh.
const defaultTTL = 5 * time.Minute

// Store loads and caches runbooks from one directory.
type Store struct {
	dir string
	ttl time.Duration

	mu       sync.Mutex
	books    map[string]string // lowercase alert name -> content
	loadedAt time.Time
}

// NewStore creates a Store over dir. ttl <= 0 uses the default.
func NewStore(dir string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{dir: dir, ttl: ttl, books: make(map[string]string)}
}

// ForAlert returns the runbook content for an alert name, or "" when none
// exists.
func (s *Store) ForAlert(alertName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(false)
	return s.books[strings.ToLower(alertName)]
}

// List returns the alert names that have runbooks, sorted.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(false)
	names := make([]string, 0, len(s.books))
	for name := range s.books {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload forces a reread of the directory and returns the number of
// runbooks loaded.
func (s *Store) Reload() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(true); err != nil {
		return 0, err
	}
	return len(s.books), nil
}

func (s *Store) refreshLocked(force bool) error {
	if !force && time.Since(s.loadedAt) < s.ttl {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.books = make(map[string]string)
			s.loadedAt = time.Now()
			return nil
		}
		return fmt.Errorf("read runbook dir %s: %w", s.dir, err)
	}

	books := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("skipping unreadable runbook", "file", entry.Name(), "error", err)
			continue
		}
		if len(content) > maxRunbookBytes {
			content = content[:maxRunbookBytes]
		}
		name := strings.ToLower(strings.TrimSuffix(entry.Name(), ".md"))
		books[name] = string(content)
	}
	s.books = books
	s.loadedAt = time.Now()
	return nil
}
