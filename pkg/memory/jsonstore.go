package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Facts     []Fact `json:"facts"`
}

const currentVersion = 1

// lockStaleAfter is how long a lock file may exist before it is
// considered abandoned by a crashed process and broken.
const lockStaleAfter = 10 * time.Second

// lockRetryDelay is how long to wait between lock acquisition attempts.
const lockRetryDelay = 10 * time.Millisecond

// lockTimeout bounds how long an append will wait for the file lock.
const lockTimeout = 5 * time.Second

// JSONStore implements Store using a JSON file for persistence.
// The file may be shared with other processes: every append takes a
// sibling lock file, re-reads the file, and writes it back atomically
// via a temp file and rename.
type JSONStore struct {
	path     string
	facts    []Fact
	seen     map[string]bool
	loadedAt time.Time
	mu       sync.RWMutex
}

// NewJSONStore creates a new JSON-based store at the given path.
// If the file doesn't exist, it will be created on first append.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path: path,
		seen: make(map[string]bool),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		store.mu.Lock()
		err := store.load()
		store.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return store, nil
}

// NewDefaultStore creates a store at the default location (~/.aural/memory.json).
func NewDefaultStore() (*JSONStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	path := filepath.Join(homeDir, ".aural", "memory.json")
	return NewJSONStore(path)
}

// load reads the store from disk. Caller must hold mu.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.facts = stored.Facts
	s.seen = make(map[string]bool, len(stored.Facts))
	for _, fact := range stored.Facts {
		s.seen[normalizeFact(fact.Text)] = true
	}
	s.loadedAt = time.Now()

	return nil
}

// save writes the store to disk. Caller must hold mu and the lock file.
func (s *JSONStore) save() error {
	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Facts:     s.facts,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// lockPath is the sibling lock file guarding cross-process appends.
func (s *JSONStore) lockPath() string {
	return s.path + ".lock"
}

// acquireLock takes the cross-process lock file, breaking it if stale.
func (s *JSONStore) acquireLock() error {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, statErr := os.Stat(s.lockPath()); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				os.Remove(s.lockPath())
				continue
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for lock file %s", s.lockPath())
		}
		time.Sleep(lockRetryDelay)
	}
}

// releaseLock removes the lock file.
func (s *JSONStore) releaseLock() {
	os.Remove(s.lockPath())
}

// Append adds one fact to the store. Facts whose normalized text already
// exists are silently dropped. The file is re-read under the lock so
// appends from other processes are never overwritten.
func (s *JSONStore) Append(fact Fact) error {
	if strings.TrimSpace(fact.Text) == "" {
		return nil
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		if err := s.load(); err != nil {
			return err
		}
	}

	if s.seen[normalizeFact(fact.Text)] {
		return nil
	}

	s.facts = append(s.facts, fact)
	s.seen[normalizeFact(fact.Text)] = true
	return s.save()
}

// Recent returns the newest n facts, oldest first. n <= 0 returns all
// facts. The returned slice is a copy and safe to retain.
func (s *JSONStore) Recent(n int) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Pick up appends made by other processes since the last load.
	if info, err := os.Stat(s.path); err == nil && info.ModTime().After(s.loadedAt) {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	start := 0
	if n > 0 && n < len(s.facts) {
		start = len(s.facts) - n
	}

	out := make([]Fact, len(s.facts)-start)
	copy(out, s.facts[start:])
	return out, nil
}

// All returns every fact, oldest first.
func (s *JSONStore) All() ([]Fact, error) {
	return s.Recent(0)
}

// Count returns the total number of facts.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// Path returns the file path of the store.
func (s *JSONStore) Path() string {
	return s.path
}

// normalizeFact reduces fact text to a duplicate-detection key.
func normalizeFact(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
