// Package userstore persists where members came from as a single JSON document.
package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"herald/pkg/herald"
)

// SchemaVersion tags the persisted document layout.
const SchemaVersion = 1

// UserEntry is the persisted state of one user.
type UserEntry struct {
	Source    herald.JoinSource `json:"source"`
	Labels    []string          `json:"labels"`
	FirstSeen time.Time         `json:"first_seen"`
	ChatID    string            `json:"chat_id"`
}

type document struct {
	SchemaVersion int                  `json:"schema_version"`
	Users         map[string]UserEntry `json:"users"`
}

// JoinObserver receives recorded joins for instrumentation.
type JoinObserver interface {
	JoinRecorded(source herald.JoinSource)
}

// Store is the in-memory registry mirrored to a JSON file.
//
// In read-only mode a known user's source is never reclassified.
type Store struct {
	path     string
	readOnly bool
	logger   *slog.Logger
	observer JoinObserver

	mu    sync.Mutex
	users map[string]UserEntry
}

// Option mutates store construction.
type Option func(*Store)

// WithReadOnly toggles reclassification protection.
func WithReadOnly(readOnly bool) Option {
	return func(s *Store) {
		s.readOnly = readOnly
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver reports recorded joins to observer.
func WithObserver(observer JoinObserver) Option {
	return func(s *Store) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// Open loads the registry at path, starting empty when the file does not exist.
func Open(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open user store: empty path")
	}

	store := &Store{
		path:     path,
		readOnly: true,
		logger:   slog.Default(),
		users:    make(map[string]UserEntry),
	}
	for _, option := range options {
		option(store)
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open user store %s: %w", path, err)
	}

	var loaded document
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("decode user store %s: %w", path, err)
	}
	if loaded.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("decode user store %s: unsupported schema version %d", path, loaded.SchemaVersion)
	}
	for userID, entry := range loaded.Users {
		store.users[userID] = entry
	}

	return store, nil
}

// Record stores a join observation and rewrites the file.
func (s *Store) Record(ctx context.Context, record herald.JoinRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("record join: missing user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, known := s.users[record.UserID]
	switch {
	case !known:
		entry = UserEntry{
			Source:    record.Source,
			FirstSeen: record.JoinedAt.UTC(),
			ChatID:    record.ConversationID,
		}
	case s.readOnly:
		if entry.Source != record.Source {
			s.logger.DebugContext(ctx, "user registry reclassification skipped",
				"user_id", record.UserID,
				"source", entry.Source,
				"observed_source", record.Source,
			)
		}
	default:
		entry.Source = record.Source
		entry.ChatID = record.ConversationID
	}
	entry.Labels = mergeLabels(entry.Labels, record.Labels)
	s.users[record.UserID] = entry

	if s.observer != nil {
		s.observer.JoinRecorded(record.Source)
	}

	if err := s.flushLocked(); err != nil {
		return fmt.Errorf("record join for user %s: %w", record.UserID, err)
	}

	return nil
}

func (s *Store) lookup(userID string) (UserEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.users[userID]
	if ok {
		entry.Labels = append([]string(nil), entry.Labels...)
	}

	return entry, ok
}

// Stats summarizes the registry.
func (s *Store) Stats() herald.UserRegistryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := herald.UserRegistryStats{
		Users:    len(s.users),
		BySource: make(map[herald.JoinSource]int),
		ReadOnly: s.readOnly,
	}
	for _, entry := range s.users {
		stats.BySource[entry.Source]++
	}

	return stats
}

// Flush rewrites the file with the current state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

// flushLocked writes to a temp file in the same directory and renames it over path.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(document{
		SchemaVersion: SchemaVersion,
		Users:         s.users,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user store dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create user store temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write user store temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close user store temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace user store %s: %w", s.path, err)
	}

	return nil
}

func mergeLabels(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, label := range append(append([]string(nil), existing...), added...) {
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		merged = append(merged, label)
	}
	sort.Strings(merged)

	return merged
}

var _ herald.UserRegistry = (*Store)(nil)
