package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// Store persists the session log for one monitored target as a single JSON
// document. Append is the only mutator of the in-memory entry list; removal
// is the budget manager's job.
type Store struct {
	path   string
	target string
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a store rooted under dataDir. Each target gets its own
// file, keeping targets fully isolated.
func NewStore(dataDir, target string, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   filepath.Join(dataDir, "sessions", target+".json"),
		target: target,
		ttl:    ttl,
		logger: logger,
	}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// NewSession creates a fresh session for the store's target.
func (s *Store) NewSession(now time.Time) *models.Session {
	return &models.Session{
		ID:        uuid.NewString(),
		Target:    s.target,
		CreatedAt: now.UTC(),
	}
}

// Append stamps an entry with its token estimate and appends it. Estimates
// are fixed at append time so pruning arithmetic never shifts after the fact.
func Append(sess *models.Session, role models.EntryRole, content string, critical bool, now time.Time) models.SessionEntry {
	entry := models.SessionEntry{
		Role:          role,
		Content:       content,
		TokenEstimate: EstimateTokens(content),
		Critical:      critical,
		Timestamp:     now.UTC(),
	}
	sess.Entries = append(sess.Entries, entry)
	return entry
}

// Load returns the stored session, or nil when none exists, the record is
// unreadable, or its age exceeds the TTL. A bad stored session is never
// fatal; the caller starts fresh.
func (s *Store) Load(now time.Time) (*models.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", s.path, err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("stored session corrupt, starting fresh", slog.String("path", s.path), slog.Any("error", err))
		return nil, nil
	}

	if !utils.WithinWindow(lastActivity(&sess), now, s.ttl) {
		s.logger.Info("stored session expired", slog.String("path", s.path), slog.Duration("ttl", s.ttl))
		return nil, nil
	}
	return &sess, nil
}

// Persist writes the full session atomically (temp file + rename) so a
// crash never yields a half-written session.
func (s *Store) Persist(sess *models.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Reset removes the stored session. Missing files are not an error.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", s.path, err)
	}
	return nil
}

// lastActivity dates a session by its newest entry, falling back to creation.
func lastActivity(sess *models.Session) time.Time {
	latest := sess.CreatedAt
	for _, entry := range sess.Entries {
		if entry.Timestamp.After(latest) {
			latest = entry.Timestamp
		}
	}
	return latest
}
