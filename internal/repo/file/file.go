// Package file stores the mailbox as one pretty-printed JSON array, so an
// operator can read or edit it by hand.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/repo"
)

// DefaultPath matches the name operators already look for.
const DefaultPath = "failed_messages.json"

// Store is a Mailbox backed by a single JSON file. Writers are serialized by
// their own lock, independent of any in-memory queue lock.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create mailbox dir: %w", err)
		}
	}
	return &Store{path: path, now: time.Now}, nil
}

func (s *Store) Path() string { return s.path }

// Load reads the whole file. Undecodable content is moved aside to
// <path>.corrupt-<unix> and reported as repo.ErrCorrupt.
func (s *Store) Load(ctx context.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readLocked()
	if errors.Is(err, repo.ErrCorrupt) {
		if qerr := s.quarantineLocked(); qerr != nil {
			return nil, repo.Wrap("load", errors.Join(err, qerr))
		}
	}
	return items, repo.Wrap("load", err)
}

// Append is read-merge-write. The new content goes to a temp file that is
// renamed over the old one, so a crash never leaves a half-written file.
func (s *Store) Append(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if errors.Is(err, repo.ErrCorrupt) {
		if qerr := s.quarantineLocked(); qerr != nil {
			return repo.Wrap("append", qerr)
		}
		existing, err = nil, nil
	}
	if err != nil {
		return repo.Wrap("append", err)
	}
	return repo.Wrap("append", s.writeLocked(repo.Merge(existing, items)))
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return repo.Wrap("clear", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) readLocked() ([]domain.QueueItem, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	var items []domain.QueueItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", repo.ErrCorrupt, s.path, err)
	}
	return items, nil
}

func (s *Store) writeLocked(items []domain.QueueItem) error {
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(s.path))
}

// syncDir makes the rename itself durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (s *Store) quarantineLocked() error {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	return os.Rename(s.path, dst)
}

var _ repo.Mailbox = (*Store)(nil)
