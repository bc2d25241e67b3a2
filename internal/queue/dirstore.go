package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/promptforge/internal/domain"
)

// taskFileExt is the extension for serialized task records. Records are
// indented JSON, one task per file, named by task id, so the queue can be
// inspected and diffed by hand.
const taskFileExt = ".json"

// DirStore implements Store on top of four directories under a common root.
// Atomicity comes from the filesystem: records are written to a temp file
// and renamed into place, and moves between locations are single renames.
type DirStore struct {
	root   string
	logger *slog.Logger
}

// NewDirStore creates the state directories under root if needed and
// returns a store over them.
func NewDirStore(root string, logger *slog.Logger) (*DirStore, error) {
	for _, dir := range []Dir{DirQueued, DirInflight, DirProcessed, DirFailed} {
		if err := os.MkdirAll(filepath.Join(root, string(dir)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &DirStore{
		root:   root,
		logger: logger.With("component", "dir_store"),
	}, nil
}

// Path returns the absolute path of a logical location. The watcher uses
// this to register filesystem notifications.
func (s *DirStore) Path(dir Dir) string {
	return filepath.Join(s.root, string(dir))
}

func (s *DirStore) recordPath(id uuid.UUID, dir Dir) string {
	return filepath.Join(s.root, string(dir), id.String()+taskFileExt)
}

// Persist writes the task into dir via write-then-rename so a concurrent
// reader never observes a partial record.
func (s *DirStore) Persist(ctx context.Context, task *domain.Task, dir Dir) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid task: %w", err)
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	dirPath := s.Path(dir)
	tmp, err := os.CreateTemp(dirPath, task.ID.String()+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write task %s: %w", task.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for task %s: %w", task.ID, err)
	}

	if err := os.Rename(tmpName, s.recordPath(task.ID, dir)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit task %s to %s: %w", task.ID, dir, err)
	}

	s.logger.Debug("task persisted",
		"task_id", task.ID,
		"dir", dir,
		"state", task.State)
	return nil
}

// Load reads and decodes a task record from dir.
func (s *DirStore) Load(ctx context.Context, id uuid.UUID, dir Dir) (*domain.Task, error) {
	data, err := os.ReadFile(s.recordPath(id, dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrTaskNotFound, id, dir)
		}
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return &task, nil
}

// ListPending returns queued task ids ordered by arrival time. A task
// requeued after a failure re-enters at the tail because its record was
// rewritten on requeue.
func (s *DirStore) ListPending(ctx context.Context) ([]uuid.UUID, error) {
	return s.listOrdered(DirQueued)
}

// List returns the ids present in dir, ordered by arrival time.
func (s *DirStore) List(ctx context.Context, dir Dir) ([]uuid.UUID, error) {
	return s.listOrdered(dir)
}

type dirEntry struct {
	id      uuid.UUID
	modTime time.Time
}

func (s *DirStore) listOrdered(dir Dir) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(s.Path(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	records := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, taskFileExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, taskFileExt))
		if err != nil {
			// Temp files and stray artifacts are not task records.
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info; a racing claim.
			continue
		}
		records = append(records, dirEntry{id: id, modTime: info.ModTime()})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].modTime.Equal(records[j].modTime) {
			return records[i].id.String() < records[j].id.String()
		}
		return records[i].modTime.Before(records[j].modTime)
	})

	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.id
	}
	return ids, nil
}

// Move relocates a record with a single rename. A missing source maps to
// ErrTaskVanished so callers can distinguish a lost race from real failure.
func (s *DirStore) Move(ctx context.Context, id uuid.UUID, from, to Dir) error {
	err := os.Rename(s.recordPath(id, from), s.recordPath(id, to))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s from %s", ErrTaskVanished, id, from)
		}
		return fmt.Errorf("failed to move task %s from %s to %s: %w", id, from, to, err)
	}

	s.logger.Debug("task moved", "task_id", id, "from", from, "to", to)
	return nil
}

// Claim moves the task from queued to inflight and loads it. The rename is
// the exclusivity primitive: exactly one concurrent claimer wins.
func (s *DirStore) Claim(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := s.Move(ctx, id, DirQueued, DirInflight); err != nil {
		return nil, err
	}
	task, err := s.Load(ctx, id, DirInflight)
	if err != nil {
		return nil, err
	}
	return task, nil
}
