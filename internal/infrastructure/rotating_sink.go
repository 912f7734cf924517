package infrastructure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"lineagemon/internal/domain"
)

// RotatingSink appends one JSON line per event to the active file and
// rotates it by size into numbered backups: name.1 is the most recent,
// name.<backups> the oldest, anything beyond is evicted. Rotation uses
// renames only, so a reader tailing the active file never sees a
// rotated-out line reappear or a torn final line.
type RotatingSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	file     *os.File
	size     int64
	closed   bool
}

// NewRotatingSink opens (or continues) the active file at path.
func NewRotatingSink(path string, maxBytes int64, backups int) (*RotatingSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create sink directory")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open structured sink")
	}

	size := int64(0)
	if stat, err := file.Stat(); err == nil {
		size = stat.Size()
	}

	return &RotatingSink{
		path:     path,
		maxBytes: maxBytes,
		backups:  backups,
		file:     file,
		size:     size,
	}, nil
}

// Emit writes one event as a single NDJSON line. The line lands either
// entirely in the current file or entirely in the next one: rotation
// happens before the write, once the active file has exceeded the
// size threshold.
func (s *RotatingSink) Emit(event *domain.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSinkClosed
	}

	if s.size > 0 && s.size >= s.maxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return errors.Wrap(err, "failed to write event line")
	}
	return nil
}

// rotate shifts name.i -> name.(i+1), moves the active file to name.1
// and starts a fresh active file. Called with the lock held.
func (s *RotatingSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, "failed to close active sink file")
	}

	oldest := s.backupPath(s.backups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return errors.Wrap(err, "failed to evict oldest backup")
		}
	}
	for i := s.backups - 1; i >= 1; i-- {
		from := s.backupPath(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, s.backupPath(i+1)); err != nil {
			return errors.Wrapf(err, "failed to shift backup %d", i)
		}
	}
	if err := os.Rename(s.path, s.backupPath(1)); err != nil {
		return errors.Wrap(err, "failed to rotate active sink file")
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to reopen structured sink")
	}
	s.file = file
	s.size = 0
	return nil
}

func (s *RotatingSink) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", s.path, n)
}

// Close closes the active file. Further Emit calls fail.
func (s *RotatingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
