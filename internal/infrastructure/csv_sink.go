package infrastructure

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"lineagemon/internal/domain"
)

var csvHeader = []string{
	"PID",
	"Name",
	"Executable",
	"PPID",
	"Start Time",
	"End Time",
	"Spawn Rate (last window)",
	"Total Children",
	"Ancestry",
	"User",
	"Priority",
	"Duration Seconds",
	"Elevated",
	"Flags",
	"Phase",
}

// CSVSink writes one tabular row per process lifecycle terminus. Rows
// are flushed immediately so a crash never loses more than the row in
// flight.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	closed bool
}

// NewCSVSink creates or truncates the tabular sink and writes the
// header row.
func NewCSVSink(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create sink directory")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open tabular sink")
	}

	sink := &CSVSink{
		file:   file,
		writer: csv.NewWriter(file),
	}
	if err := sink.writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to write header row")
	}
	sink.writer.Flush()
	if err := sink.writer.Error(); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to flush header row")
	}
	return sink, nil
}

// WriteRow appends one lifecycle row.
func (s *CSVSink) WriteRow(row *domain.LifecycleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSinkClosed
	}

	endTime := ""
	if !row.EndTime.IsZero() {
		endTime = row.EndTime.Format(time.RFC3339)
	}

	record := []string{
		strconv.Itoa(int(row.PID)),
		row.Name,
		row.Exe,
		strconv.Itoa(int(row.ParentPID)),
		row.StartTime.Format(time.RFC3339),
		endTime,
		strconv.Itoa(row.SpawnRate),
		strconv.Itoa(row.NumChildren),
		formatAncestry(row.Ancestry),
		row.Owner,
		row.Priority.String(),
		fmt.Sprintf("%.1f", row.Duration.Seconds()),
		strconv.FormatBool(row.Elevated),
		strings.Join(row.Flags, ";"),
		row.Phase,
	}

	if err := s.writer.Write(record); err != nil {
		return errors.Wrap(err, "failed to write lifecycle row")
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return errors.Wrap(err, "failed to flush lifecycle row")
	}
	return nil
}

// Close flushes and closes the sink file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.writer.Flush()
	return s.file.Close()
}

// formatAncestry renders ancestor PIDs root-first, e.g. "1->42->100".
func formatAncestry(pids []int32) string {
	if len(pids) == 0 {
		return ""
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(int(pid))
	}
	return strings.Join(parts, "->")
}
