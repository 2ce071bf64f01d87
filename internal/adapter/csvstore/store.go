// Package csvstore persists the canonical event set as a CSV file, with a
// byte-identical mirror copy for the display layer.
package csvstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// Header is the column order of the store file.
var Header = []string{"EVENT_NAME", "DATE", "START_TIME", "END_TIME", "LOCATION", "DESCRIPTION", "URL"}

// Store reads and writes the event CSV.
type Store struct {
	path   string
	mirror string
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Store. An empty mirror disables the copy. loc is the park's
// time zone, used for the reference date of legacy rows without a year; nil
// means UTC.
func New(path, mirror string, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{path: path, mirror: mirror, loc: loc, logger: logger}
}

func (s *Store) today() time.Time {
	now := domain.Now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// Path returns the primary store file.
func (s *Store) Path() string { return s.path }

// Load reads every record. A missing file is an empty store. Rows without a
// name or with a date that does not normalize are dropped with a warning;
// surviving dates are rewritten to YYYY-MM-DD.
func (s *Store) Load(ctx context.Context) ([]domain.CanonicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("store file not found, starting empty", "path", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	events, dropped, err := Decode(f, s.today())
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", s.path, err)
	}
	if dropped > 0 {
		s.logger.Warn("dropped invalid store rows", "path", s.path, "dropped", dropped)
	}
	return events, nil
}

// Decode parses store CSV. Columns are matched by header name; EVENT_NAME
// and DATE must be present. It returns the valid records and the number of
// rows dropped. ref anchors year inference for legacy dates without a year.
func Decode(r io.Reader, ref time.Time) ([]domain.CanonicalEvent, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{"EVENT_NAME", "DATE"} {
		if _, ok := idx[required]; !ok {
			return nil, 0, fmt.Errorf("missing %s column", required)
		}
	}

	var (
		events  []domain.CanonicalEvent
		dropped int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}

		name := column(row, idx, "EVENT_NAME")
		date, ok := domain.NormalizeDate(column(row, idx, "DATE"), ref)
		if name == "" || !ok {
			dropped++
			continue
		}
		events = append(events, domain.CanonicalEvent{
			Name:        name,
			Date:        date,
			StartTime:   column(row, idx, "START_TIME"),
			EndTime:     column(row, idx, "END_TIME"),
			Location:    column(row, idx, "LOCATION"),
			Description: column(row, idx, "DESCRIPTION"),
			URL:         column(row, idx, "URL"),
		})
	}
	return events, dropped, nil
}

// Save replaces the store with events and refreshes the mirror. The file is
// written to a temporary sibling and renamed into place, so readers never
// see a partial store.
func (s *Store) Save(ctx context.Context, events []domain.CanonicalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(events)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	s.logger.Info("store written", "path", s.path, "events", len(events))

	if s.mirror == "" {
		return nil
	}
	if err := writeAtomic(s.mirror, data); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	s.logger.Debug("store mirrored", "path", s.mirror)
	return nil
}

// Encode renders events as store CSV: header first, no trailing newline.
func Encode(events []domain.CanonicalEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, e := range events {
		if err := w.Write([]string{e.Name, e.Date, e.StartTime, e.EndTime, e.Location, e.Description, e.URL}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func column(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
