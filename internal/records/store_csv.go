package records

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	dErrors "regdesk/pkg/domain-errors"
)

// CSVStore keeps the table in a single CSV file with a header row. Every operation
// reads the whole file; writes go to a temp file that is renamed over the original.
// The mutex serializes access within one process only.
type CSVStore struct {
	mu   sync.Mutex
	path string
	opts options
}

// NewCSVStore opens path, creating it with a header row when missing.
func NewCSVStore(path string, opts ...Option) (*CSVStore, error) {
	s := &CSVStore{path: path, opts: buildOptions(opts)}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeAll(&csvTable{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "stat records file")
	}
	return s, nil
}

func (s *CSVStore) Append(_ context.Context, fields Fields) (Row, error) {
	row := newRow(fields, s.opts.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.readAll()
	if err != nil {
		return nil, err
	}
	t.rows = append(t.rows, row)
	t.extras = append(t.extras, nil)
	if err := s.writeAll(t); err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

func (s *CSVStore) Find(_ context.Context, matches ...Match) ([]Row, error) {
	if err := validateMatches(matches, false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, row := range t.rows {
		if Matches(row, matches) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *CSVStore) Update(_ context.Context, fields Fields, matches ...Match) (bool, error) {
	if err := validateMatches(matches, true); err != nil {
		return false, err
	}
	changes, err := resolveUpdate(fields, s.opts.now())
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.readAll()
	if err != nil {
		return false, err
	}
	target := -1
	for i, row := range t.rows {
		if !Matches(row, matches) {
			continue
		}
		if target >= 0 {
			return false, nil
		}
		target = i
	}
	if target < 0 {
		return false, nil
	}
	for c, v := range changes {
		t.rows[target][c] = v
	}
	if err := s.writeAll(t); err != nil {
		return false, err
	}
	return true, nil
}

// csvTable is the file contents. Header columns the store does not declare are
// carried through unchanged after the declared ones.
type csvTable struct {
	rows   []Row
	extra  []string
	extras [][]string
}

// readAll maps each record onto declared columns by header name.
func (s *CSVStore) readAll() (*csvTable, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "open records file")
	}
	defer f.Close()

	t := &csvTable{}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "read records header")
	}
	cols := make([]Column, len(header))
	extraAt := make([]int, len(header))
	for i, name := range header {
		extraAt[i] = -1
		if c, ok := ParseColumn(name); ok {
			cols[i] = c
			continue
		}
		extraAt[i] = len(t.extra)
		t.extra = append(t.extra, name)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "read records file")
		}
		row := make(Row, len(Columns))
		extras := make([]string, len(t.extra))
		for i, value := range record {
			switch {
			case i >= len(cols):
			case cols[i] != "":
				row[cols[i]] = value
			case extraAt[i] >= 0:
				extras[extraAt[i]] = value
			}
		}
		t.rows = append(t.rows, row)
		t.extras = append(t.extras, extras)
	}
	return t, nil
}

func (s *CSVStore) writeAll(t *csvTable) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registrations-*.csv")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreIO, "create temp records file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	w := csv.NewWriter(tmp)
	header := make([]string, 0, len(Columns)+len(t.extra))
	for _, c := range Columns {
		header = append(header, string(c))
	}
	header = append(header, t.extra...)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return dErrors.Wrap(err, dErrors.CodeStoreIO, "write records header")
	}
	record := make([]string, len(header))
	for i, row := range t.rows {
		for j, c := range Columns {
			record[j] = row[c]
		}
		for j := range t.extra {
			record[len(Columns)+j] = ""
			if i < len(t.extras) && j < len(t.extras[i]) {
				record[len(Columns)+j] = t.extras[i][j]
			}
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return dErrors.Wrap(err, dErrors.CodeStoreIO, "write records row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return dErrors.Wrap(err, dErrors.CodeStoreIO, "flush records file")
	}
	if err := tmp.Close(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreIO, "close temp records file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreIO, fmt.Sprintf("replace %s", s.path))
	}
	return nil
}
