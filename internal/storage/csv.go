// Package storage persists the pipeline tables as CSV files, the exchange
// format the field team works with. Writes are atomic (temp file + rename)
// and always replace the whole table, mirroring the Postgres contract, so a
// re-run can never leave a partially updated file behind.
package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

const (
	// tableTimeLayout is the timestamp format in the persisted tables.
	tableTimeLayout = "2006-01-02 15:04:05"

	// TriggersFile and ContactsFile are the table names under the store dir.
	TriggersFile = "Triggers.csv"
	ContactsFile = "Contacts.csv"
)

var triggerHeader = []string{"time", "logger_id", "animal_id", "species", "sex"}

var contactHeader = []string{
	"start_time", "end_time", "interval_min", "location",
	"animal_a", "species_a", "sex_a",
	"animal_b", "species_b", "sex_b", "contact_type",
}

// Store reads and writes the CSV tables under one directory.
type Store struct {
	dir string
}

// NewStore creates the table directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create table dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// TriggersPath returns the on-disk location of the trigger table.
func (s *Store) TriggersPath() string { return filepath.Join(s.dir, TriggersFile) }

// ContactsPath returns the on-disk location of the contact table.
func (s *Store) ContactsPath() string { return filepath.Join(s.dir, ContactsFile) }

// WriteTriggers replaces the trigger table.
func (s *Store) WriteTriggers(triggers []domain.Trigger) error {
	return s.writeTable(s.TriggersPath(), triggerHeader, len(triggers), func(w *csv.Writer, i int) error {
		t := triggers[i]
		return w.Write([]string{
			t.Time.Format(tableTimeLayout), t.LoggerID, t.AnimalID, t.Species, string(t.Sex),
		})
	})
}

// ReadTriggers loads the trigger table.
func (s *Store) ReadTriggers() ([]domain.Trigger, error) {
	rows, err := s.readTable(s.TriggersPath(), len(triggerHeader))
	if err != nil {
		return nil, err
	}

	out := make([]domain.Trigger, 0, len(rows))
	for i, row := range rows {
		ts, err := time.Parse(tableTimeLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad timestamp %q: %w", TriggersFile, i+1, row[0], err)
		}
		out = append(out, domain.Trigger{
			Time:     ts,
			LoggerID: row[1],
			AnimalID: row[2],
			Species:  row[3],
			Sex:      domain.Sex(row[4]),
		})
	}
	return out, nil
}

// WriteContacts replaces the contact table.
func (s *Store) WriteContacts(events []domain.ContactEvent) error {
	return s.writeTable(s.ContactsPath(), contactHeader, len(events), func(w *csv.Writer, i int) error {
		e := events[i]
		return w.Write([]string{
			e.Start.Format(tableTimeLayout),
			e.End.Format(tableTimeLayout),
			strconv.FormatFloat(e.Duration().Minutes(), 'f', 2, 64),
			e.Location,
			e.AnimalA, e.SpeciesA, string(e.SexA),
			e.AnimalB, e.SpeciesB, string(e.SexB),
			string(e.Type),
		})
	})
}

// ReadContacts loads the contact table. The interval column is derived and
// ignored on read.
func (s *Store) ReadContacts() ([]domain.ContactEvent, error) {
	rows, err := s.readTable(s.ContactsPath(), len(contactHeader))
	if err != nil {
		return nil, err
	}

	out := make([]domain.ContactEvent, 0, len(rows))
	for i, row := range rows {
		start, err := time.Parse(tableTimeLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad start time %q: %w", ContactsFile, i+1, row[0], err)
		}
		end, err := time.Parse(tableTimeLayout, row[1])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad end time %q: %w", ContactsFile, i+1, row[1], err)
		}
		out = append(out, domain.ContactEvent{
			Start: start, End: end, Location: row[3],
			AnimalA: row[4], SpeciesA: row[5], SexA: domain.Sex(row[6]),
			AnimalB: row[7], SpeciesB: row[8], SexB: domain.Sex(row[9]),
			Type: domain.ContactType(row[10]),
		})
	}
	return out, nil
}

// movementDateLayouts covers the mixed date formats found in the field
// movement sheets (4-digit and 2-digit years).
var movementDateLayouts = []string{"02/01/2006", "02/01/06", "2006-01-02"}

// ReadMovements parses a logger movement sheet: Logger_ID,Grid_Cell,Date
// with a header row. Rows keep their input order; the resolver's duplicate-
// date tie-break depends on it.
func ReadMovements(path string) ([]domain.LoggerMove, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open movement sheet %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	if _, err := r.Read(); err != nil { // header
		return nil, fmt.Errorf("cannot read movement header: %w", err)
	}

	var out []domain.LoggerMove
	rowNum := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read movement sheet: %w", err)
		}
		rowNum++
		if len(row) < 3 {
			return nil, fmt.Errorf("movement sheet row %d: want 3 columns, got %d", rowNum, len(row))
		}

		var date time.Time
		var parseErr error
		for _, layout := range movementDateLayouts {
			if date, parseErr = time.Parse(layout, row[2]); parseErr == nil {
				break
			}
		}
		if parseErr != nil {
			return nil, fmt.Errorf("movement sheet row %d: bad date %q", rowNum, row[2])
		}

		out = append(out, domain.LoggerMove{
			LoggerID:      row[0],
			GridCell:      row[1],
			EffectiveFrom: date,
		})
	}
	return out, nil
}

// writeTable writes header + n rows to a temp file and renames it over the
// target.
func (s *Store) writeTable(path string, header []string, n int, writeRow func(*csv.Writer, int) error) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp table: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := writeRow(w, i); err != nil {
			tmp.Close()
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp table: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace table %s: %w", path, err)
	}
	return nil
}

// readTable returns data rows, validating the column count.
func (s *Store) readTable(path string, wantCols int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open table %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = wantCols

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cannot read table %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil // skip header
}
