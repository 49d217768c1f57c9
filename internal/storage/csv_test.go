package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestTriggerTableRoundTrip(t *testing.T) {
	s := testStore(t)

	in := []domain.Trigger{
		{
			AnimalID: "M041", Species: "A. sylvaticus", Sex: domain.SexFemale,
			LoggerID: "041",
			Time:     time.Date(2024, time.March, 1, 8, 15, 2, 0, time.UTC),
		},
		{
			AnimalID: "M077", Species: "M. glareolus", Sex: domain.SexMale,
			LoggerID: "017",
			Time:     time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, s.WriteTriggers(in))

	out, err := s.ReadTriggers()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestContactTableRoundTrip(t *testing.T) {
	s := testStore(t)

	in := []domain.ContactEvent{{
		AnimalA: "M041", SpeciesA: "A. sylvaticus", SexA: domain.SexFemale,
		AnimalB: "M077", SpeciesB: "M. glareolus", SexB: domain.SexMale,
		Location: "C7",
		Start:    time.Date(2024, time.March, 1, 8, 15, 0, 0, time.UTC),
		End:      time.Date(2024, time.March, 1, 8, 18, 30, 0, time.UTC),
		Type:     domain.ContactBetweenSpecies,
	}}
	require.NoError(t, s.WriteContacts(in))

	out, err := s.ReadContacts()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteIsIdempotentOverwrite(t *testing.T) {
	s := testStore(t)

	events := []domain.ContactEvent{{
		AnimalA: "A", AnimalB: "B", Location: "L1",
		Start: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.March, 1, 0, 2, 0, 0, time.UTC),
		Type:  domain.ContactWithinSpecies,
	}}

	require.NoError(t, s.WriteContacts(events))
	first, err := os.ReadFile(s.ContactsPath())
	require.NoError(t, err)

	// Second run with identical input reproduces byte-identical output.
	require.NoError(t, s.WriteContacts(events))
	second, err := os.ReadFile(s.ContactsPath())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A shorter table fully replaces the longer one, never appends.
	require.NoError(t, s.WriteContacts(nil))
	out, err := s.ReadContacts()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.WriteTriggers([]domain.Trigger{{
		AnimalID: "A", LoggerID: "L1",
		Time: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}}))

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, TriggersFile, entries[0].Name())
}

func TestReadMovements(t *testing.T) {
	dir := t.TempDir()
	sheet := filepath.Join(dir, "LoggerMovements.csv")
	content := `Logger_ID,Grid_Cell,Date
041,C7,01/03/2024
041,D2,10/03/24
017,A1,2024-03-01
`
	require.NoError(t, os.WriteFile(sheet, []byte(content), 0644))

	moves, err := ReadMovements(sheet)
	require.NoError(t, err)
	require.Len(t, moves, 3)

	// Mixed 4-digit, 2-digit and ISO dates all parse to the same days.
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), moves[0].EffectiveFrom)
	assert.Equal(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), moves[1].EffectiveFrom)
	assert.Equal(t, "017", moves[2].LoggerID)
	assert.Equal(t, "A1", moves[2].GridCell)
}

func TestReadMovements_BadDate(t *testing.T) {
	dir := t.TempDir()
	sheet := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(sheet, []byte("Logger_ID,Grid_Cell,Date\n041,C7,soon\n"), 0644))

	_, err := ReadMovements(sheet)
	assert.Error(t, err)
}

func TestReadTriggers_MissingFile(t *testing.T) {
	s := testStore(t)
	_, err := s.ReadTriggers()
	assert.Error(t, err)
}
