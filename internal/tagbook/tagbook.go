// Package tagbook maps PIT tag reads to the animals that carry them.
//
// The animal register from the trapping sheets records up to four tags per
// individual (re-tagged animals keep their identity). Loggers report a long
// hardware tag ID whose trailing six characters match the register. Tags
// known to belong to other projects on the same site are listed separately
// and skipped silently.
package tagbook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

// tagSuffixLen is the number of trailing characters of a raw hardware tag ID
// that the register stores.
const tagSuffixLen = 6

var (
	// ErrUnknownTag is returned for tag reads matching neither the register
	// nor the foreign-tag list.
	ErrUnknownTag = errors.New("tag not in animal register")

	// ErrForeignTag is returned for tags known to belong to another project.
	ErrForeignTag = errors.New("tag belongs to another project")
)

// Book resolves tag IDs to animals. Immutable after load, safe for
// concurrent use.
type Book struct {
	byTag   map[string]domain.Animal
	foreign map[string]bool
}

// New builds a book from an animal register and a foreign-tag list.
func New(animals []domain.Animal, foreignTags []string) *Book {
	b := &Book{
		byTag:   make(map[string]domain.Animal),
		foreign: make(map[string]bool, len(foreignTags)),
	}
	for _, a := range animals {
		for _, tag := range a.Tags {
			tag = normalizeTag(tag)
			if tag != "" {
				b.byTag[tag] = a
			}
		}
	}
	for _, tag := range foreignTags {
		if tag = normalizeTag(tag); tag != "" {
			b.foreign[tag] = true
		}
	}
	return b
}

// Load reads the animal register CSV and, if foreignPath is non-empty, the
// foreign-tag list.
//
// Register columns: Animal,Species,Sex,Tag1,Tag2,Tag3,Tag4 (header row
// required, tag columns may be blank).
func Load(registerPath, foreignPath string) (*Book, error) {
	animals, err := readRegister(registerPath)
	if err != nil {
		return nil, err
	}

	var foreign []string
	if foreignPath != "" {
		foreign, err = readForeignTags(foreignPath)
		if err != nil {
			return nil, err
		}
	}

	return New(animals, foreign), nil
}

// Identify resolves a raw hardware tag ID to its animal.
func (b *Book) Identify(rawTagID string) (domain.Animal, error) {
	tag := normalizeTag(rawTagID)
	if a, ok := b.byTag[tag]; ok {
		return a, nil
	}
	if b.foreign[tag] {
		return domain.Animal{}, fmt.Errorf("%w: %s", ErrForeignTag, tag)
	}
	return domain.Animal{}, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
}

// Size returns the number of distinct registered tags.
func (b *Book) Size() int { return len(b.byTag) }

// normalizeTag reduces a tag to the register form: the trailing six
// characters, uppercased.
func normalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if len(tag) > tagSuffixLen {
		tag = tag[len(tag)-tagSuffixLen:]
	}
	return tag
}

func readRegister(path string) ([]domain.Animal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open animal register %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read register header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var animals []domain.Animal
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read animal register: %w", err)
		}

		a := domain.Animal{
			ID:      field(row, "Animal"),
			Species: field(row, "Species"),
			Sex:     domain.Sex(field(row, "Sex")),
		}
		if a.ID == "" {
			continue
		}
		for _, tagCol := range []string{"Tag1", "Tag2", "Tag3", "Tag4"} {
			if tag := field(row, tagCol); tag != "" {
				a.Tags = append(a.Tags, tag)
			}
		}
		animals = append(animals, a)
	}
	return animals, nil
}

// readForeignTags reads the known-foreign tag list: comma or newline
// separated values, no header.
func readForeignTags(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open foreign tag list %s: %w", path, err)
	}

	var tags []string
	for _, line := range strings.Split(string(data), "\n") {
		for _, v := range strings.Split(line, ",") {
			if v = strings.TrimSpace(v); v != "" {
				tags = append(tags, v)
			}
		}
	}
	return tags, nil
}
