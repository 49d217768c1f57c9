// Package extract turns raw logger dumps into the canonical Trigger table.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/logparse"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
	"github.com/ewyt/proximity-pipeline/internal/tagbook"
)

// ErrNoLoggerFiles is returned when the data directory yields no dump files.
var ErrNoLoggerFiles = errors.New("no logger data files found")

// Report summarizes one extraction run.
type Report struct {
	FilesRead     int `json:"files_read"`
	RecordsSeen   int `json:"records_seen"`
	Detections    int `json:"detections"`
	ForeignTags   int `json:"foreign_tags"`
	UnknownTags   int `json:"unknown_tags"`
	DuplicatesCut int `json:"duplicates_cut"`
	Triggers      int `json:"triggers"`
}

// Extractor resolves raw logger dumps to triggers using the animal register.
type Extractor struct {
	book *tagbook.Book
}

// NewExtractor returns an extractor over the given tag book.
func NewExtractor(book *tagbook.Book) *Extractor {
	return &Extractor{book: book}
}

// ExtractDir processes every logger dump under dir. The field convention is
// one subdirectory per logger holding its *-DATA-<id>.txt dumps; dumps
// sitting directly in dir are accepted too.
func (e *Extractor) ExtractDir(dir string) ([]domain.Trigger, *Report, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".txt" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning logger data dir %s: %w", dir, err)
	}
	sort.Strings(paths) // deterministic file order
	return e.ExtractFiles(paths)
}

// ExtractFiles processes the given dumps and returns the sorted,
// deduplicated trigger table.
func (e *Extractor) ExtractFiles(paths []string) ([]domain.Trigger, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, ErrNoLoggerFiles
	}

	report := &Report{}
	parser := logparse.NewParser()
	var triggers []domain.Trigger

	for _, path := range paths {
		records, err := parser.ParseFile(path)
		if err != nil {
			// A single unreadable dump is localized: warn and keep going.
			logger.Warn("skipping unreadable logger file", "path", path, "error", err.Error())
			continue
		}
		report.FilesRead++
		report.RecordsSeen += len(records)

		for _, rec := range logparse.Detections(records) {
			report.Detections++

			animal, err := e.book.Identify(rec.TagID)
			switch {
			case errors.Is(err, tagbook.ErrForeignTag):
				report.ForeignTags++
				continue
			case errors.Is(err, tagbook.ErrUnknownTag):
				report.UnknownTags++
				logger.Warn("detection for unregistered tag",
					"tag_id", rec.TagID,
					"logger_id", rec.LoggerID,
					"time", rec.Time.Format("2006-01-02 15:04:05"))
				continue
			case err != nil:
				return nil, nil, err
			}

			triggers = append(triggers, domain.Trigger{
				AnimalID: animal.ID,
				Species:  animal.Species,
				Sex:      animal.Sex,
				LoggerID: rec.LoggerID,
				Time:     rec.Time,
			})
		}
	}

	if report.FilesRead == 0 {
		return nil, nil, fmt.Errorf("%w: %d files, none readable", ErrNoLoggerFiles, len(paths))
	}

	triggers, cut := dedupe(triggers)
	report.DuplicatesCut = cut
	report.Triggers = len(triggers)

	logger.Info("extraction complete",
		"files", report.FilesRead,
		"detections", report.Detections,
		"triggers", report.Triggers,
		"foreign", report.ForeignTags,
		"unknown", report.UnknownTags)

	return triggers, report, nil
}

// dedupe sorts triggers chronologically (logger and animal as tie-breaks)
// and collapses identical consecutive records. Loggers re-read a stationary
// tag within the same second, so exact duplicates are common in raw dumps.
func dedupe(triggers []domain.Trigger) ([]domain.Trigger, int) {
	sort.SliceStable(triggers, func(i, j int) bool {
		if !triggers[i].Time.Equal(triggers[j].Time) {
			return triggers[i].Time.Before(triggers[j].Time)
		}
		if triggers[i].LoggerID != triggers[j].LoggerID {
			return triggers[i].LoggerID < triggers[j].LoggerID
		}
		return triggers[i].AnimalID < triggers[j].AnimalID
	})

	out := triggers[:0]
	cut := 0
	for i, tr := range triggers {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.AnimalID == tr.AnimalID && prev.LoggerID == tr.LoggerID && prev.Time.Equal(tr.Time) {
				cut++
				continue
			}
		}
		out = append(out, tr)
	}
	return out, cut
}
