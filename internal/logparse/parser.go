// Package logparse reads the raw text dumps written by the field proximity
// loggers. Each dump starts with a device banner line, then a header line
// naming the columns, then one comma-separated record per sensor event:
//
//	datetime,LOGGER_ID,motion_det,Tag_ID,...
//
// Only motion class 3 records (a recognised PIT tag read) matter downstream;
// the other classes are unrecognised movement and diagnostics.
package logparse

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
)

// MotionTagRead is the motion_det class for a recognised tag detection.
const MotionTagRead = 3

// rawTimeLayout matches the logger firmware timestamp (2-digit year,
// day first).
const rawTimeLayout = "02/01/06 15:04:05"

// Record is one raw sensor event from a logger dump.
type Record struct {
	Time        time.Time
	LoggerID    string
	TagID       string
	MotionClass int
}

// Parser reads raw logger dump files. Dumps from different firmware
// revisions order their columns differently, so the header line drives
// field lookup; files with no header fall back to the original column
// positions.
type Parser struct {
	headerMap map[string]int // column name -> index
}

// NewParser returns a parser. Call ParseFile or ParseReader to process dumps.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads a raw logger dump from disk.
func (p *Parser) ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open logger file %s: %w", path, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads logger records from any io.Reader. Malformed lines are
// logged and skipped; they never abort the file.
func (p *Parser) ParseReader(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var records []Record
	lineNum := 0
	p.headerMap = nil

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if lineNum == 1 {
			// Device banner: logger serial and firmware revision.
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if p.headerMap == nil && strings.Contains(line, "datetime") {
			p.parseHeader(line)
			continue
		}

		rec, err := p.parseLine(line)
		if err != nil {
			logger.Warn("skipping malformed logger record",
				"line", lineNum, "error", err.Error())
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("error reading logger data: %w", err)
	}

	return records, nil
}

func (p *Parser) parseHeader(line string) {
	fields := strings.Split(line, ",")
	p.headerMap = make(map[string]int, len(fields))
	for i, f := range fields {
		p.headerMap[strings.TrimSpace(f)] = i
	}
}

func (p *Parser) field(fields []string, name string) string {
	if p.headerMap == nil {
		return ""
	}
	idx, ok := p.headerMap[name]
	if !ok || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func (p *Parser) parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return Record{}, fmt.Errorf("too few fields: %d", len(fields))
	}

	if p.headerMap != nil {
		return p.parseNamed(fields)
	}
	return p.parsePositional(fields)
}

func (p *Parser) parseNamed(fields []string) (Record, error) {
	ts, err := time.Parse(rawTimeLayout, p.field(fields, "datetime"))
	if err != nil {
		return Record{}, fmt.Errorf("bad timestamp %q: %w", p.field(fields, "datetime"), err)
	}

	motion, err := strconv.Atoi(p.field(fields, "motion_det"))
	if err != nil {
		return Record{}, fmt.Errorf("bad motion class %q", p.field(fields, "motion_det"))
	}

	return Record{
		Time:        ts,
		LoggerID:    p.field(fields, "LOGGER_ID"),
		TagID:       p.field(fields, "Tag_ID"),
		MotionClass: motion,
	}, nil
}

func (p *Parser) parsePositional(fields []string) (Record, error) {
	ts, err := time.Parse(rawTimeLayout, strings.TrimSpace(fields[0]))
	if err != nil {
		return Record{}, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}

	motion, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Record{}, fmt.Errorf("bad motion class %q", fields[2])
	}

	return Record{
		Time:        ts,
		LoggerID:    strings.TrimSpace(fields[1]),
		TagID:       strings.TrimSpace(fields[3]),
		MotionClass: motion,
	}, nil
}

// Detections filters raw records down to recognised tag reads.
func Detections(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.MotionClass == MotionTagRead && r.TagID != "" {
			out = append(out, r)
		}
	}
	return out
}
