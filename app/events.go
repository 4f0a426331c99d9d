// ICDSEQ: Yearly Diagnosis Sequence Preparation Library
// Copyright (c) 2022 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/icdseq/blob/master/LICENSE.txt>.

// Package app implements the loaders and writers around the core: the
// unified event table in CSV and Parquet form, MIMIC-III/IV conversion,
// PostgreSQL and SAS7BDAT event sources, and the Parquet example sets. All
// schema knowledge and all row-level recovery (unparseable dates, invalid
// codes) lives here; the sequence and vocab packages only ever see typed,
// normalized events.
package app

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"icdseq/icd"
	"icdseq/sequence"
)

// eventColumns is the required header of the unified event table.
var eventColumns = []string{"patient_id", "visit_id", "visit_date", "code", "coding_system"}

// LoadEvents reads the unified event table from a file, dispatching on the
// file extension: .csv and .csv.gz, .parquet/.pq, or .sas7bdat. Codes are
// normalized on ingest, rows with unparseable dates or empty-normalizing
// codes are dropped and counted, and exact duplicate tuples are removed.
func LoadEvents(path string, dotless bool) ([]sequence.Event, error) {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".parquet") || strings.HasSuffix(name, ".pq"):
		return readEventsParquet(path, dotless)
	case strings.HasSuffix(name, ".sas7bdat"):
		return ReadEventsSAS(path, DefaultSASColumns, dotless)
	case strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.gz"):
		return readEventsCSV(path, dotless)
	default:
		return nil, fmt.Errorf("unsupported event table format: %s", filepath.Ext(path))
	}
}

// openMaybeGzip opens a file and transparently unwraps a .gz suffix.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	g, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipReadCloser{gz: g, file: f}, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	if err := g.gz.Close(); err != nil {
		g.file.Close()
		return err
	}
	return g.file.Close()
}

// columnIndex resolves the required columns in a header row,
// case-insensitively. A missing column is a configuration error.
func columnIndex(header, required []string) (map[string]int, error) {
	cm := map[string]int{}
	for i, name := range header {
		cm[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cm[name]; !ok {
			return nil, fmt.Errorf("required column %q not found in input header", name)
		}
	}
	return cm, nil
}

// parseVisitDate parses an ISO visit date, with or without a time component.
// The bool result is false for malformed dates; those rows are dropped by
// the callers, never surfaced as errors.
func parseVisitDate(s string) (sequence.Date, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return sequence.Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, true
		}
	}
	return sequence.Date{}, false
}

// readEventsCSV parses the unified event table from a csv file.
func readEventsCSV(path string, dotless bool) ([]sequence.Event, error) {
	fmt.Println("Parsing events from CSV file: ", path)
	in, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer in.Close()
	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read events header: %w", err)
	}
	cm, err := columnIndex(header, eventColumns)
	if err != nil {
		return nil, err
	}
	events := []sequence.Event{}
	badDateCtr := 0
	badCodeCtr := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		date, ok := parseVisitDate(record[cm["visit_date"]])
		if !ok {
			badDateCtr++
			continue
		}
		system := strings.ToUpper(strings.TrimSpace(record[cm["coding_system"]]))
		code := icd.Normalize(record[cm["code"]], system, dotless)
		if !icd.IsValidDiag(code) {
			badCodeCtr++
			continue
		}
		events = append(events, sequence.Event{
			PatientID: record[cm["patient_id"]],
			VisitID:   record[cm["visit_id"]],
			Date:      date,
			Code:      code,
			System:    system,
		})
	}
	events = finalizeEvents(events, badDateCtr, badCodeCtr)
	return events, nil
}

// finalizeEvents sorts, deduplicates, and summarizes a freshly loaded event
// list. Shared by all loaders.
func finalizeEvents(events []sequence.Event, badDateCtr, badCodeCtr int) []sequence.Event {
	parsed := len(events)
	sequence.SortEvents(events)
	events = sequence.CompactEvents(events)
	fmt.Print("Parsed ", parsed, " events ")
	fmt.Print("of which ", parsed-len(events), " duplicates removed; dropped ", badDateCtr,
		" rows with unparseable dates ")
	fmt.Println("and ", badCodeCtr, " rows with invalid codes.")
	return events
}

// WriteEventsCSV writes the unified event table as a csv file.
func WriteEventsCSV(path string, events []sequence.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create events csv: %w", err)
	}
	writer := csv.NewWriter(f)
	if err := writer.Write(eventColumns); err != nil {
		f.Close()
		return fmt.Errorf("write events header: %w", err)
	}
	for _, e := range events {
		record := []string{
			e.PatientID,
			e.VisitID,
			fmt.Sprintf("%04d-%02d-%02d", e.Date.Year, e.Date.Month, e.Date.Day),
			e.Code,
			e.System,
		}
		if err := writer.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("write event: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush events csv: %w", err)
	}
	return f.Close()
}

// RemapICD9 rewrites ICD9-coded events onto their ICD10 equivalents using a
// mapping loaded with icd.ParseIcd9ToIcd10Mapping. ICD9 codes without a
// mapping are left as they are; they remain usable as history but will not
// match ICD10 vocabulary entries. The mapping keys and values may be dotted;
// both sides are normalized before use.
func RemapICD9(events []sequence.Event, mapping map[string]string, dotless bool) []sequence.Event {
	normalized := make(map[string]string, len(mapping))
	for icd9, icd10 := range mapping {
		normalized[icd.Normalize(icd9, sequence.ICD9, dotless)] = icd.Normalize(icd10, sequence.ICD10, dotless)
	}
	remapCtr := 0
	for i, e := range events {
		if e.System != sequence.ICD9 {
			continue
		}
		if icd10, ok := normalized[e.Code]; ok && icd.IsValidDiag(icd10) {
			events[i].Code = icd10
			events[i].System = sequence.ICD10
			remapCtr++
		}
	}
	fmt.Println("Remapped ", remapCtr, " ICD9 events to ICD10.")
	sequence.SortEvents(events)
	return sequence.CompactEvents(events)
}
