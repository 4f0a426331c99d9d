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

package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"icdseq/icd"
	"icdseq/sequence"
)

// Flush row groups periodically to bound memory usage on large tables.
const parquetFlushInterval = 100_000

// eventRow is the Parquet shape of the unified event table. The visit date
// stays an ISO string so the files are interchangeable with the CSV form.
type eventRow struct {
	PatientID    string `parquet:"patient_id"`
	VisitID      string `parquet:"visit_id"`
	VisitDate    string `parquet:"visit_date"`
	Code         string `parquet:"code"`
	CodingSystem string `parquet:"coding_system"`
}

// exampleRow is the Parquet shape of one training example.
type exampleRow struct {
	PatientID      string     `parquet:"patient_id"`
	TargetYear     int32      `parquet:"target_year"`
	HistYears      []int32    `parquet:"hist_years,list"`
	HistCodes      [][]string `parquet:"hist_codes,list"`
	TargetMultiHot []int32    `parquet:"target_multi_hot,list"`
}

// readEventsParquet reads the unified event table from a Parquet file. The
// same per-row recovery applies as for CSV: bad dates and invalid codes are
// dropped and counted, duplicates removed.
func readEventsParquet(path string, dotless bool) ([]sequence.Event, error) {
	fmt.Println("Parsing events from Parquet file: ", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events parquet: %w", err)
	}
	defer f.Close()
	reader := parquet.NewGenericReader[eventRow](f)
	defer reader.Close()
	events := []sequence.Event{}
	badDateCtr := 0
	badCodeCtr := 0
	buf := make([]eventRow, 8192)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			date, ok := parseVisitDate(row.VisitDate)
			if !ok {
				badDateCtr++
				continue
			}
			system := strings.ToUpper(strings.TrimSpace(row.CodingSystem))
			code := icd.Normalize(row.Code, system, dotless)
			if !icd.IsValidDiag(code) {
				badCodeCtr++
				continue
			}
			events = append(events, sequence.Event{
				PatientID: row.PatientID,
				VisitID:   row.VisitID,
				Date:      date,
				Code:      code,
				System:    system,
			})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read events parquet: %w", err)
		}
	}
	return finalizeEvents(events, badDateCtr, badCodeCtr), nil
}

// WriteEventsParquet writes the unified event table as a Parquet file.
func WriteEventsParquet(path string, events []sequence.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create events parquet: %w", err)
	}
	writer := parquet.NewGenericWriter[eventRow](f, parquet.Compression(&parquet.Snappy))
	for i, e := range events {
		row := eventRow{
			PatientID:    e.PatientID,
			VisitID:      e.VisitID,
			VisitDate:    fmt.Sprintf("%04d-%02d-%02d", e.Date.Year, e.Date.Month, e.Date.Day),
			Code:         e.Code,
			CodingSystem: e.System,
		}
		if _, err := writer.Write([]eventRow{row}); err != nil {
			f.Close()
			return fmt.Errorf("write event row: %w", err)
		}
		if (i+1)%parquetFlushInterval == 0 {
			if err := writer.Flush(); err != nil {
				f.Close()
				return fmt.Errorf("flush events parquet: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close events parquet: %w", err)
	}
	return f.Close()
}

// WriteExampleSets persists the three example sets of a run as
// <name>.train.parquet, <name>.val.parquet, and <name>.test.parquet under
// dir. A run never leaves a partial triple behind: on any error the files
// written so far are removed.
func WriteExampleSets(dir, name string, train, val, test []sequence.Example) error {
	sets := []struct {
		split    string
		examples []sequence.Example
	}{
		{"train", train},
		{"val", val},
		{"test", test},
	}
	written := []string{}
	for _, set := range sets {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s.parquet", name, set.split))
		if err := writeExamples(path, set.examples); err != nil {
			for _, p := range written {
				os.Remove(p)
			}
			os.Remove(path)
			return fmt.Errorf("write %s set: %w", set.split, err)
		}
		written = append(written, path)
		fmt.Println("Wrote ", len(set.examples), " ", set.split, " examples to ", path)
	}
	return nil
}

// writeExamples writes one example set as a Parquet file.
func writeExamples(path string, examples []sequence.Example) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := parquet.NewGenericWriter[exampleRow](f, parquet.Compression(&parquet.Snappy))
	for i, ex := range examples {
		row := exampleRow{
			PatientID:      ex.PatientID,
			TargetYear:     int32(ex.TargetYear),
			HistYears:      toInt32(ex.HistYears),
			HistCodes:      ex.HistCodes,
			TargetMultiHot: toInt32(ex.TargetMultiHot),
		}
		if _, err := writer.Write([]exampleRow{row}); err != nil {
			f.Close()
			return err
		}
		if (i+1)%parquetFlushInterval == 0 {
			if err := writer.Flush(); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadExamples reads one example set back from a Parquet file.
func ReadExamples(path string) ([]sequence.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open examples parquet: %w", err)
	}
	defer f.Close()
	reader := parquet.NewGenericReader[exampleRow](f)
	defer reader.Close()
	examples := []sequence.Example{}
	buf := make([]exampleRow, 1024)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			examples = append(examples, sequence.Example{
				PatientID:      row.PatientID,
				TargetYear:     int(row.TargetYear),
				HistYears:      toInt(row.HistYears),
				HistCodes:      row.HistCodes,
				TargetMultiHot: toInt(row.TargetMultiHot),
			})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read examples parquet: %w", err)
		}
	}
	return examples, nil
}

func toInt32(xs []int) []int32 {
	ys := make([]int32, len(xs))
	for i, x := range xs {
		ys[i] = int32(x)
	}
	return ys
}

func toInt(xs []int32) []int {
	ys := make([]int, len(xs))
	for i, x := range xs {
		ys[i] = int(x)
	}
	return ys
}
