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
	"math"
	"os"
	"strings"
	"time"

	"github.com/kshedden/datareader"

	"icdseq/icd"
	"icdseq/sequence"
)

// SASColumns names the columns of a SAS7BDAT diagnoses extract. Claims
// extracts do not follow the unified header, so the mapping is explicit.
// System may be empty, in which case every code is taken to be ICD9 (the
// convention of older claims data). VisitID may be empty.
type SASColumns struct {
	PatientID string
	VisitID   string
	VisitDate string
	Code      string
	System    string
}

// DefaultSASColumns matches an extract that already uses the unified names.
var DefaultSASColumns = SASColumns{
	PatientID: "PATIENT_ID",
	VisitID:   "VISIT_ID",
	VisitDate: "VISIT_DATE",
	Code:      "CODE",
	System:    "CODING_SYSTEM",
}

// SAS stores dates as day counts from this epoch.
var sasEpoch = time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)

const sasChunkSize = 8192

// ReadEventsSAS reads a diagnoses table from a SAS7BDAT file. The date
// column may hold ISO strings or SAS numeric dates (days since 1960-01-01);
// both are handled. Rows with a missing or unparseable date or an invalid
// code are dropped and counted, duplicates removed.
func ReadEventsSAS(path string, cols SASColumns, dotless bool) ([]sequence.Event, error) {
	fmt.Println("Parsing events from SAS file: ", path)
	fid, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open SAS file: %w", err)
	}
	defer fid.Close()
	sas, err := datareader.NewSAS7BDATReader(fid)
	if err != nil {
		return nil, fmt.Errorf("read SAS file: %w", err)
	}
	sas.TrimStrings = true
	cm := make(map[string]int)
	for k, na := range sas.ColumnNames() {
		cm[strings.ToUpper(na)] = k
	}
	required := []string{cols.PatientID, cols.VisitDate, cols.Code}
	for _, name := range required {
		if _, ok := cm[strings.ToUpper(name)]; !ok {
			return nil, fmt.Errorf("required column %q not found in SAS file", name)
		}
	}
	events := []sequence.Event{}
	badDateCtr := 0
	badCodeCtr := 0
	for {
		data, err := sas.Read(sasChunkSize)
		if data == nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read SAS chunk: %w", err)
		}
		patientIDs, _, err := data[cm[strings.ToUpper(cols.PatientID)]].AsStringSlice()
		if err != nil {
			return nil, fmt.Errorf("read patient column: %w", err)
		}
		codes, _, err := data[cm[strings.ToUpper(cols.Code)]].AsStringSlice()
		if err != nil {
			return nil, fmt.Errorf("read code column: %w", err)
		}
		dates, dateMissing, err := sasDates(data[cm[strings.ToUpper(cols.VisitDate)]])
		if err != nil {
			return nil, fmt.Errorf("read date column: %w", err)
		}
		var visitIDs, systems []string
		if cols.VisitID != "" {
			if ii, ok := cm[strings.ToUpper(cols.VisitID)]; ok {
				visitIDs, _, _ = data[ii].AsStringSlice()
			}
		}
		if cols.System != "" {
			if ii, ok := cm[strings.ToUpper(cols.System)]; ok {
				systems, _, _ = data[ii].AsStringSlice()
			}
		}
		for i := range patientIDs {
			if dateMissing[i] {
				badDateCtr++
				continue
			}
			system := sequence.ICD9
			if systems != nil {
				if s := strings.ToUpper(strings.TrimSpace(systems[i])); s != "" {
					system = s
				}
			}
			code := icd.Normalize(codes[i], system, dotless)
			if !icd.IsValidDiag(code) {
				badCodeCtr++
				continue
			}
			visitID := ""
			if visitIDs != nil {
				visitID = visitIDs[i]
			}
			events = append(events, sequence.Event{
				PatientID: patientIDs[i],
				VisitID:   visitID,
				Date:      dates[i],
				Code:      code,
				System:    system,
			})
		}
	}
	return finalizeEvents(events, badDateCtr, badCodeCtr), nil
}

// sasDates decodes a date column that is either string ISO dates or SAS
// numeric dates. The missing mask marks rows whose date could not be
// decoded.
func sasDates(series *datareader.Series) ([]sequence.Date, []bool, error) {
	if values, missing, err := series.AsStringSlice(); err == nil && !allNumericMissing(values) {
		dates := make([]sequence.Date, len(values))
		out := make([]bool, len(values))
		for i, v := range values {
			if missing != nil && missing[i] {
				out[i] = true
				continue
			}
			d, ok := parseVisitDate(v)
			if !ok {
				out[i] = true
				continue
			}
			dates[i] = d
		}
		return dates, out, nil
	}
	values, missing, err := series.AsFloat64Slice()
	if err != nil {
		return nil, nil, err
	}
	dates := make([]sequence.Date, len(values))
	out := make([]bool, len(values))
	for i, v := range values {
		if (missing != nil && missing[i]) || math.IsNaN(v) {
			out[i] = true
			continue
		}
		t := sasEpoch.AddDate(0, 0, int(v))
		dates[i] = sequence.Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
	}
	return dates, out, nil
}

// allNumericMissing reports whether a string conversion produced no usable
// values, which happens when the underlying column is numeric.
func allNumericMissing(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
