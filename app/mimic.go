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
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"icdseq/icd"
	"icdseq/sequence"
)

// MIMIC version identifiers accepted by ConvertMIMIC.
const (
	MIMIC3 = "iii"
	MIMIC4 = "iv"
)

// ConvertMIMIC converts a MIMIC-III or MIMIC-IV diagnoses table into the
// unified event schema. The diagnoses table carries no dates of its own, so
// it is joined to the admissions table on hadm_id to derive the visit date
// from the admission time. MIMIC-III diagnoses are all ICD9; MIMIC-IV rows
// carry an icd_version column. Diagnoses without a matching admission or
// with an unparseable admission time are dropped and counted. Both tables
// are csv files, optionally gzipped, as distributed on PhysioNet.
func ConvertMIMIC(version, diagnosesPath, admissionsPath string, keepDots bool) ([]sequence.Event, error) {
	if version != MIMIC3 && version != MIMIC4 {
		return nil, fmt.Errorf("unknown MIMIC version: %q (expected %q or %q)", version, MIMIC3, MIMIC4)
	}
	admitTimes, err := parseAdmissions(admissionsPath)
	if err != nil {
		return nil, err
	}
	fmt.Println("Parsing MIMIC-", version, " diagnoses from: ", diagnosesPath)
	in, err := openMaybeGzip(diagnosesPath)
	if err != nil {
		return nil, fmt.Errorf("open diagnoses: %w", err)
	}
	defer in.Close()
	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read diagnoses header: %w", err)
	}
	required := []string{"subject_id", "hadm_id", "icd9_code"}
	if version == MIMIC4 {
		required = []string{"subject_id", "hadm_id", "icd_code", "icd_version"}
	}
	cm, err := columnIndex(header, required)
	if err != nil {
		return nil, err
	}
	events := []sequence.Event{}
	unjoinedCtr := 0
	badDateCtr := 0
	badCodeCtr := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read diagnoses: %w", err)
		}
		hadmID := strings.TrimSpace(record[cm["hadm_id"]])
		admitTime, ok := admitTimes[hadmID]
		if !ok {
			unjoinedCtr++
			continue
		}
		date, ok := parseVisitDate(admitTime)
		if !ok {
			badDateCtr++
			continue
		}
		system := sequence.ICD9
		rawCode := ""
		if version == MIMIC3 {
			rawCode = record[cm["icd9_code"]]
		} else {
			rawCode = record[cm["icd_code"]]
			if strings.TrimSpace(record[cm["icd_version"]]) != "9" {
				system = sequence.ICD10
			}
		}
		code := icd.Normalize(rawCode, system, !keepDots)
		if !icd.IsValidDiag(code) {
			badCodeCtr++
			continue
		}
		events = append(events, sequence.Event{
			PatientID: strings.TrimSpace(record[cm["subject_id"]]),
			VisitID:   hadmID,
			Date:      date,
			Code:      code,
			System:    system,
		})
	}
	fmt.Println("Skipped ", unjoinedCtr, " diagnoses without a matching admission.")
	return finalizeEvents(events, badDateCtr, badCodeCtr), nil
}

// parseAdmissions reads the admissions table into a map hadm_id -> admittime.
func parseAdmissions(path string) (map[string]string, error) {
	fmt.Println("Parsing admissions from: ", path)
	in, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open admissions: %w", err)
	}
	defer in.Close()
	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read admissions header: %w", err)
	}
	cm, err := columnIndex(header, []string{"hadm_id", "admittime"})
	if err != nil {
		return nil, err
	}
	admitTimes := map[string]string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read admissions: %w", err)
		}
		admitTimes[strings.TrimSpace(record[cm["hadm_id"]])] = record[cm["admittime"]]
	}
	fmt.Println("Parsed ", len(admitTimes), " admissions.")
	return admitTimes, nil
}
