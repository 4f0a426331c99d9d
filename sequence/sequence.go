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

// Package sequence converts per-patient diagnosis event streams into yearly
// training examples. For every year in which a patient has at least one
// event, it assembles a bounded history window of the immediately preceding
// years and a multi-hot target vector over a frozen label vocabulary, then
// assigns the example to the train, validation, or test set based on its
// target year. The split is temporal: no example's history window reaches
// into its own target year or beyond.
package sequence

import (
	"fmt"
	"sort"

	"github.com/exascience/pargo/parallel"
)

const (
	ICD9  = "ICD9"
	ICD10 = "ICD10"
)

// Date represents the date of a patient visit, with fields for the year,
// month, and day of admission.
type Date struct {
	Year, Month, Day int
}

// DateSmallerThan compares two visit dates chronologically.
func DateSmallerThan(d1, d2 Date) bool {
	if d1.Year != d2.Year {
		return d1.Year < d2.Year
	}
	if d1.Month != d2.Month {
		return d1.Month < d2.Month
	}
	return d1.Day < d2.Day
}

// Event represents a single normalized diagnosis event. Events are validated
// and normalized by the loaders before they reach this package: Code is a
// canonical code string and Date carries a parsed calendar date.
type Event struct {
	PatientID string //patient identifier from the input
	VisitID   string //visit/admission identifier from the input
	Date      Date   //date of the visit the diagnosis was recorded at
	Code      string //normalized diagnosis code
	System    string //coding system the code originates from, ICD9 or ICD10
}

// eventEqual checks if two events are the same tuple.
func eventEqual(e1, e2 Event) bool {
	return e1.PatientID == e2.PatientID && e1.VisitID == e2.VisitID &&
		e1.Date == e2.Date && e1.Code == e2.Code && e1.System == e2.System
}

// SortEvents orders a list of events by patient, date, visit, and code. This
// gives loaders a canonical order so that duplicate removal and history
// construction are deterministic regardless of input row order.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].PatientID != events[j].PatientID {
			return events[i].PatientID < events[j].PatientID
		}
		if events[i].Date != events[j].Date {
			return DateSmallerThan(events[i].Date, events[j].Date)
		}
		if events[i].VisitID != events[j].VisitID {
			return events[i].VisitID < events[j].VisitID
		}
		if events[i].Code != events[j].Code {
			return events[i].Code < events[j].Code
		}
		return events[i].System < events[j].System
	})
}

// CompactEvents removes exact duplicate tuples from a sorted event list.
// Want to avoid over counting diagnoses that were exported twice.
func CompactEvents(events []Event) []Event {
	if len(events) <= 1 {
		return events
	}
	cur := events[0]
	compacted := events[:1]
	for _, e := range events[1:] {
		if !eventEqual(cur, e) {
			cur = e
			compacted = append(compacted, e)
		}
	}
	return compacted
}

// Config bundles the parameters of sequence construction. It is passed
// explicitly into BuildSequences; there is no ambient configuration state.
type Config struct {
	HistoryYears  int  //window length H, in years
	MinYear       int  //lowest visit year considered valid
	MaxYear       int  //highest visit year considered valid
	TrainUntil    int  //last target year assigned to the training set
	ValUntil      int  //last target year assigned to the validation set
	DropNegatives bool //drop examples whose target vector is all zero
}

// Validate rejects configurations that make the window check or the temporal
// split meaningless. These are configuration errors and surface immediately;
// they are never recovered per record.
func (cfg Config) Validate() error {
	if cfg.HistoryYears <= 0 {
		return fmt.Errorf("invalid configuration: history years must be positive, got %d", cfg.HistoryYears)
	}
	if cfg.MinYear > cfg.MaxYear {
		return fmt.Errorf("invalid configuration: min year %d exceeds max year %d", cfg.MinYear, cfg.MaxYear)
	}
	if cfg.TrainUntil >= cfg.ValUntil {
		return fmt.Errorf("invalid configuration: train cutoff %d must precede validation cutoff %d", cfg.TrainUntil, cfg.ValUntil)
	}
	return nil
}

// Example is one training example: the codes of HistoryYears consecutive
// years immediately preceding TargetYear, and a multi-hot vector marking
// which vocabulary codes the patient was diagnosed with in TargetYear.
type Example struct {
	PatientID      string     //patient the example was derived from
	TargetYear     int        //year whose diagnoses the target vector encodes
	HistYears      []int      //exactly [TargetYear-H, ..., TargetYear-1]
	HistCodes      [][]string //codes per history year, aligned 1:1 with HistYears
	TargetMultiHot []int      //0/1 vector of vocabulary width
}

// BuildSequences constructs all yearly examples for the given events and
// label vocabulary, partitioned into train, validation, and test sets by
// target year. Events outside [MinYear, MaxYear] are ignored. A patient
// contributes one candidate example per distinct in-range year; the
// candidate is emitted only when the full history window lies inside the
// valid year range. Duplicate codes within a history year are preserved so
// that the history reflects raw diagnosis frequency; target codes are
// deduplicated. Codes outside the vocabulary appear in histories but never
// in target vectors.
//
// Patients are processed in parallel; the output order is deterministic
// (sorted by patient ID, then target year) independent of scheduling.
func BuildSequences(events []Event, labelToID map[string]int, cfg Config) (train, val, test []Example, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	byPatient := map[string][]Event{}
	for _, e := range events {
		if e.Date.Year < cfg.MinYear || e.Date.Year > cfg.MaxYear {
			continue
		}
		byPatient[e.PatientID] = append(byPatient[e.PatientID], e)
	}
	pids := make([]string, 0, len(byPatient))
	for pid := range byPatient {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	// divide the work over patients; each patient's examples are independent
	result := parallel.RangeReduce(0, len(pids), 0, func(low, high int) interface{} {
		examples := []Example{}
		for _, pid := range pids[low:high] {
			examples = append(examples, buildPatientExamples(pid, byPatient[pid], labelToID, cfg)...)
		}
		return examples
	}, func(result1, result2 interface{}) interface{} {
		return append(result1.([]Example), result2.([]Example)...)
	})
	all := result.([]Example)
	sort.Slice(all, func(i, j int) bool {
		if all[i].PatientID != all[j].PatientID {
			return all[i].PatientID < all[j].PatientID
		}
		return all[i].TargetYear < all[j].TargetYear
	})
	train = []Example{}
	val = []Example{}
	test = []Example{}
	for _, ex := range all {
		switch {
		case ex.TargetYear <= cfg.TrainUntil:
			train = append(train, ex)
		case ex.TargetYear <= cfg.ValUntil:
			val = append(val, ex)
		default:
			test = append(test, ex)
		}
	}
	return train, val, test, nil
}

// buildPatientExamples emits the examples of a single patient. Events are
// sorted into canonical order first so that the code order within a history
// year does not depend on input row order.
func buildPatientExamples(pid string, events []Event, labelToID map[string]int, cfg Config) []Example {
	SortEvents(events)
	codesByYear := map[int][]string{}
	for _, e := range events {
		codesByYear[e.Date.Year] = append(codesByYear[e.Date.Year], e.Code)
	}
	years := make([]int, 0, len(codesByYear))
	for y := range codesByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	k := len(labelToID)
	var examples []Example
	for _, target := range years {
		start := target - cfg.HistoryYears
		if start < cfg.MinYear {
			continue // not enough observable history for this target year
		}
		histYears := make([]int, 0, cfg.HistoryYears)
		histCodes := make([][]string, 0, cfg.HistoryYears)
		for y := start; y < target; y++ {
			histYears = append(histYears, y)
			histCodes = append(histCodes, append([]string{}, codesByYear[y]...))
		}
		multiHot := make([]int, k)
		targets := 0
		seen := map[string]bool{}
		for _, c := range codesByYear[target] {
			if seen[c] {
				continue
			}
			seen[c] = true
			if id, ok := labelToID[c]; ok {
				multiHot[id] = 1
				targets++
			}
		}
		if targets == 0 && cfg.DropNegatives {
			continue
		}
		examples = append(examples, Example{
			PatientID:      pid,
			TargetYear:     target,
			HistYears:      histYears,
			HistCodes:      histCodes,
			TargetMultiHot: multiHot,
		})
	}
	return examples
}
