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
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"icdseq/sequence"
)

func TestWriteReadEventsParquetRoundTrip(t *testing.T) {
	events := []sequence.Event{
		{PatientID: "p1", VisitID: "v1", Date: sequence.Date{Year: 2018, Month: 1, Day: 15}, Code: "E119", System: sequence.ICD10},
		{PatientID: "p1", VisitID: "v2", Date: sequence.Date{Year: 2018, Month: 6, Day: 1}, Code: "25000", System: sequence.ICD9},
		{PatientID: "p2", VisitID: "v3", Date: sequence.Date{Year: 2019, Month: 3, Day: 1}, Code: "I10", System: sequence.ICD10},
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	if err := WriteEventsParquet(path, events); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadEvents(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded, events) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", loaded, events)
	}
}

func TestWriteReadExampleSets(t *testing.T) {
	train := []sequence.Example{
		{
			PatientID:      "p1",
			TargetYear:     2018,
			HistYears:      []int{2016, 2017},
			HistCodes:      [][]string{{"E119", "E119"}, {"I10"}},
			TargetMultiHot: []int{1, 0, 0},
		},
	}
	val := []sequence.Example{
		{
			PatientID:      "p1",
			TargetYear:     2019,
			HistYears:      []int{2017, 2018},
			HistCodes:      [][]string{{"E119"}, {"I10"}},
			TargetMultiHot: []int{0, 1, 0},
		},
	}
	test := []sequence.Example{}
	dir := t.TempDir()
	if err := WriteExampleSets(dir, "exp1", train, val, test); err != nil {
		t.Fatal(err)
	}
	for _, split := range []string{"train", "val", "test"} {
		if _, err := os.Stat(filepath.Join(dir, "exp1."+split+".parquet")); err != nil {
			t.Errorf("missing %s file: %v", split, err)
		}
	}
	loadedTrain, err := ReadExamples(filepath.Join(dir, "exp1.train.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loadedTrain, train) {
		t.Errorf("train round trip mismatch:\n got %v\nwant %v", loadedTrain, train)
	}
	loadedVal, err := ReadExamples(filepath.Join(dir, "exp1.val.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loadedVal, val) {
		t.Errorf("val round trip mismatch:\n got %v\nwant %v", loadedVal, val)
	}
	loadedTest, err := ReadExamples(filepath.Join(dir, "exp1.test.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(loadedTest) != 0 {
		t.Errorf("expected empty test set, got %v", loadedTest)
	}
}

func TestWriteExampleSetsNoPartialOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	if err := os.Mkdir(dir, 0555); err != nil {
		t.Fatal(err)
	}
	err := WriteExampleSets(dir, "exp1", nil, nil, nil)
	if err == nil {
		t.Skip("running as a user that ignores directory permissions")
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("partial output left behind: %v", entries)
	}
}
