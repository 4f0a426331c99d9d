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

package vocab

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"icdseq/sequence"
)

func event(pid string, year int, code string) sequence.Event {
	return sequence.Event{
		PatientID: pid,
		VisitID:   fmt.Sprint(pid, "-", year),
		Date:      sequence.Date{Year: year, Month: 3, Day: 1},
		Code:      code,
		System:    sequence.ICD10,
	}
}

// Three patients carry "A", one patient carries "B" (twice). With a floor of
// 2 patients only "A" survives, and counting is per patient, not per event.
func TestBuildPatientLevelCounting(t *testing.T) {
	events := []sequence.Event{
		event("p1", 2018, "A"),
		event("p2", 2018, "A"),
		event("p3", 2018, "A"),
		event("p4", 2018, "B"),
		event("p4", 2019, "B"),
	}
	v := Build(events, 2, 0)
	if !reflect.DeepEqual(v, Vocabulary{"A": 0}) {
		t.Errorf("wrong vocabulary: %v", v)
	}
}

func TestBuildOrderingAndTieBreak(t *testing.T) {
	events := []sequence.Event{}
	// "C" in 3 patients, "A" and "B" tied at 2 patients each
	for _, pid := range []string{"p1", "p2", "p3"} {
		events = append(events, event(pid, 2018, "C"))
	}
	for _, pid := range []string{"p1", "p2"} {
		events = append(events, event(pid, 2019, "A"))
		events = append(events, event(pid, 2019, "B"))
	}
	v := Build(events, 1, 0)
	want := Vocabulary{"C": 0, "A": 1, "B": 2}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("wrong ordering: %v", v)
	}
	// top_k truncates after ordering
	v = Build(events, 1, 2)
	want = Vocabulary{"C": 0, "A": 1}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("wrong truncation: %v", v)
	}
}

func TestBuildIndexInvariants(t *testing.T) {
	events := []sequence.Event{}
	for i := 0; i < 50; i++ {
		pid := fmt.Sprintf("p%02d", i)
		events = append(events, event(pid, 2018, fmt.Sprintf("C%02d", i%7)))
	}
	v := Build(events, 1, 0)
	seen := map[int]bool{}
	for _, id := range v {
		if id < 0 || id >= len(v) {
			t.Errorf("index %d out of range [0, %d)", id, len(v))
		}
		if seen[id] {
			t.Errorf("duplicate index %d", id)
		}
		seen[id] = true
	}
}

func TestBuildEmptyResult(t *testing.T) {
	events := []sequence.Event{event("p1", 2018, "A")}
	v := Build(events, 2, 0)
	if len(v) != 0 {
		t.Errorf("expected empty vocabulary, got %v", v)
	}
	if v := Build(nil, 1, 0); len(v) != 0 {
		t.Errorf("expected empty vocabulary for no events, got %v", v)
	}
}

// With a sampling fraction of 1 the sampled build must agree exactly with the
// full build, and a fixed seed must reproduce the same vocabulary.
func TestBuildSampled(t *testing.T) {
	events := []sequence.Event{}
	for i := 0; i < 100; i++ {
		pid := fmt.Sprintf("p%03d", i)
		events = append(events, event(pid, 2018, fmt.Sprintf("C%d", i%5)))
	}
	full := Build(events, 1, 0)
	sampled := BuildSampled(events, 1, 0, 1.0, 42)
	if !reflect.DeepEqual(full, sampled) {
		t.Errorf("sampled build with fraction 1 differs from full build")
	}
	s1 := BuildSampled(events, 1, 0, 0.5, 42)
	s2 := BuildSampled(events, 1, 0, 0.5, 42)
	if !reflect.DeepEqual(s1, s2) {
		t.Errorf("same seed produced different vocabularies")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	v := Vocabulary{"I10": 0, "E119": 1, "Z0000": 2}
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := v.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, loaded) {
		t.Errorf("round trip mismatch: %v != %v", loaded, v)
	}
}

func TestLoadRejectsInvalidArtifacts(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		body string
	}{
		{"gap", `{"label_to_id": {"A": 0, "B": 2}}`},
		{"duplicate", `{"label_to_id": {"A": 0, "B": 0}}`},
		{"negative", `{"label_to_id": {"A": -1}}`},
		{"garbage", `not json`},
	}
	for _, c := range cases {
		path := filepath.Join(dir, c.name+".json")
		if err := os.WriteFile(path, []byte(c.body), 0666); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}
