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

// Package vocab builds the label vocabulary: a frozen, injective mapping
// from canonical diagnosis code to a dense integer index. Prevalence is
// counted at the patient level (how many distinct patients ever had the
// code), not at the event level, so chronic codes recorded at every visit
// do not dominate the vocabulary.
package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/valyala/fastrand"

	"icdseq/sequence"
)

// Vocabulary maps a canonical code string onto its label index in [0, K).
// It is built once per run and consumed read-only afterwards.
type Vocabulary map[string]int

// Build counts per-code patient-level prevalence over the full event table,
// discards codes seen in fewer than minPatients distinct patients, and
// assigns indices 0..K-1 in order of descending patient count. Ties break by
// code string ascending, so identical input always yields the identical
// vocabulary. If topK is positive, only the first topK codes after sorting
// are kept.
func Build(events []sequence.Event, minPatients, topK int) Vocabulary {
	patientsPerCode := map[string]map[string]bool{}
	for _, e := range events {
		ps, ok := patientsPerCode[e.Code]
		if !ok {
			ps = map[string]bool{}
			patientsPerCode[e.Code] = ps
		}
		ps[e.PatientID] = true // one exposure per patient
	}
	type codeCount struct {
		code string
		n    int
	}
	counts := []codeCount{}
	for code, ps := range patientsPerCode {
		if len(ps) >= minPatients {
			counts = append(counts, codeCount{code: code, n: len(ps)})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].n != counts[j].n {
			return counts[i].n > counts[j].n
		}
		return counts[i].code < counts[j].code
	})
	if topK > 0 && len(counts) > topK {
		counts = counts[:topK]
	}
	vocabulary := Vocabulary{}
	for i, cc := range counts {
		vocabulary[cc.code] = i
	}
	fmt.Println("Built vocabulary of ", len(vocabulary), " codes from ", len(patientsPerCode),
		" distinct codes (min patients: ", minPatients, ")")
	return vocabulary
}

// BuildSampled builds the vocabulary from a pseudo-random subset of
// patients. This trades exact prevalence counts for memory and time on very
// large event tables; frac >= 1 degenerates to Build over all patients. The
// selection is made without shuffling the patients, and the generator is
// seeded explicitly so a run is reproducible.
func BuildSampled(events []sequence.Event, minPatients, topK int, frac float64, seed uint32) Vocabulary {
	if frac >= 1.0 {
		return Build(events, minPatients, topK)
	}
	pids := map[string]bool{}
	for _, e := range events {
		pids[e.PatientID] = true
	}
	ordered := make([]string, 0, len(pids))
	for pid := range pids {
		ordered = append(ordered, pid)
	}
	sort.Strings(ordered)
	var rng fastrand.RNG
	rng.Seed(seed)
	threshold := uint32(frac * float64(1<<20))
	sampled := map[string]bool{}
	for _, pid := range ordered {
		if rng.Uint32n(1<<20) < threshold {
			sampled[pid] = true
		}
	}
	subset := []sequence.Event{}
	for _, e := range events {
		if sampled[e.PatientID] {
			subset = append(subset, e)
		}
	}
	fmt.Println("Sampled ", len(sampled), " of ", len(ordered), " patients for vocabulary construction")
	return Build(subset, minPatients, topK)
}

// artifact is the durable on-disk shape of a vocabulary.
type artifact struct {
	LabelToID map[string]int `json:"label_to_id"`
}

// Save persists the vocabulary as a json artifact so later pipeline stages
// can reuse it. The code -> index pairing round-trips exactly.
func (v Vocabulary) Save(path string) error {
	jsonBytes, err := json.MarshalIndent(artifact{LabelToID: v}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vocabulary: %w", err)
	}
	if err := os.WriteFile(path, jsonBytes, 0644); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}
	return nil
}

// Load reads a vocabulary artifact written by Save and verifies that it is a
// valid mapping: every index in [0, K) occurs exactly once.
func Load(path string) (Vocabulary, error) {
	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(jsonBytes, &a); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	v := Vocabulary(a.LabelToID)
	if v == nil {
		v = Vocabulary{}
	}
	seen := make([]bool, len(v))
	for code, id := range v {
		if id < 0 || id >= len(v) {
			return nil, fmt.Errorf("vocabulary index out of range for code %s: %d", code, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("vocabulary index %d assigned to more than one code", id)
		}
		seen[id] = true
	}
	return v, nil
}
