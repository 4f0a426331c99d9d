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

// Package icd implements normalization of raw diagnosis code strings into
// canonical ICD9/ICD10 codes, plus loading of an ICD9 -> ICD10 remapping
// table. The input data mixes coding systems and formatting conventions
// (dotted vs dotless codes, stray whitespace, lowercase), so every code is
// pushed through Normalize before it reaches the vocabulary or sequence
// packages.
package icd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Normalize maps a raw diagnosis code onto its canonical form: trim
// whitespace, uppercase, drop every character that is not alphanumeric or a
// literal dot, and finally remove the dots when dotless codes are requested.
// An input that filters down to nothing yields the empty string, which is
// treated as an invalid code downstream, never as an error. The coding
// system is accepted for symmetry with the loaders but normalization does
// not branch on it.
func Normalize(code, system string, dotless bool) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	var b strings.Builder
	for _, r := range c {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	c = b.String()
	if dotless {
		c = strings.ReplaceAll(c, ".", "")
	}
	return c
}

// IsValidDiag reports whether a normalized code can be used as a diagnosis.
func IsValidDiag(code string) bool {
	return code != ""
}

// ParseIcd9ToIcd10Mapping loads a json file that maps ICD9 codes onto ICD10
// codes. The input data may mix ICD9 and ICD10 diagnoses; with this mapping
// all codes can be converted to ICD10 before vocabulary construction.
func ParseIcd9ToIcd10Mapping(file string) (map[string]string, error) {
	jsonBytes, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("open ICD9 to ICD10 mapping: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(jsonBytes, &mapping); err != nil {
		return nil, fmt.Errorf("parse ICD9 to ICD10 mapping: %w", err)
	}
	return mapping, nil
}
