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

/*
Package config contains the run configuration for the prepare command. A
run can be configured entirely through command line flags or through a TOML
file holding the same options.
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {

	// Name of the run, used to generate output file names
	Name string

	// Number of past years in each history window
	HistoryYears int

	// Lowest visit year considered valid
	MinYear int

	// Highest visit year considered valid
	MaxYear int

	// Last target year assigned to the training set
	TrainUntil int

	// Last target year assigned to the validation set
	ValUntil int

	// Minimum number of distinct patients a code needs to enter the
	// vocabulary
	MinPatients int

	// If positive, cap the vocabulary at this many codes
	TopK int

	// Remove dots from codes during normalization
	Dotless bool

	// Drop examples whose target vector is all zero
	DropNegatives bool

	// Fraction of patients used for vocabulary prevalence counting; 1.0
	// uses all patients
	SampleFrac float64

	// Seed for the vocabulary sampling generator
	SampleSeed int

	// Path to a json file mapping ICD9 onto ICD10 codes; empty disables
	// remapping
	ICD9To10File string

	// Path to a previously saved vocabulary artifact; empty builds the
	// vocabulary from the events
	VocabFile string

	// The number of threads used; 0 keeps the runtime default
	NrOfThreads int
}

// ReadConfig returns the run configuration stored at the given file path.
func ReadConfig(filename string) (*Config, error) {
	config := new(Config)
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	if _, err := toml.Decode(string(b), config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}
