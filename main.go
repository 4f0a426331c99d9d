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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"icdseq/app"
	"icdseq/config"
	"icdseq/icd"
	"icdseq/sequence"
	"icdseq/utils"
	"icdseq/vocab"
)

/*
Icdseq prepares longitudinal diagnosis data for supervised sequence
modeling.

Usage:
	icdseq convert version diagnosesFile admissionsFile outFile [flags]
	icdseq prepare eventsFile outputPath [flags]

Example:
	icdseq convert iv diagnoses_icd.csv.gz admissions.csv.gz events.parquet
	icdseq prepare events.parquet ./run1/ --historyYears 5 --minYear 2008
	--maxYear 2019 --trainUntil 2016 --valUntil 2017 --minPatients 100
	--topK 512 --name run1

The convert command turns a MIMIC-III or MIMIC-IV diagnoses table, joined
to the admissions table on hadm_id, into the unified event schema
(patient_id, visit_id, visit_date, code, coding_system).

The prepare command loads a unified event table (csv, csv.gz, parquet, or
sas7bdat), builds or loads the label vocabulary, constructs yearly history
windows with multi-hot target vectors, and writes train, validation, and
test example sets as parquet files. The temporal split is derived from each
example's target year.

The prepare flags are:

--historyYears nr
	The number of past years in each history window. An example for target
	year Y covers exactly the years [Y-historyYears, Y-1].
--minYear nr and --maxYear nr
	The valid year range. Events outside the range are ignored, and a target
	year only produces an example when its full history window lies inside
	the range.
--trainUntil nr and --valUntil nr
	The temporal split cutoffs. Target years up to trainUntil go to the
	training set, up to valUntil to the validation set, and later years to
	the test set. trainUntil must precede valUntil.
--minPatients nr
	The minimum number of distinct patients a code must occur in to enter
	the label vocabulary.
--topK nr
	If positive, keep only the topK most prevalent vocabulary codes.
--keepDots
	Keep dots in diagnosis codes instead of removing them.
--dropNegatives
	Drop examples whose target vector is all zero. By default they are kept
	to avoid selection bias toward patients who always have a qualifying
	diagnosis.
--sampleFrac nr and --sampleSeed nr
	Estimate vocabulary prevalence from a reproducible random fraction of
	patients instead of all of them.
--ICD9ToICD10File file
	A json file that maps ICD9 onto ICD10 codes. With this mapping all
	diagnosis codes are converted to ICD10 before vocabulary construction.
--vocabFile file
	Load the vocabulary from a previously saved artifact instead of building
	it from the events.
--name string
	The name of the run, used to generate the names of the output files.
--config file
	Read all of the above options from a TOML file instead. Explicit flags
	are ignored when a config file is given.
--nrOfThreads nr
	The number of threads icdseq uses.
*/

const (
	programVersion = 0.1
	programName    = "icdseq"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const icdseqHelp = "\nicdseq commands:\n" +
	"icdseq convert version diagnosesFile admissionsFile outFile [--keepDots]\n" +
	"icdseq prepare eventsFile outputPath \n" +
	"[--historyYears nr]\n" +
	"[--minYear nr]\n" +
	"[--maxYear nr]\n" +
	"[--trainUntil nr]\n" +
	"[--valUntil nr]\n" +
	"[--minPatients nr]\n" +
	"[--topK nr]\n" +
	"[--keepDots]\n" +
	"[--dropNegatives]\n" +
	"[--sampleFrac nr]\n" +
	"[--sampleSeed nr]\n" +
	"[--ICD9ToICD10File file]\n" +
	"[--vocabFile file]\n" +
	"[--name string]\n" +
	"[--config file]\n" +
	"[--nrOfThreads nr]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(io.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func getFileName(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return s
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, icdseqHelp)
		os.Exit(1)
	}
	switch os.Args[1] {
	case "convert":
		convertCommand()
	case "prepare":
		prepareCommand()
	default:
		fmt.Fprintln(os.Stderr, "Unknown command: ", os.Args[1])
		fmt.Fprint(os.Stderr, icdseqHelp)
		os.Exit(1)
	}
}

func convertCommand() {
	var keepDots bool
	var flags flag.FlagSet
	flags.BoolVar(&keepDots, "keepDots", false, "Keep dots in diagnosis codes.")
	parseFlags(flags, 6, icdseqHelp)
	version := getFileName(os.Args[2], icdseqHelp)
	diagnosesFile := getFileName(os.Args[3], icdseqHelp)
	admissionsFile := getFileName(os.Args[4], icdseqHelp)
	outFile := getFileName(os.Args[5], icdseqHelp)
	log.Println(programMessage())
	events, err := app.ConvertMIMIC(version, diagnosesFile, admissionsFile, keepDots)
	if err != nil {
		log.Fatal(err)
	}
	if filepath.Ext(outFile) == ".csv" {
		err = app.WriteEventsCSV(outFile, events)
	} else {
		err = app.WriteEventsParquet(outFile, events)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Wrote ", len(events), " events to ", outFile)
}

func prepareCommand() {
	var (
		// required parameters
		eventsFile string //The file with the unified event table.
		outputPath string //The path where output files are written.
		// optional flags
		cfg        config.Config
		keepDots   bool
		configFile string
	)
	var flags flag.FlagSet
	flags.IntVar(&cfg.HistoryYears, "historyYears", 5, "The number of past years in each history "+
		"window.")
	flags.IntVar(&cfg.MinYear, "minYear", 2008, "The lowest visit year considered valid.")
	flags.IntVar(&cfg.MaxYear, "maxYear", 2019, "The highest visit year considered valid.")
	flags.IntVar(&cfg.TrainUntil, "trainUntil", 2016, "The last target year assigned to the "+
		"training set.")
	flags.IntVar(&cfg.ValUntil, "valUntil", 2017, "The last target year assigned to the "+
		"validation set.")
	flags.IntVar(&cfg.MinPatients, "minPatients", 100, "The minimum number of distinct patients "+
		"a code needs to enter the vocabulary.")
	flags.IntVar(&cfg.TopK, "topK", 0, "If positive, cap the vocabulary at this many codes.")
	flags.BoolVar(&keepDots, "keepDots", false, "Keep dots in diagnosis codes.")
	flags.BoolVar(&cfg.DropNegatives, "dropNegatives", false, "Drop examples whose target vector "+
		"is all zero.")
	flags.Float64Var(&cfg.SampleFrac, "sampleFrac", 1.0, "The fraction of patients used for "+
		"vocabulary prevalence counting.")
	flags.IntVar(&cfg.SampleSeed, "sampleSeed", 42, "The seed for the vocabulary sampling "+
		"generator.")
	flags.StringVar(&cfg.ICD9To10File, "ICD9ToICD10File", "", "A json file that maps ICD9 to "+
		"ICD10 codes.")
	flags.StringVar(&cfg.VocabFile, "vocabFile", "", "Load the vocabulary from a previously "+
		"saved artifact.")
	flags.StringVar(&cfg.Name, "name", "exp1", "The name of the run. This is used to generate "+
		"the names of the output files.")
	flags.StringVar(&configFile, "config", "", "Read the run options from a TOML file.")
	flags.IntVar(&cfg.NrOfThreads, "nrOfThreads", 0, "The number of threads icdseq uses.")
	// parse optional arguments
	parseFlags(flags, 4, icdseqHelp)
	// parse required arguments
	eventsFile = getFileName(os.Args[2], icdseqHelp)
	outputPath, _ = filepath.Abs(getFileName(os.Args[3], icdseqHelp))
	cfg.Dotless = !keepDots
	if configFile != "" {
		loaded, err := config.ReadConfig(configFile)
		if err != nil {
			log.Fatal(err)
		}
		cfg = *loaded
	}
	fmt.Println("Output path: ", outputPath)
	// create output directory
	if err := os.MkdirAll(outputPath, 0700); err != nil {
		log.Fatal(err)
	}
	// build an output command line
	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " prepare ", eventsFile, " ", outputPath)
	fmt.Fprint(&command, " --historyYears ", cfg.HistoryYears)
	fmt.Fprint(&command, " --minYear ", cfg.MinYear)
	fmt.Fprint(&command, " --maxYear ", cfg.MaxYear)
	fmt.Fprint(&command, " --trainUntil ", cfg.TrainUntil)
	fmt.Fprint(&command, " --valUntil ", cfg.ValUntil)
	fmt.Fprint(&command, " --minPatients ", cfg.MinPatients)
	fmt.Fprint(&command, " --topK ", cfg.TopK)
	fmt.Fprint(&command, " --name ", cfg.Name)
	if !cfg.Dotless {
		fmt.Fprint(&command, " --keepDots")
	}
	if cfg.DropNegatives {
		fmt.Fprint(&command, " --dropNegatives")
	}
	if cfg.SampleFrac > 0 && cfg.SampleFrac < 1.0 {
		fmt.Fprint(&command, " --sampleFrac ", cfg.SampleFrac)
		fmt.Fprint(&command, " --sampleSeed ", cfg.SampleSeed)
	}
	if cfg.ICD9To10File != "" {
		fmt.Fprint(&command, " --ICD9ToICD10File ", cfg.ICD9To10File)
	}
	if cfg.VocabFile != "" {
		fmt.Fprint(&command, " --vocabFile ", cfg.VocabFile)
	}
	if cfg.NrOfThreads > 0 {
		runtime.GOMAXPROCS(cfg.NrOfThreads)
		fmt.Fprint(&command, " --nrOfThreads ", cfg.NrOfThreads)
	}
	// start execution
	log.Println(programMessage())
	log.Println("Executing command:\n", command.String())
	//1. Load the unified event table
	events, err := app.LoadEvents(eventsFile, cfg.Dotless)
	if err != nil {
		log.Fatal(err)
	}
	//2. Optionally remap ICD9 codes to ICD10
	if cfg.ICD9To10File != "" {
		mapping, err := icd.ParseIcd9ToIcd10Mapping(cfg.ICD9To10File)
		if err != nil {
			log.Fatal(err)
		}
		events = app.RemapICD9(events, mapping, cfg.Dotless)
	}
	//3. Build the label vocabulary, or load it from a previous run
	var labels vocab.Vocabulary
	if cfg.VocabFile != "" {
		labels, err = vocab.Load(cfg.VocabFile)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("Loaded vocabulary of ", len(labels), " codes from ", cfg.VocabFile)
	} else {
		labels = vocab.BuildSampled(events, cfg.MinPatients, cfg.TopK, cfg.SampleFrac, uint32(cfg.SampleSeed))
	}
	vocabPath := filepath.Join(outputPath, fmt.Sprintf("%s.vocab.json", cfg.Name))
	if err := labels.Save(vocabPath); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Saved vocabulary to ", vocabPath)
	//4. Build the yearly sequences and apply the temporal split
	seqCfg := sequence.Config{
		HistoryYears:  cfg.HistoryYears,
		MinYear:       cfg.MinYear,
		MaxYear:       cfg.MaxYear,
		TrainUntil:    cfg.TrainUntil,
		ValUntil:      cfg.ValUntil,
		DropNegatives: cfg.DropNegatives,
	}
	train, val, test, err := sequence.BuildSequences(events, labels, seqCfg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Built ", len(train), " train, ", len(val), " validation, and ", len(test),
		" test examples.")
	//5. Persist the three example sets
	if err := app.WriteExampleSets(outputPath, cfg.Name, train, val, test); err != nil {
		log.Fatal(err)
	}
	fmt.Println("First training examples: ")
	for i := 0; i < utils.MinInt(len(train), 5); i++ {
		ex := train[i]
		fmt.Println(ex.PatientID, " target year ", ex.TargetYear, " history years ", ex.HistYears,
			" target labels ", countOnes(ex.TargetMultiHot))
	}
}

func countOnes(multiHot []int) int {
	ctr := 0
	for _, bit := range multiHot {
		ctr += bit
	}
	return ctr
}
