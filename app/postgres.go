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
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"icdseq/icd"
	"icdseq/sequence"
)

// DefaultEventQuery reads the unified event table from a database. MIMIC is
// commonly hosted in PostgreSQL; a staging view with these five columns is
// all the pipeline needs.
const DefaultEventQuery = `SELECT patient_id, visit_id, visit_date::text, code, coding_system FROM events`

// LoadEventsFromPostgres loads events over a pgx connection pool. The query
// must yield the five unified columns as text, in order. Row-level recovery
// matches the file loaders: unparseable dates and invalid codes are dropped
// and counted, duplicates removed.
func LoadEventsFromPostgres(ctx context.Context, connStr, query string, dotless bool) ([]sequence.Event, error) {
	if query == "" {
		query = DefaultEventQuery
	}
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	poolConfig.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	fmt.Println("Loading events from PostgreSQL...")
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	events := []sequence.Event{}
	badDateCtr := 0
	badCodeCtr := 0
	for rows.Next() {
		var patientID, visitID, visitDate, rawCode, codingSystem string
		if err := rows.Scan(&patientID, &visitID, &visitDate, &rawCode, &codingSystem); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		date, ok := parseVisitDate(visitDate)
		if !ok {
			badDateCtr++
			continue
		}
		system := strings.ToUpper(strings.TrimSpace(codingSystem))
		code := icd.Normalize(rawCode, system, dotless)
		if !icd.IsValidDiag(code) {
			badCodeCtr++
			continue
		}
		events = append(events, sequence.Event{
			PatientID: patientID,
			VisitID:   visitID,
			Date:      date,
			Code:      code,
			System:    system,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read event rows: %w", err)
	}
	return finalizeEvents(events, badDateCtr, badCodeCtr), nil
}
