/*
NaiveSystems TestLab - A tool for test suite and security analysis
Copyright (C) 2023  Naive Systems Ltd.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package store uploads commit metrics to PostgreSQL so scans of many
// projects can be queried in one place.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Row mirrors one line of the commit metrics CSV.
type Row struct {
	ProjectName      string
	CommitHash       string
	Author           string
	Date             string
	Message          string
	HighConfidence   int
	MediumConfidence int
	LowConfidence    int
	HighSeverity     int
	MediumSeverity   int
	LowSeverity      int
	UniqueCWEs       string
}

const createTableSQL = `CREATE TABLE IF NOT EXISTS commit_metrics (
	project_name TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	author TEXT,
	committed_at TIMESTAMP,
	message TEXT,
	high_confidence INTEGER,
	medium_confidence INTEGER,
	low_confidence INTEGER,
	high_severity INTEGER,
	medium_severity INTEGER,
	low_severity INTEGER,
	unique_cwes TEXT,
	PRIMARY KEY (project_name, commit_hash)
)`

const insertRowSQL = `INSERT INTO commit_metrics (
	project_name, commit_hash, author, committed_at, message,
	high_confidence, medium_confidence, low_confidence,
	high_severity, medium_severity, low_severity, unique_cwes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (project_name, commit_hash) DO NOTHING`

// Save inserts the rows in one transaction. Rescanned commits are kept as
// they were first recorded.
func Save(databaseURL string, rows []Row) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("sql.Open: %v", err)
	}
	defer db.Close()
	_, err = db.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("create commit_metrics: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("db.Begin: %v", err)
	}
	for _, row := range rows {
		_, err := tx.Exec(insertRowSQL,
			row.ProjectName, row.CommitHash, row.Author, row.Date, row.Message,
			row.HighConfidence, row.MediumConfidence, row.LowConfidence,
			row.HighSeverity, row.MediumSeverity, row.LowSeverity, row.UniqueCWEs)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert commit %s: %v", row.CommitHash, err)
		}
	}
	return tx.Commit()
}
