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

package sechist

import (
	"fmt"
	"path/filepath"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/cpumem"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
	"naive.systems/testlab/sechist/store"
)

// PrintRecords dumps per-commit severity counts to stdout, oldest commit
// first, followed by the most common CWEs of the whole history.
func PrintRecords(records []CommitRecord, topCWEs []CWECount) {
	for _, record := range sortedByDate(records) {
		fmt.Printf("%s %s: %d high, %d medium, %d low severity\n",
			record.Commit.Hash, record.Commit.Date,
			record.Metrics.HighSeverity, record.Metrics.MediumSeverity, record.Metrics.LowSeverity)
	}
	for _, cwe := range topCWEs {
		fmt.Printf("%s: %d findings\n", cwe.CWE, cwe.Count)
	}
}

func storeRows(projectName string, records []CommitRecord) []store.Row {
	rows := []store.Row{}
	for _, record := range records {
		row := csvRow(record)
		rows = append(rows, store.Row{
			ProjectName:      projectName,
			CommitHash:       row[0],
			Author:           row[1],
			Date:             row[2],
			Message:          row[3],
			HighConfidence:   record.Metrics.HighConfidence,
			MediumConfidence: record.Metrics.MediumConfidence,
			LowConfidence:    record.Metrics.LowConfidence,
			HighSeverity:     record.Metrics.HighSeverity,
			MediumSeverity:   record.Metrics.MediumSeverity,
			LowSeverity:      record.Metrics.LowSeverity,
			UniqueCWEs:       row[10],
		})
	}
	return rows
}

// Run scans the project history with bandit and reduces the reports to the
// trend summaries. Records come back newest first, so the first one describes
// the current state of the code.
func Run(opts *options.LabOptions, printer *message.Printer) error {
	resultsDir, err := opts.PipelineResultDir("securityhistory")
	if err != nil {
		return err
	}
	if opts.LimitMemory {
		err = basic.CreateCgroup("securityhistory", cpumem.GetTotalMem())
		if err != nil {
			return fmt.Errorf("limit memory usage: %v", err)
		}
	}
	records, err := Scan(opts, printer, resultsDir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		basic.PrintfWithTimeStamp(printer.Sprintf("No commit metrics collected"))
		return nil
	}
	projectName := opts.ProjectName
	if projectName == "" {
		projectName = filepath.Base(opts.ProjectDir)
	}
	report := Analyze(projectName, records)
	err = WriteReports(resultsDir, report)
	if err != nil {
		return err
	}
	newest := records[0].Metrics
	stats.WriteSeverityStats(stats.SeverityCount{
		High:   newest.HighSeverity,
		Medium: newest.MediumSeverity,
		Low:    newest.LowSeverity,
	}, resultsDir)
	if url := opts.Config.SecurityHistory.DatabaseURL; url != "" {
		err := store.Save(url, storeRows(projectName, records))
		if err != nil {
			glog.Errorf("failed to upload commit metrics: %v", err)
		}
	}
	if opts.ShowResults {
		PrintRecords(records, report.ResearchQuestions.RQ3.OverallTopCWEs)
	}
	basic.PrintfWithTimeStamp(printer.Sprintf("Security history scan complete: %d commits analyzed", len(records)))
	return nil
}
