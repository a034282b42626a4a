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

// Package sechist walks the git history of the project, scans every commit
// with bandit, and reduces the reports to security trends over time.
package sechist

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/sechist/bandit"
	"naive.systems/testlab/sechist/gitrepo"
)

type CommitRecord struct {
	Commit  gitrepo.CommitInfo   `json:"commit"`
	Metrics bandit.CommitMetrics `json:"metrics"`
}

var csvHeader = []string{
	"commit_hash", "author", "date", "message",
	"high_confidence", "medium_confidence", "low_confidence",
	"high_severity", "medium_severity", "low_severity",
	"unique_cwes",
}

func csvRow(record CommitRecord) []string {
	metrics := record.Metrics
	return []string{
		record.Commit.Hash,
		record.Commit.Author,
		record.Commit.Date,
		record.Commit.Subject,
		strconv.Itoa(metrics.HighConfidence),
		strconv.Itoa(metrics.MediumConfidence),
		strconv.Itoa(metrics.LowConfidence),
		strconv.Itoa(metrics.HighSeverity),
		strconv.Itoa(metrics.MediumSeverity),
		strconv.Itoa(metrics.LowSeverity),
		strings.Join(metrics.UniqueCWEs, ","),
	}
}

// WriteCSV rewrites the whole results file. The scan calls it after every
// commit so an interrupted run still leaves a usable file behind.
func WriteCSV(path string, records []CommitRecord) error {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)
	err := writer.Write(csvHeader)
	if err != nil {
		return err
	}
	for _, record := range records {
		err := writer.Write(csvRow(record))
		if err != nil {
			return err
		}
	}
	writer.Flush()
	err = writer.Error()
	if err != nil {
		return err
	}
	return atomic.Write(path, buf.Bytes())
}

func parseCSVRow(row []string) (CommitRecord, error) {
	record := CommitRecord{}
	if len(row) != len(csvHeader) {
		return record, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(row))
	}
	counts := make([]int, 6)
	for i, field := range row[4:10] {
		count, err := strconv.Atoi(field)
		if err != nil {
			return record, fmt.Errorf("bad count %q: %v", field, err)
		}
		counts[i] = count
	}
	record.Commit = gitrepo.CommitInfo{
		Hash:    row[0],
		Author:  row[1],
		Date:    row[2],
		Subject: row[3],
	}
	// The date column orders the same way the commit times do.
	when, err := time.Parse("2006-01-02 15:04:05", row[2])
	if err == nil {
		record.Commit.Timestamp = when.Unix()
	}
	record.Metrics = bandit.CommitMetrics{
		HighConfidence:   counts[0],
		MediumConfidence: counts[1],
		LowConfidence:    counts[2],
		HighSeverity:     counts[3],
		MediumSeverity:   counts[4],
		LowSeverity:      counts[5],
		UniqueCWEs:       []string{},
	}
	if row[10] != "" {
		record.Metrics.UniqueCWEs = strings.Split(row[10], ",")
	}
	return record, nil
}

// ReadCSV loads a results file previously written by WriteCSV. Malformed
// rows are skipped with a warning.
func ReadCSV(path string) ([]CommitRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	records := []CommitRecord{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		record, err := parseCSVRow(row)
		if err != nil {
			glog.Warningf("skipping row %d of %s: %v", i+1, path, err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Scan checks out every listed commit in turn and runs bandit against it.
// Commits whose checkout or report fails are skipped, not fatal. Commits
// already present in the results file from an earlier run are not rescanned.
// The work tree is restored to the configured branch before returning.
func Scan(opts *options.LabOptions, printer *message.Printer, resultsDir string) ([]CommitRecord, error) {
	cfg := opts.Config.SecurityHistory
	commits, err := gitrepo.ListCommits(opts.ProjectDir, cfg.MaxCommits, cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		basic.PrintfWithTimeStamp(printer.Sprintf("No commits found in %s", opts.ProjectDir))
		return nil, nil
	}
	outputsDir := filepath.Join(resultsDir, "bandit_outputs")
	err = os.MkdirAll(outputsDir, os.ModePerm)
	if err != nil {
		return nil, err
	}
	defer func() {
		err := gitrepo.RestoreBranch(opts.ProjectDir, cfg.RestoreBranch)
		if err != nil {
			glog.Errorf("failed to restore branch %s: %v", cfg.RestoreBranch, err)
		}
	}()
	csvPath := filepath.Join(resultsDir, "results.csv")
	records, err := ReadCSV(csvPath)
	if err != nil && !os.IsNotExist(err) {
		glog.Warningf("ignoring unreadable results file %s: %v", csvPath, err)
	}
	scanned := map[string]bool{}
	for _, record := range records {
		scanned[record.Commit.Hash] = true
	}
	if len(records) > 0 {
		basic.PrintfWithTimeStamp(printer.Sprintf("Resuming scan: %d commits already analyzed", len(records)))
	}
	for i, commit := range commits {
		if scanned[commit.Hash] {
			continue
		}
		basic.PrintfWithTimeStamp(printer.Sprintf("Processing commit %d/%d: %s", i+1, len(commits), commit.Hash))
		err := gitrepo.Checkout(opts.ProjectDir, commit.Hash)
		if err != nil {
			glog.Errorf("skipping commit %s: %v", commit.Hash, err)
			continue
		}
		outputFile := filepath.Join(outputsDir, commit.Hash+".json")
		findings, err := bandit.Scan(opts, outputFile)
		if err != nil {
			glog.Errorf("error processing commit %s: %v", commit.Hash, err)
			continue
		}
		records = append(records, CommitRecord{Commit: commit, Metrics: bandit.Metrics(findings)})
		err = WriteCSV(csvPath, records)
		if err != nil {
			return records, err
		}
	}
	err = basic.TarFile(outputsDir, filepath.Join(resultsDir, "bandit_outputs.tar.gz"))
	if err != nil {
		glog.Warningf("failed to archive bandit outputs: %v", err)
	}
	// A resumed scan appends new commits after the reloaded ones; callers
	// expect the newest commit first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Commit.Timestamp > records[j].Commit.Timestamp
	})
	return records, nil
}
