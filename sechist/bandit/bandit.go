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

// Package bandit runs the bandit security scanner and reduces its JSON
// report to per-commit metrics.
package bandit

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
)

type CWE struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

type Issue struct {
	Filename   string `json:"filename"`
	LineNumber int    `json:"line_number"`
	Severity   string `json:"issue_severity"`
	Confidence string `json:"issue_confidence"`
	Text       string `json:"issue_text"`
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	CWE        *CWE   `json:"issue_cwe,omitempty"`
}

type ReportError struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

type Report struct {
	Errors  []ReportError `json:"errors"`
	Results []Issue       `json:"results"`
}

func ParseReport(contents []byte) (*Report, error) {
	report := &Report{}
	err := json.Unmarshal(contents, report)
	if err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %v", err)
	}
	return report, nil
}

func ReadReportFile(path string) (*Report, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile: %v", err)
	}
	return ParseReport(contents)
}

var cweTextRegexp = regexp.MustCompile(`CWE-(\d+)`)

// CWEID returns the CWE number of an issue as a string. Old bandit releases
// do not emit issue_cwe, so the issue text is scanned as a fallback.
func (i Issue) CWEID() string {
	if i.CWE != nil {
		return strconv.Itoa(i.CWE.ID)
	}
	match := cweTextRegexp.FindStringSubmatch(i.Text)
	if match != nil {
		return match[1]
	}
	return ""
}

// Finding is one normalized scanner result.
type Finding struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Confidence string `json:"confidence"`
	CWE        string `json:"cwe,omitempty"`
	Message    string `json:"message"`
	TestID     string `json:"test_id"`
}

func (r *Report) Findings() []Finding {
	findings := []Finding{}
	for _, issue := range r.Results {
		findings = append(findings, Finding{
			ID:         uuid.New().String(),
			Path:       issue.Filename,
			Line:       issue.LineNumber,
			Severity:   issue.Severity,
			Confidence: issue.Confidence,
			CWE:        issue.CWEID(),
			Message:    issue.Text,
			TestID:     issue.TestID,
		})
	}
	return findings
}

type CommitMetrics struct {
	HighConfidence   int      `json:"high_confidence"`
	MediumConfidence int      `json:"medium_confidence"`
	LowConfidence    int      `json:"low_confidence"`
	HighSeverity     int      `json:"high_severity"`
	MediumSeverity   int      `json:"medium_severity"`
	LowSeverity      int      `json:"low_severity"`
	UniqueCWEs       []string `json:"unique_cwes"`
}

func Metrics(findings []Finding) CommitMetrics {
	severity := stats.SeverityCount{}
	confidence := stats.ConfidenceCount{}
	cweSet := map[string]bool{}
	for _, finding := range findings {
		stats.AccumulateBySeverity(&severity, finding.Severity, finding.ID)
		stats.AccumulateByConfidence(&confidence, finding.Confidence, finding.ID)
		if finding.CWE != "" {
			cweSet[finding.CWE] = true
		}
	}
	metrics := CommitMetrics{
		HighConfidence:   confidence.High,
		MediumConfidence: confidence.Medium,
		LowConfidence:    confidence.Low,
		HighSeverity:     severity.High,
		MediumSeverity:   severity.Medium,
		LowSeverity:      severity.Low,
		UniqueCWEs:       []string{},
	}
	for cwe := range cweSet {
		metrics.UniqueCWEs = append(metrics.UniqueCWEs, cwe)
	}
	sortCWEs(metrics.UniqueCWEs)
	return metrics
}

// CWE numbers sort numerically so CWE-20 comes before CWE-139.
func sortCWEs(cwes []string) {
	sort.Slice(cwes, func(i, j int) bool {
		a, errA := strconv.Atoi(cwes[i])
		b, errB := strconv.Atoi(cwes[j])
		if errA != nil || errB != nil {
			return cwes[i] < cwes[j]
		}
		return a < b
	})
}

// Scan runs bandit over the project work tree and writes the raw JSON report
// to outputFile. Bandit exits nonzero whenever it reports issues, so the exit
// code is ignored and the report file decides.
func Scan(opts *options.LabOptions, outputFile string) ([]Finding, error) {
	args := []string{"-r", ".", "-f", "json", "-o", outputFile}
	args = append(args, options.SplitToolArgs(opts.Config.SecurityHistory.BanditArgs)...)
	cmd := exec.Command(opts.BanditBin, args...)
	cmd.Dir = opts.ProjectDir
	glog.Infof("in securityhistory, executing: %s", cmd.String())
	_, err := basic.CombinedOutput(cmd, "securityhistory", opts.LimitMemory, opts.TimeoutNormal, opts.TimeoutGenerate)
	if err != nil {
		glog.Infof("%s exited with: %v", opts.BanditBin, err)
	}
	report, err := ReadReportFile(outputFile)
	if err != nil {
		return nil, err
	}
	for _, reportErr := range report.Errors {
		glog.Warningf("bandit could not scan %s: %s", reportErr.Filename, reportErr.Reason)
	}
	return report.Findings(), nil
}
