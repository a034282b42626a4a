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

// Package coverage reduces coverage.py JSON reports into per-file,
// per-module and comparison statistics.
package coverage

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/golang/glog"
	"naive.systems/testlab/labslib/options"
)

// FileSummary mirrors the summary object coverage.py writes per file and
// for the report totals. Percentages are consumed as the tool reports them.
type FileSummary struct {
	CoveredLines   int     `json:"covered_lines"`
	NumStatements  int     `json:"num_statements"`
	PercentCovered float64 `json:"percent_covered"`
	MissingLines   int     `json:"missing_lines"`
	ExcludedLines  int     `json:"excluded_lines"`
}

// LineRate is covered statements over total statements, 0 when the file
// has no statements.
func (s FileSummary) LineRate() float64 {
	if s.NumStatements == 0 {
		return 0
	}
	return float64(s.CoveredLines) / float64(s.NumStatements)
}

type FileData struct {
	Summary      FileSummary `json:"summary"`
	MissingLines []int       `json:"missing_lines"`
}

type Report struct {
	Files  map[string]FileData `json:"files"`
	Totals FileSummary         `json:"totals"`
}

func ParseCoverageJson(output []byte) (*Report, error) {
	report := &Report{}
	err := json.Unmarshal(output, report)
	if err != nil {
		return nil, err
	}
	if report.Files == nil {
		report.Files = map[string]FileData{}
	}
	return report, nil
}

// LoadReport reads a coverage.py JSON report from path. Missing or
// malformed reports degrade to an empty report with a warning so the
// rest of the pipeline still runs.
func LoadReport(path string) *Report {
	contents, err := os.ReadFile(path)
	if err != nil {
		glog.Warningf("coverage report %s not found: %v", path, err)
		return &Report{Files: map[string]FileData{}}
	}
	report, err := ParseCoverageJson(contents)
	if err != nil {
		glog.Warningf("failed to parse coverage report %s: %v", path, err)
		return &Report{Files: map[string]FileData{}}
	}
	return report
}

// FileCoverage is one measured file flattened for reporting.
type FileCoverage struct {
	Path          string  `json:"path"`
	CoveredLines  int     `json:"covered_lines"`
	NumStatements int     `json:"num_statements"`
	LineRate      float64 `json:"line_rate"`
}

// Test files, generated test output and package init files are excluded
// from coverage statistics.
var DefaultIgnorePatterns = []string{
	"**/tests/**",
	"**/pynguin_tests/**",
	"**/__init__.py",
}

// FilteredFiles flattens the measured files, dropping those matching any of
// the ignore patterns. The result is sorted by path.
func (r *Report) FilteredFiles(ignorePatterns []string) []FileCoverage {
	files := []FileCoverage{}
	for path, data := range r.Files {
		matched, err := options.MatchIgnoreDirPatterns(ignorePatterns, path)
		if err != nil {
			glog.Warning(err)
		}
		if matched {
			continue
		}
		files = append(files, FileCoverage{
			Path:          path,
			CoveredLines:  data.Summary.CoveredLines,
			NumStatements: data.Summary.NumStatements,
			LineRate:      data.Summary.LineRate(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// LowCoverageFiles returns the files whose line rate is strictly below
// threshold percent, sorted worst first. Files without statements are
// skipped since there is nothing left to cover.
func LowCoverageFiles(files []FileCoverage, threshold float64) []FileCoverage {
	low := []FileCoverage{}
	for _, file := range files {
		if file.NumStatements == 0 {
			continue
		}
		if file.LineRate*100 < threshold {
			low = append(low, file)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].LineRate != low[j].LineRate {
			return low[i].LineRate < low[j].LineRate
		}
		return low[i].Path < low[j].Path
	})
	return low
}

type ModuleCoverage struct {
	Module        string  `json:"module"`
	Files         int     `json:"files"`
	CoveredLines  int     `json:"covered_lines"`
	NumStatements int     `json:"num_statements"`
	LineRate      float64 `json:"line_rate"`
}

// ModuleRollup groups files by the path segment below sourceRoot and sums
// their statements. An empty sourceRoot groups by the first path segment.
func ModuleRollup(files []FileCoverage, sourceRoot string) []ModuleCoverage {
	grouped := map[string]*ModuleCoverage{}
	for _, file := range files {
		path := file.Path
		if sourceRoot != "" {
			if !strings.HasPrefix(path, sourceRoot+"/") {
				continue
			}
			path = strings.TrimPrefix(path, sourceRoot+"/")
		}
		module := path
		if i := strings.Index(path, "/"); i >= 0 {
			module = path[:i]
		}
		m, ok := grouped[module]
		if !ok {
			m = &ModuleCoverage{Module: module}
			grouped[module] = m
		}
		m.Files++
		m.CoveredLines += file.CoveredLines
		m.NumStatements += file.NumStatements
	}
	modules := []ModuleCoverage{}
	for _, m := range grouped {
		if m.NumStatements > 0 {
			m.LineRate = float64(m.CoveredLines) / float64(m.NumStatements)
		}
		modules = append(modules, *m)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Module < modules[j].Module
	})
	return modules
}

// DetectSourceRoot returns the shared first path segment of the measured
// files, or the empty string when they do not share one.
func DetectSourceRoot(files []FileCoverage) string {
	root := ""
	for _, file := range files {
		segment := file.Path
		if i := strings.Index(segment, "/"); i >= 0 {
			segment = segment[:i]
		} else {
			return ""
		}
		if root == "" {
			root = segment
		} else if root != segment {
			return ""
		}
	}
	return root
}
