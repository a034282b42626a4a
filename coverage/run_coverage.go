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

package coverage

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/cpumem"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
)

// AnalysisResult is the consolidated coverage analysis written both as JSON
// and printed at the end of the pipeline.
type AnalysisResult struct {
	ProjectName  string           `json:"project_name"`
	ReportPath   string           `json:"report_path"`
	Totals       FileSummary      `json:"totals"`
	LineCoverage float64          `json:"line_coverage"`
	Files        []FileCoverage   `json:"files"`
	LowCoverage  []FileCoverage   `json:"low_coverage"`
	Modules      []ModuleCoverage `json:"modules"`
}

// PrintFiles dumps per-file line coverage to stdout, worst covered first.
func PrintFiles(files []FileCoverage) {
	sorted := append([]FileCoverage{}, files...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LineRate != sorted[j].LineRate {
			return sorted[i].LineRate < sorted[j].LineRate
		}
		return sorted[i].Path < sorted[j].Path
	})
	for _, file := range sorted {
		fmt.Printf("%s: %.1f%% (%d/%d lines)\n",
			file.Path, file.LineRate*100, file.CoveredLines, file.NumStatements)
	}
}

// GenerateJSONReport asks coverage.py for a JSON export of previously
// recorded coverage data. It fails when the project has no .coverage data.
func GenerateJSONReport(opts *options.LabOptions, outPath string) error {
	cmd := exec.Command(opts.CoverageBin, "json", "-o", outPath)
	cmd.Dir = opts.ProjectDir
	glog.Infof("in coverage, executing: %s", cmd.String())
	out, err := basic.CombinedOutput(cmd, "coverage", opts.LimitMemory, opts.TimeoutNormal, opts.TimeoutGenerate)
	if err != nil {
		glog.Errorf("in coverage, executing: %s, reported:\n%s", cmd.String(), string(out))
		return err
	}
	return nil
}

// Analyze runs the coverage pipeline: load (or generate) the report, filter
// measured files, find low coverage files, roll up modules, and compare
// against the baseline report when one is configured.
func Analyze(opts *options.LabOptions, printer *message.Printer) error {
	resultsDir, err := opts.PipelineResultDir("coverage")
	if err != nil {
		return err
	}
	if opts.LimitMemory {
		err = basic.CreateCgroup("coverage", cpumem.GetTotalMem())
		if err != nil {
			return fmt.Errorf("limit memory usage: %v", err)
		}
	}
	cfg := opts.Config.Coverage

	reportPath, err := basic.ConvertRelativePathToAbsolute(opts.ProjectDir, cfg.ReportPath)
	if err != nil {
		return fmt.Errorf("basic.ConvertRelativePathToAbsolute: %v", err)
	}
	if _, err := os.Stat(reportPath); err != nil {
		generatedPath := filepath.Join(resultsDir, "coverage.json")
		err = GenerateJSONReport(opts, generatedPath)
		if err != nil {
			glog.Warningf("failed to generate coverage report: %v", err)
		} else {
			reportPath = generatedPath
		}
	}
	report := LoadReport(reportPath)
	basic.PrintfWithTimeStamp(printer.Sprintf("Loaded coverage report for %d files", len(report.Files)))

	patterns := append([]string{}, DefaultIgnorePatterns...)
	patterns = append(patterns, opts.IgnoreDirPatterns...)
	files := report.FilteredFiles(patterns)

	sourceRoot := cfg.SourceRoot
	if sourceRoot == "" {
		sourceRoot = DetectSourceRoot(files)
	}

	result := &AnalysisResult{
		ProjectName: opts.ProjectName,
		ReportPath:  reportPath,
		Totals:      report.Totals,
		Files:       files,
		LowCoverage: LowCoverageFiles(files, cfg.LowCoverageThreshold),
		Modules:     ModuleRollup(files, sourceRoot),
	}
	var covered, total int
	for _, file := range files {
		covered += file.CoveredLines
		total += file.NumStatements
	}
	if total > 0 {
		result.LineCoverage = float64(covered) / float64(total)
	}

	err = atomic.WriteJSON(filepath.Join(resultsDir, "low_coverage_files.json"), result.LowCoverage)
	if err != nil {
		return err
	}
	err = atomic.WriteJSON(filepath.Join(resultsDir, "module_coverage.json"), result.Modules)
	if err != nil {
		return err
	}
	err = atomic.WriteJSON(filepath.Join(resultsDir, "coverage_analysis.json"), result)
	if err != nil {
		return err
	}
	if total > 0 {
		basic.PrintfWithTimeStamp(printer.Sprintf(
			"Line coverage %s, %d files below threshold",
			basic.GetPercentString(covered, total), len(result.LowCoverage)))
	} else {
		basic.PrintfWithTimeStamp(printer.Sprintf(
			"No measured statements, %d files below threshold", len(result.LowCoverage)))
	}
	if opts.ShowResults {
		PrintFiles(files)
	}

	if cfg.BaselineReportPath != "" {
		baselinePath, err := basic.ConvertRelativePathToAbsolute(opts.ProjectDir, cfg.BaselineReportPath)
		if err != nil {
			return fmt.Errorf("basic.ConvertRelativePathToAbsolute: %v", err)
		}
		baseline := LoadReport(baselinePath)
		comparison := Compare(baseline, report, patterns)
		err = atomic.WriteJSON(filepath.Join(resultsDir, "coverage_comparison.json"), comparison)
		if err != nil {
			return err
		}
		basic.PrintfWithTimeStamp(printer.Sprintf(
			"Coverage comparison: %d files improved", len(comparison.ImprovedFiles())))
	}

	if cfg.GoProfilePath != "" {
		profilePath, err := basic.ConvertRelativePathToAbsolute(opts.ProjectDir, cfg.GoProfilePath)
		if err != nil {
			return fmt.Errorf("basic.ConvertRelativePathToAbsolute: %v", err)
		}
		goReport, err := ParseGoProfile(profilePath)
		if err != nil {
			glog.Warningf("failed to parse Go cover profile %s: %v", profilePath, err)
		} else {
			goFiles := goReport.FilteredFiles(opts.IgnoreDirPatterns)
			err = atomic.WriteJSON(filepath.Join(resultsDir, "go_coverage.json"), &AnalysisResult{
				ProjectName:  opts.ProjectName,
				ReportPath:   profilePath,
				Totals:       goReport.Totals,
				LineCoverage: goReport.Totals.LineRate(),
				Files:        goFiles,
				LowCoverage:  LowCoverageFiles(goFiles, cfg.LowCoverageThreshold),
				Modules:      ModuleRollup(goFiles, ""),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
