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

package ptest

import (
	"fmt"
	"path/filepath"

	"golang.org/x/text/message"
	"naive.systems/testlab/cpumem"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
)

// Run executes the full measurement: stability and timing sequentially, then
// the parallel grid, the failure analysis and the markdown report.
func Run(opts *options.LabOptions, printer *message.Printer) error {
	resultsDir, err := opts.PipelineResultDir("paralleltest")
	if err != nil {
		return err
	}
	if opts.LimitMemory {
		err = basic.CreateCgroup("paralleltest", cpumem.GetTotalMem())
		if err != nil {
			return fmt.Errorf("limit memory usage: %v", err)
		}
	}
	stability, timing, err := RunSequential(opts, resultsDir)
	if err != nil {
		return err
	}
	results, err := RunParallel(opts, resultsDir)
	if err != nil {
		return err
	}

	analysis := AnalyzeFailures(results)
	categorized := CategorizeFailures(analysis.AllFailingTests)
	matrix := ExecutionMatrix(results)
	readiness := AssessReadiness(analysis, categorized)
	improvements := SuggestImprovements(categorized)

	projectName := opts.ProjectName
	if projectName == "" {
		projectName = filepath.Base(opts.ProjectDir)
	}
	reportPath := filepath.Join(resultsDir, "test_parallelization_report.md")
	err = WriteReport(reportPath, projectName, CommitHash(opts.ProjectDir), stability, timing.AvgTime,
		matrix, analysis, categorized, readiness, improvements)
	if err != nil {
		return err
	}
	basic.PrintfWithTimeStamp(printer.Sprintf("Report generated: %s", reportPath))
	if opts.ShowResults {
		PrintMatrix(matrix)
	}
	return nil
}
