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

package pygen

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/coverage"
	"naive.systems/testlab/cpumem"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/runner"
	"naive.systems/testlab/labslib/stats"
)

// BatchResult summarizes one generation run over all target files.
type BatchResult struct {
	TotalFiles int            `json:"total_files"`
	Successes  int            `json:"successes"`
	NoTests    int            `json:"no_tests"`
	Timeouts   int            `json:"timeouts"`
	Failures   int            `json:"failures"`
	Results    []ModuleResult `json:"results"`
}

// allocateCpuMem reserves one worker slot and, when memory is limited, the
// cgroup the pynguin process will be moved into. The cgroup is named after
// the module so the run below finds it.
func allocateCpuMem(taskName string, mem int, limitMemory bool) error {
	if limitMemory {
		err := basic.CreateCgroup(taskName, mem)
		if err != nil {
			return fmt.Errorf("limit memory usage: %v", err)
		}
	}
	return cpumem.Acquire(1, mem, taskName)
}

// TargetFiles decides which source files to generate tests for: the
// configured list when present, otherwise the low coverage files found by
// the coverage pipeline.
func TargetFiles(opts *options.LabOptions) ([]string, error) {
	candidates := opts.Config.TestGen.Modules
	if len(candidates) == 0 {
		lowCoveragePath := filepath.Join(opts.ResultsDir, "coverage", "low_coverage_files.json")
		contents, err := os.ReadFile(lowCoveragePath)
		if err != nil {
			return nil, fmt.Errorf("%s not found, run the coverage pipeline first: %v", lowCoveragePath, err)
		}
		lowCoverage := []coverage.FileCoverage{}
		err = json.Unmarshal(contents, &lowCoverage)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %v", lowCoveragePath, err)
		}
		for _, file := range lowCoverage {
			candidates = append(candidates, file.Path)
		}
	}
	targets := []string{}
	for _, candidate := range candidates {
		matched, err := options.MatchIgnoreDirPatterns(coverage.DefaultIgnorePatterns, candidate)
		if err != nil {
			glog.Warning(err)
		}
		if matched {
			continue
		}
		targets = append(targets, candidate)
	}
	return targets, nil
}

// Generate runs the test generation pipeline: pynguin for every target file
// on the worker pool, a master test file importing the generated tests, and
// JSON summaries of the batch.
func Generate(opts *options.LabOptions, printer *message.Printer) error {
	resultsDir, err := opts.PipelineResultDir("testgen")
	if err != nil {
		return err
	}
	targets, err := TargetFiles(opts)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		basic.PrintfWithTimeStamp(printer.Sprintf("No files need test generation"))
		return nil
	}

	outputRoot := filepath.Join(opts.ProjectDir, opts.Config.TestGen.OutputRoot)
	err = os.MkdirAll(outputRoot, os.ModePerm)
	if err != nil {
		return err
	}
	err = os.WriteFile(filepath.Join(outputRoot, "__init__.py"), []byte{}, 0644)
	if err != nil {
		glog.Warningf("failed to create __init__.py in %s: %v", outputRoot, err)
	}

	logPath := filepath.Join(resultsDir, "generation_log.txt")
	os.Remove(logPath)

	estMem := 0
	if opts.LimitMemory && opts.NumWorkers > 0 {
		estMem = cpumem.GetTotalMem() / int(opts.NumWorkers)
	}

	taskRunner := runner.NewParaTaskRunner(opts.NumWorkers, len(targets), opts.CheckProgress, opts.Lang, stats.GEN)
	for i, target := range targets {
		if results, errs := taskRunner.CheckSignalExiting(); results != nil {
			return summarize(opts, resultsDir, outputRoot, logPath, len(targets), results, errs)
		}
		basic.PrintfWithTimeStamp("Processing file %d/%d: %s", i+1, len(targets), target)
		appendLog(logPath, "Processing file %d/%d: %s", i+1, len(targets), target)
		target := target
		taskRunner.AddTask(runner.LabTask{
			Id:      i,
			Name:    target,
			Workdir: opts.ProjectDir,
			Opts:    opts,
			Run: func(workdir string, o *options.LabOptions) (any, error) {
				err := allocateCpuMem(ModuleNameFromPath(target), estMem, o.LimitMemory)
				if err != nil {
					return nil, err
				}
				defer cpumem.Release(1, estMem)
				return GenerateTestsForModule(target, o), nil
			},
		})
	}
	results, errs := taskRunner.CollectResultsAndErrors()
	return summarize(opts, resultsDir, outputRoot, logPath, len(targets), results, errs)
}

// PrintModuleResults dumps per-module generation outcomes to stdout.
func PrintModuleResults(results []ModuleResult) {
	sorted := append([]ModuleResult{}, results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Module < sorted[j].Module })
	for _, result := range sorted {
		fmt.Printf("%s: %s (%.1fs, %d test files)\n",
			result.Module, result.Status, result.Duration, len(result.TestFiles))
	}
}

func appendLog(logPath, format string, args ...any) {
	err := basic.AppendToFile(logPath, fmt.Sprintf(format, args...)+"\n")
	if err != nil {
		glog.Warning(err)
	}
}

func summarize(opts *options.LabOptions, resultsDir, outputRoot, logPath string, totalFiles int,
	results []runner.TaskResult, errs []error) error {
	batch := BatchResult{TotalFiles: totalFiles}
	for _, taskResult := range results {
		moduleResult, ok := taskResult.Payload.(ModuleResult)
		if !ok {
			continue
		}
		batch.Results = append(batch.Results, moduleResult)
		// Success and timeout lines were already printed when they happened;
		// here they only go into the log for the stats pass.
		switch moduleResult.Status {
		case StatusGenerated:
			batch.Successes++
			appendLog(logPath, "Successfully generated tests for %s", moduleResult.Module)
		case StatusNoTests:
			batch.NoTests++
		case StatusTimeout:
			batch.Timeouts++
			appendLog(logPath, "Pynguin is taking too long for %s, terminating", moduleResult.Module)
		case StatusFailed:
			batch.Failures++
		}
	}
	for _, err := range errs {
		if err != nil {
			batch.Failures++
		}
	}
	basic.PrintfWithTimeStamp("Test generation complete: %d/%d files processed successfully", batch.Successes, totalFiles)
	appendLog(logPath, "Test generation complete: %d/%d files processed successfully", batch.Successes, totalFiles)
	if opts.ShowResults {
		PrintModuleResults(batch.Results)
	}

	if batch.Successes > 0 {
		err := WriteMasterTestFile(outputRoot)
		if err != nil {
			glog.Warningf("failed to write master test file: %v", err)
		}
	}
	err := atomic.WriteJSON(filepath.Join(resultsDir, "generation_results.json"), batch)
	if err != nil {
		return err
	}
	logContents, err := os.ReadFile(logPath)
	if err != nil {
		glog.Warning(err)
		return nil
	}
	return atomic.WriteJSON(filepath.Join(resultsDir, "generation_stats.json"), ParseGenerationLog(string(logContents)))
}

// WriteMasterTestFile writes a test file importing every generated test so
// the whole generated suite runs as one target.
func WriteMasterTestFile(outputRoot string) error {
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Auto-generated file that imports all pynguin tests\n\n")
	root := filepath.Base(outputRoot)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "__pycache__" {
			continue
		}
		for _, testFile := range listTestFiles(filepath.Join(outputRoot, entry.Name())) {
			fmt.Fprintf(&b, "import %s.%s.%s\n", root, entry.Name(), strings.TrimSuffix(testFile, ".py"))
		}
	}
	return os.WriteFile(filepath.Join(outputRoot, "test_all_pynguin.py"), []byte(b.String()), 0644)
}
