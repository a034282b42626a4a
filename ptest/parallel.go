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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
)

// ParallelConfig is one point of the measurement grid. Counts are strings
// because pytest-xdist accepts "auto" as well as plain numbers.
type ParallelConfig struct {
	WorkerCount string `json:"worker_count"`
	ThreadCount string `json:"thread_count"`
	DistMode    string `json:"dist_mode"`
}

// String renders the full flag form. Reports use it even for flags the
// actual command omitted.
func (c ParallelConfig) String() string {
	return fmt.Sprintf("-n %s --dist %s --parallel-threads %s", c.WorkerCount, c.DistMode, c.ThreadCount)
}

// Args returns the pytest arguments for this configuration. Defaults are
// omitted: a single worker, a single thread, no distribution.
func (c ParallelConfig) Args() []string {
	args := []string{}
	if c.WorkerCount != "1" {
		args = append(args, "-n", c.WorkerCount)
	}
	if c.DistMode != "no" {
		args = append(args, "--dist", c.DistMode)
	}
	if c.ThreadCount != "1" {
		args = append(args, "--parallel-threads", c.ThreadCount)
	}
	return args
}

// ConfigGrid expands the configured worker counts, thread counts and
// distribution modes into the full measurement grid.
func ConfigGrid(cfg options.ParallelTestConfig) []ParallelConfig {
	grid := []ParallelConfig{}
	for _, workers := range cfg.WorkerCounts {
		for _, threads := range cfg.ThreadCounts {
			for _, dist := range cfg.DistModes {
				grid = append(grid, ParallelConfig{
					WorkerCount: workers,
					ThreadCount: threads,
					DistMode:    dist,
				})
			}
		}
	}
	return grid
}

// ConfigResult is the measurement of one grid point. AvgTime duplicates
// Tpar for consumers of the older result layout.
type ConfigResult struct {
	Config       ParallelConfig `json:"config"`
	Tpar         float64        `json:"tpar"`
	AvgTime      float64        `json:"avg_time"`
	Times        []float64      `json:"times"`
	Failures     []int          `json:"failures"`
	FailingTests [][]string     `json:"failing_tests"`
	FlakyTests   []string       `json:"flaky_tests"`
	Speedup      float64        `json:"speedup"`
	TseqUsed     float64        `json:"tseq_used"`
}

// RunConfig measures one configuration over the given number of iterations.
func RunConfig(opts *options.LabOptions, config ParallelConfig, iterations int) ConfigResult {
	basic.PrintfWithTimeStamp("Running parallel tests with configuration: %s", config)
	times := []float64{}
	failures := []int{}
	allFailing := [][]string{}
	for i := 0; i < iterations; i++ {
		glog.Infof("iteration %d/%d", i+1, iterations)
		out, duration := runPytest(opts, config.Args()...)
		failing := FailingTests(out)
		times = append(times, duration)
		failures = append(failures, len(failing))
		allFailing = append(allFailing, failing)
		glog.Infof("execution time: %.2f seconds, failures: %d", duration, len(failing))
	}

	failedIn := map[string]int{}
	for _, failing := range allFailing {
		for _, test := range failing {
			failedIn[test]++
		}
	}
	flaky := []string{}
	for test, count := range failedIn {
		if count > 0 && count < iterations {
			flaky = append(flaky, test)
		}
	}
	sort.Strings(flaky)

	tpar := mean(times)
	basic.PrintfWithTimeStamp("Configuration %s: Tpar = %.2f seconds, flaky tests: %d", config, tpar, len(flaky))
	return ConfigResult{
		Config:       config,
		Tpar:         tpar,
		AvgTime:      tpar,
		Times:        times,
		Failures:     failures,
		FailingTests: allFailing,
		FlakyTests:   flaky,
	}
}

const defaultTseq = 10.0

// savedTiming mirrors the layouts sequential_time.json has been written in;
// pointers distinguish an absent key from a zero.
type savedTiming struct {
	AvgTime       *float64 `json:"avg_time"`
	AvgTimeSimple *float64 `json:"avg_time_simple"`
	AvgTimeNested *float64 `json:"avg_time_nested"`
	TseqSimple    *struct {
		Value *float64 `json:"value"`
	} `json:"tseq_simple"`
	TseqNested *struct {
		Value *float64 `json:"value"`
	} `json:"tseq_nested"`
}

// LoadTseq reads the saved sequential baseline, preferring the plain average
// and the simple measurement over the nested one. The second return reports
// whether a usable value was found.
func LoadTseq(path string) (float64, bool) {
	contents, err := os.ReadFile(path)
	if err != nil {
		glog.Warningf("could not read %s: %v", path, err)
		return 0, false
	}
	saved := savedTiming{}
	err = json.Unmarshal(contents, &saved)
	if err != nil {
		glog.Warningf("could not parse %s: %v", path, err)
		return 0, false
	}
	switch {
	case saved.AvgTime != nil:
		return *saved.AvgTime, true
	case saved.AvgTimeSimple != nil:
		return *saved.AvgTimeSimple, true
	case saved.AvgTimeNested != nil:
		return *saved.AvgTimeNested, true
	case saved.TseqSimple != nil && saved.TseqSimple.Value != nil:
		return *saved.TseqSimple.Value, true
	case saved.TseqNested != nil && saved.TseqNested.Value != nil:
		return *saved.TseqNested.Value, true
	}
	return 0, false
}

// RunParallel measures every grid configuration and saves the accumulated
// results after each one, so an interrupted run keeps what it measured.
func RunParallel(opts *options.LabOptions, resultsDir string) ([]ConfigResult, error) {
	tseq, ok := LoadTseq(filepath.Join(resultsDir, "sequential_time.json"))
	if !ok {
		basic.PrintfWithTimeStamp("Warning: could not find sequential execution time, using default value of %.1f seconds for Tseq.", defaultTseq)
		tseq = defaultTseq
	}
	basic.PrintfWithTimeStamp("Sequential execution time (Tseq): %.2f seconds", tseq)

	iterations := opts.Config.ParallelTest.Iterations
	results := []ConfigResult{}
	for _, config := range ConfigGrid(opts.Config.ParallelTest) {
		result := RunConfig(opts, config, iterations)
		if result.Tpar > 0 {
			result.Speedup = tseq / result.Tpar
		}
		result.TseqUsed = tseq
		basic.PrintfWithTimeStamp("Speedup (Tseq/Tpar): %.2fx", result.Speedup)
		results = append(results, result)
		err := atomic.WriteJSON(filepath.Join(resultsDir, "parallel_results.json"), results)
		if err != nil {
			return nil, err
		}
	}

	basic.PrintfWithTimeStamp("Summary of parallel execution times (Tpar) for each configuration:")
	for i, result := range results {
		basic.PrintfWithTimeStamp("%d. W=%s, T=%s, D=%s: Tpar = %.2fs, Speedup = %.2fx",
			i+1, result.Config.WorkerCount, result.Config.ThreadCount, result.Config.DistMode,
			result.Tpar, result.Speedup)
	}
	return results, nil
}
