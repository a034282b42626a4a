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
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/golang/glog"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
)

// StabilityResult records which tests failed or flaked over the repeated
// sequential runs, along with the wall-clock time of each run.
type StabilityResult struct {
	FailingTests   []string  `json:"failing_tests"`
	FlakyTests     []string  `json:"flaky_tests"`
	ExecutionTimes []float64 `json:"execution_times"`
}

type NestedTiming struct {
	Value             float64   `json:"value"`
	Description       string    `json:"description"`
	OuterAvgTimes     []float64 `json:"outer_avg_times"`
	AllTimes          []float64 `json:"all_times"`
	TestSuiteRuns     int       `json:"test_suite_runs"`
	RepetitionsPerRun int       `json:"repetitions_per_run"`
}

type SimpleTiming struct {
	Value           float64   `json:"value"`
	Description     string    `json:"description"`
	Times           []float64 `json:"times"`
	TotalExecutions int       `json:"total_executions"`
}

// SequentialTiming is the saved baseline the parallel measurements compare
// against. AvgTime mirrors the simple measurement.
type SequentialTiming struct {
	AvgTime       float64      `json:"avg_time"`
	AvgTimeNested float64      `json:"avg_time_nested"`
	AvgTimeSimple float64      `json:"avg_time_simple"`
	TseqNested    NestedTiming `json:"tseq_nested"`
	TseqSimple    SimpleTiming `json:"tseq_simple"`
}

// runPytest executes one pytest run in the project directory with the
// configured extra arguments plus args, returning the combined output and
// the wall-clock duration in seconds. A nonzero exit is normal when tests
// fail, so it is logged and the output kept.
func runPytest(opts *options.LabOptions, args ...string) (string, float64) {
	cmdArgs := append(options.SplitToolArgs(opts.Config.ParallelTest.PytestArgs), args...)
	cmd := exec.Command(opts.PytestBin, cmdArgs...)
	cmd.Dir = opts.ProjectDir
	glog.Infof("in paralleltest, executing: %s", cmd.String())
	start := time.Now()
	out, err := basic.CombinedOutput(cmd, "paralleltest", opts.LimitMemory, opts.TimeoutNormal, opts.TimeoutGenerate)
	duration := time.Since(start).Seconds()
	if err != nil {
		glog.Infof("in paralleltest, pytest exited with: %v", err)
	}
	return string(out), duration
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}

// MeasureStability runs the suite repeatedly and classifies every observed
// test as stable, consistently failing or flaky.
func MeasureStability(opts *options.LabOptions) *StabilityResult {
	runs := opts.Config.ParallelTest.StabilityRuns
	basic.PrintfWithTimeStamp("Running sequential tests (%d iterations)...", runs)
	outcomes := []map[string]bool{}
	times := []float64{}
	for i := 0; i < runs; i++ {
		glog.Infof("stability iteration %d/%d", i+1, runs)
		out, duration := runPytest(opts)
		outcomes = append(outcomes, ParseRunOutput(out))
		times = append(times, duration)
		glog.Infof("execution time: %.2f seconds", duration)
	}
	failing, flaky := ClassifyRuns(outcomes)
	basic.PrintfWithTimeStamp("Consistently failing tests: %d, flaky tests: %d, average execution time: %.2f seconds",
		len(failing), len(flaky), mean(times))
	return &StabilityResult{
		FailingTests:   failing,
		FlakyTests:     flaky,
		ExecutionTimes: times,
	}
}

var allUnderscores = regexp.MustCompile(`^_+$`)

// WritePytestIni writes a pytest.ini into the project directory whose
// addopts deselect every given test. Names that are nothing but underscores
// cannot be deselected by -k, so those fall back to an ignore glob.
func WritePytestIni(projectDir string, excluded []string) error {
	globPatterns := []string{}
	regularTests := []string{}
	for _, test := range excluded {
		if allUnderscores.MatchString(test) {
			globPatterns = append(globPatterns, test)
		} else {
			regularTests = append(regularTests, test)
		}
	}
	var b strings.Builder
	b.WriteString("[pytest]\n")
	b.WriteString("addopts = ")
	for _, pattern := range globPatterns {
		fmt.Fprintf(&b, "--ignore-glob=\"*%s*\" ", pattern)
	}
	for _, test := range regularTests {
		name := test
		if strings.Contains(test, "::") {
			parts := strings.Split(test, "::")
			name = parts[len(parts)-1]
		}
		fmt.Fprintf(&b, "-k \"not %s\" ", name)
	}
	b.WriteString("\n")
	return os.WriteFile(filepath.Join(projectDir, "pytest.ini"), []byte(b.String()), 0644)
}

// VerifyExclusions re-runs the suite once after the exclusion config was
// written and returns the tests that still fail.
func VerifyExclusions(opts *options.LabOptions) []string {
	basic.PrintfWithTimeStamp("Verifying test suite is clean (no failing or flaky tests)...")
	out, _ := runPytest(opts)
	leftover := FailingTests(out)
	if len(leftover) > 0 {
		basic.PrintfWithTimeStamp("Warning: %d tests still failing even after excluding them in pytest.ini", len(leftover))
		for _, test := range leftover {
			glog.Warningf("still failing: %s", test)
		}
	} else {
		basic.PrintfWithTimeStamp("Test suite is clean, no failing tests detected.")
	}
	return leftover
}

// MeasureTiming takes the sequential baseline twice: a simple mean over
// repeated runs, and a nested mean of per-round means.
func MeasureTiming(opts *options.LabOptions) *SequentialTiming {
	inner := opts.Config.ParallelTest.TimingRuns
	outer := opts.Config.ParallelTest.NestedRounds

	basic.PrintfWithTimeStamp("Measuring sequential execution time (%d test suite runs, each with %d repetitions)...", outer, inner)
	outerAvgTimes := []float64{}
	allTimes := []float64{}
	for o := 0; o < outer; o++ {
		roundTimes := []float64{}
		for i := 0; i < inner; i++ {
			glog.Infof("test suite run %d/%d, repetition %d/%d", o+1, outer, i+1, inner)
			_, duration := runPytest(opts)
			roundTimes = append(roundTimes, duration)
			allTimes = append(allTimes, duration)
		}
		outerAvgTimes = append(outerAvgTimes, mean(roundTimes))
		glog.Infof("average execution time for test suite run %d: %.2f seconds", o+1, mean(roundTimes))
	}
	avgTimeNested := mean(outerAvgTimes)

	basic.PrintfWithTimeStamp("Measuring simple sequential execution time (%d executions)...", inner)
	simpleTimes := []float64{}
	for i := 0; i < inner; i++ {
		glog.Infof("execution %d/%d", i+1, inner)
		_, duration := runPytest(opts)
		simpleTimes = append(simpleTimes, duration)
	}
	avgTimeSimple := mean(simpleTimes)

	basic.PrintfWithTimeStamp("Tseq (%d repetitions of %d executions each): %.2f seconds", inner, outer, avgTimeNested)
	basic.PrintfWithTimeStamp("Tseq (%d executions): %.2f seconds", inner, avgTimeSimple)

	return &SequentialTiming{
		AvgTime:       avgTimeSimple,
		AvgTimeNested: avgTimeNested,
		AvgTimeSimple: avgTimeSimple,
		TseqNested: NestedTiming{
			Value:             avgTimeNested,
			Description:       fmt.Sprintf("Tseq (%d repetitions of %d executions each)", inner, outer),
			OuterAvgTimes:     outerAvgTimes,
			AllTimes:          allTimes,
			TestSuiteRuns:     outer,
			RepetitionsPerRun: inner,
		},
		TseqSimple: SimpleTiming{
			Value:           avgTimeSimple,
			Description:     fmt.Sprintf("Tseq (%d executions)", inner),
			Times:           simpleTimes,
			TotalExecutions: inner,
		},
	}
}

// RunSequential performs the whole sequential phase: stability runs, the
// exclusion config for unstable tests, one verification run, and the timing
// baseline. The results land in sequential_results.json and
// sequential_time.json under resultsDir.
func RunSequential(opts *options.LabOptions, resultsDir string) (*StabilityResult, *SequentialTiming, error) {
	stability := MeasureStability(opts)
	err := atomic.WriteJSON(filepath.Join(resultsDir, "sequential_results.json"), stability)
	if err != nil {
		return nil, nil, err
	}

	excluded := append(append([]string{}, stability.FailingTests...), stability.FlakyTests...)
	if len(excluded) > 0 {
		basic.PrintfWithTimeStamp("Creating pytest.ini to exclude failing and flaky tests...")
		err := WritePytestIni(opts.ProjectDir, excluded)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to write pytest.ini: %v", err)
		}
		leftover := VerifyExclusions(opts)
		if len(leftover) > 0 {
			basic.PrintfWithTimeStamp("Warning: test suite still has failing tests. Proceeding anyway...")
		}
	}

	timing := MeasureTiming(opts)
	err = atomic.WriteJSON(filepath.Join(resultsDir, "sequential_time.json"), timing)
	if err != nil {
		return nil, nil, err
	}
	return stability, timing, nil
}
