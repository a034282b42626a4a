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
	"math"
	"sort"
	"strconv"
	"strings"
)

type FailureCount struct {
	Test  string `json:"test"`
	Count int    `json:"count"`
}

type ConfigFailureRate struct {
	Config string  `json:"config"`
	Rate   float64 `json:"rate"`
}

// FailureAnalysis aggregates the failures observed across the whole grid.
type FailureAnalysis struct {
	AllFailingTests    []string            `json:"all_failing_tests"`
	MostCommonFailures []FailureCount      `json:"most_common_failures"`
	ConfigFailureRates []ConfigFailureRate `json:"config_failure_rates"`
}

func failureRate(failures []int) float64 {
	if len(failures) == 0 {
		return 0
	}
	failed := 0
	for _, count := range failures {
		if count > 0 {
			failed++
		}
	}
	return float64(failed) / float64(len(failures))
}

// AnalyzeFailures collects the unique failing tests, the ten most frequent
// failures and the per-configuration failure rates, highest first.
func AnalyzeFailures(results []ConfigResult) *FailureAnalysis {
	counter := map[string]int{}
	firstSeen := []string{}
	for _, result := range results {
		for _, iteration := range result.FailingTests {
			for _, test := range iteration {
				if counter[test] == 0 {
					firstSeen = append(firstSeen, test)
				}
				counter[test]++
			}
		}
	}

	allFailing := make([]string, 0, len(counter))
	allFailing = append(allFailing, firstSeen...)
	sort.Strings(allFailing)

	mostCommon := make([]FailureCount, 0, len(firstSeen))
	for _, test := range firstSeen {
		mostCommon = append(mostCommon, FailureCount{Test: test, Count: counter[test]})
	}
	sort.SliceStable(mostCommon, func(i, j int) bool {
		return mostCommon[i].Count > mostCommon[j].Count
	})
	if len(mostCommon) > 10 {
		mostCommon = mostCommon[:10]
	}

	rates := make([]ConfigFailureRate, 0, len(results))
	for _, result := range results {
		rates = append(rates, ConfigFailureRate{
			Config: result.Config.String(),
			Rate:   failureRate(result.Failures),
		})
	}
	sort.SliceStable(rates, func(i, j int) bool {
		return rates[i].Rate > rates[j].Rate
	})

	return &FailureAnalysis{
		AllFailingTests:    allFailing,
		MostCommonFailures: mostCommon,
		ConfigFailureRates: rates,
	}
}

// CategorizedFailures buckets failing tests by the likely cause, guessed
// from the test name.
type CategorizedFailures struct {
	SharedResources   []string `json:"shared_resources"`
	TimingIssues      []string `json:"timing_issues"`
	OrderDependencies []string `json:"order_dependencies"`
	OtherIssues       []string `json:"other_issues"`
}

func containsAny(s string, substrings ...string) bool {
	for _, substring := range substrings {
		if strings.Contains(s, substring) {
			return true
		}
	}
	return false
}

// CategorizeFailures applies the name heuristics: shared state, timing,
// ordering, or unknown.
func CategorizeFailures(tests []string) *CategorizedFailures {
	categorized := &CategorizedFailures{
		SharedResources:   []string{},
		TimingIssues:      []string{},
		OrderDependencies: []string{},
		OtherIssues:       []string{},
	}
	for _, test := range tests {
		lower := strings.ToLower(test)
		switch {
		case containsAny(lower, "global", "state", "resource"):
			categorized.SharedResources = append(categorized.SharedResources, test)
		case containsAny(lower, "time", "wait", "sleep"):
			categorized.TimingIssues = append(categorized.TimingIssues, test)
		case containsAny(lower, "order", "sequence", "depend"):
			categorized.OrderDependencies = append(categorized.OrderDependencies, test)
		default:
			categorized.OtherIssues = append(categorized.OtherIssues, test)
		}
	}
	return categorized
}

// MatrixRow is one configuration of the execution matrix, with times and
// rates rounded for presentation.
type MatrixRow struct {
	WorkerCount string  `json:"worker_count"`
	ThreadCount string  `json:"thread_count"`
	DistMode    string  `json:"dist_mode"`
	AvgTime     float64 `json:"avg_time"`
	Speedup     float64 `json:"speedup"`
	Failures    string  `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// ExecutionMatrix renders the grid results into presentation rows.
func ExecutionMatrix(results []ConfigResult) []MatrixRow {
	rows := make([]MatrixRow, 0, len(results))
	for _, result := range results {
		counts := make([]string, 0, len(result.Failures))
		for _, count := range result.Failures {
			counts = append(counts, strconv.Itoa(count))
		}
		rows = append(rows, MatrixRow{
			WorkerCount: result.Config.WorkerCount,
			ThreadCount: result.Config.ThreadCount,
			DistMode:    result.Config.DistMode,
			AvgTime:     round2(result.Tpar),
			Speedup:     round2(result.Speedup),
			Failures:    strings.Join(counts, ", "),
			FailureRate: round2(failureRate(result.Failures)),
		})
	}
	return rows
}

// PrintMatrix dumps the execution matrix to stdout, one configuration per
// line.
func PrintMatrix(rows []MatrixRow) {
	for _, row := range rows {
		fmt.Printf("workers=%s threads=%s dist=%s: %.2fs avg, speedup %.2fx, failure rate %.0f%%\n",
			row.WorkerCount, row.ThreadCount, row.DistMode,
			row.AvgTime, row.Speedup, row.FailureRate*100)
	}
}

// AssessReadiness judges how far the suite is from safe parallel execution
// by the number of unique failing tests, then appends what the failure
// categories imply.
func AssessReadiness(analysis *FailureAnalysis, categorized *CategorizedFailures) string {
	totalFailures := len(analysis.AllFailingTests)
	var readiness string
	switch {
	case totalFailures == 0:
		readiness = "The project is fully ready for parallel testing. No failures were detected in parallel execution."
	case totalFailures < 5:
		readiness = "The project is mostly ready for parallel testing. A few failures were detected, but they can be addressed with minor changes."
	case totalFailures < 15:
		readiness = "The project has moderate readiness for parallel testing. Several failures were detected, indicating potential issues with test isolation."
	default:
		readiness = "The project is not ready for parallel testing. Numerous failures indicate significant issues with test isolation and shared state."
	}

	if len(categorized.SharedResources) > 0 {
		readiness += fmt.Sprintf("\n\nShared resource issues (%d tests) suggest that tests are modifying global state or accessing shared resources without proper isolation.", len(categorized.SharedResources))
	}
	if len(categorized.TimingIssues) > 0 {
		readiness += fmt.Sprintf("\n\nTiming issues (%d tests) suggest that tests rely on specific timing or contain race conditions that become problematic in parallel execution.", len(categorized.TimingIssues))
	}
	if len(categorized.OrderDependencies) > 0 {
		readiness += fmt.Sprintf("\n\nOrder dependencies (%d tests) indicate that some tests depend on others being run first, which violates test independence principles.", len(categorized.OrderDependencies))
	}
	return readiness
}

// SuggestImprovements composes the improvement recommendations matching the
// observed failure categories.
func SuggestImprovements(categorized *CategorizedFailures) string {
	improvements := "Based on the analysis, the following improvements would enhance parallel testing readiness:\n\n"

	if len(categorized.SharedResources) > 0 {
		improvements += `1. **Improve Test Isolation**:
   - Use fixtures to create isolated test environments
   - Avoid modifying global state or shared resources
   - Implement proper setup/teardown to reset state between tests
   - Use mocking to avoid dependencies on shared resources

`
	}
	if len(categorized.TimingIssues) > 0 {
		improvements += `2. **Address Timing Issues**:
   - Replace time-dependent tests with deterministic alternatives
   - Use appropriate mocking for time-dependent functions
   - Implement more robust waiting mechanisms instead of fixed sleeps
   - Add retry mechanisms for flaky tests that cannot be made deterministic

`
	}
	if len(categorized.OrderDependencies) > 0 {
		improvements += `3. **Eliminate Order Dependencies**:
   - Ensure each test sets up its own prerequisites
   - Use fixtures to create necessary preconditions
   - Refactor tests to be truly independent
   - Mark tests with unavoidable dependencies using pytest markers

`
	}
	improvements += `4. **General Improvements**:
   - Use pytest-xdist with ` + "`--dist=loadfile`" + ` to run tests from the same file on the same worker
   - Add proper test documentation indicating parallel execution limitations
   - Implement a CI pipeline that runs tests both sequentially and in parallel
   - Regularly review test logs to identify and address flaky tests`

	return improvements
}
