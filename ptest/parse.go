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

// Package ptest measures how a pytest suite behaves sequentially and under
// pytest-xdist/pytest-run-parallel configurations: stability over repeated
// runs, timing baselines, parallel speedups and a readiness report.
package ptest

import (
	"sort"
	"strings"
)

// ParseRunOutput scans verbose pytest output for per-test verdicts. The test
// id is the first whitespace-separated field of a verdict line. An ERROR
// verdict counts as a failure.
func ParseRunOutput(output string) map[string]bool {
	statuses := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if !strings.Contains(line, " PASSED ") &&
			!strings.Contains(line, " FAILED ") &&
			!strings.Contains(line, " ERROR ") {
			continue
		}
		parts := strings.Split(line, " ")
		statuses[parts[0]] = strings.Contains(line, " PASSED ")
	}
	return statuses
}

// FailingTests returns the sorted test ids that failed in one run.
func FailingTests(output string) []string {
	failing := []string{}
	for test, passed := range ParseRunOutput(output) {
		if !passed {
			failing = append(failing, test)
		}
	}
	sort.Strings(failing)
	return failing
}

// ClassifyRuns splits tests into consistent failures and flaky tests over
// repeated runs. A test missing from some runs is judged on the runs it
// appeared in.
func ClassifyRuns(runs []map[string]bool) (failing, flaky []string) {
	passCount := map[string]int{}
	failCount := map[string]int{}
	for _, run := range runs {
		for test, passed := range run {
			if passed {
				passCount[test]++
			} else {
				failCount[test]++
			}
		}
	}
	failing = []string{}
	flaky = []string{}
	for test, failed := range failCount {
		if failed == 0 {
			continue
		}
		if passCount[test] == 0 {
			failing = append(failing, test)
		} else {
			flaky = append(flaky, test)
		}
	}
	sort.Strings(failing)
	sort.Strings(flaky)
	return failing, flaky
}
