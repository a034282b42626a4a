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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatTestList(t *testing.T) {
	for _, tt := range [...]struct {
		name     string
		tests    []string
		limit    int
		indent   string
		expected string
	}{
		{"within limit", []string{"a", "b"}, 3, "", "- a\n- b"},
		{"truncated", []string{"a", "b", "c", "d"}, 3, "", "- a\n- b\n- c (and more...)"},
		{"indented", []string{"a"}, 3, "   ", "   - a"},
		{"empty", nil, 3, "", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := formatTestList(tt.tests, tt.limit, tt.indent)
			if got != tt.expected {
				t.Errorf("unexpected list. got: %q, expected: %q.", got, tt.expected)
			}
		})
	}
}

func TestWriteReport(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ptest_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	results := sampleConfigResults()
	analysis := AnalyzeFailures(results)
	categorized := CategorizeFailures(analysis.AllFailingTests)
	matrix := ExecutionMatrix(results)
	readiness := AssessReadiness(analysis, categorized)
	improvements := SuggestImprovements(categorized)
	stability := &StabilityResult{
		FailingTests:   []string{"tests/test_cfg.py::test_global_config"},
		FlakyTests:     []string{},
		ExecutionTimes: []float64{10, 10, 10},
	}

	path := filepath.Join(tmpDir, "test_parallelization_report.md")
	err = WriteReport(path, "sample-project", "abc123", stability, 10.0,
		matrix, analysis, categorized, readiness, improvements)
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	report := string(contents)

	for _, expected := range []string{
		"# Test Parallelization Report",
		"- Repository: sample-project",
		"- Commit Hash: abc123",
		"- Tseq = 10.00 seconds",
		"| Worker Count | Thread Count | Distribution Mode | Average Time (s) | Speedup | Failures | Failure Rate |",
		"| auto | 1 | load | 4.00 | 2.50 | 2, 1, 2 | 1.00 |",
		"- tests/test_cfg.py::test_global_config: Failed in 3 executions",
		"- -n auto --dist load --parallel-threads 1: 1.00 failure rate",
		"### Project Readiness Assessment",
		"### Suggestions for pytest Developers",
	} {
		if !strings.Contains(report, expected) {
			t.Errorf("report does not contain %q", expected)
		}
	}
}
