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

package options

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadProjectConfigDefaults(t *testing.T) {
	config, err := LoadProjectConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if config.Coverage.ReportPath != "coverage.json" {
		t.Errorf("unexpected report path: %s", config.Coverage.ReportPath)
	}
	if config.Coverage.LowCoverageThreshold != 100 {
		t.Errorf("unexpected threshold: %v", config.Coverage.LowCoverageThreshold)
	}
	if config.TestGen.SearchBudget != 60 {
		t.Errorf("unexpected search budget: %d", config.TestGen.SearchBudget)
	}
	if config.TestGen.OutputRoot != "pynguin_tests" {
		t.Errorf("unexpected output root: %s", config.TestGen.OutputRoot)
	}
	if config.TestGen.Algorithm != "DYNAMOSA" {
		t.Errorf("unexpected algorithm: %s", config.TestGen.Algorithm)
	}
	if config.ParallelTest.StabilityRuns != 10 || config.ParallelTest.TimingRuns != 5 {
		t.Errorf("unexpected run counts: %+v", config.ParallelTest)
	}
	if config.ParallelTest.NestedRounds != 3 || config.ParallelTest.Iterations != 3 {
		t.Errorf("unexpected round counts: %+v", config.ParallelTest)
	}
	if !reflect.DeepEqual(config.ParallelTest.WorkerCounts, []string{"1", "auto"}) {
		t.Errorf("unexpected worker counts: %v", config.ParallelTest.WorkerCounts)
	}
	if !reflect.DeepEqual(config.ParallelTest.ThreadCounts, []string{"1", "auto"}) {
		t.Errorf("unexpected thread counts: %v", config.ParallelTest.ThreadCounts)
	}
	if !reflect.DeepEqual(config.ParallelTest.DistModes, []string{"no", "load"}) {
		t.Errorf("unexpected dist modes: %v", config.ParallelTest.DistModes)
	}
	if config.SecurityHistory.MaxCommits != 100 {
		t.Errorf("unexpected max commits: %d", config.SecurityHistory.MaxCommits)
	}
	if config.SecurityHistory.HistoryWindow != 200 {
		t.Errorf("unexpected history window: %d", config.SecurityHistory.HistoryWindow)
	}
	if config.SecurityHistory.RestoreBranch != "main" {
		t.Errorf("unexpected restore branch: %s", config.SecurityHistory.RestoreBranch)
	}
}

func TestLoadProjectConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testlab.yaml")
	contents := `project_name: flask
ignore_dir_patterns:
  - "**/examples/**"
coverage:
  report_path: reports/coverage.json
  low_coverage_threshold: 80
testgen:
  search_budget: 120
paralleltest:
  worker_counts: ["1", "2", "4"]
securityhistory:
  max_commits: 50
  database_url: postgres://localhost/testlab
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadProjectConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.ProjectName != "flask" {
		t.Errorf("unexpected project name: %s", config.ProjectName)
	}
	if !reflect.DeepEqual(config.IgnoreDirPatterns, []string{"**/examples/**"}) {
		t.Errorf("unexpected ignore patterns: %v", config.IgnoreDirPatterns)
	}
	if config.Coverage.ReportPath != "reports/coverage.json" {
		t.Errorf("unexpected report path: %s", config.Coverage.ReportPath)
	}
	if config.Coverage.LowCoverageThreshold != 80 {
		t.Errorf("unexpected threshold: %v", config.Coverage.LowCoverageThreshold)
	}
	if config.TestGen.SearchBudget != 120 {
		t.Errorf("unexpected search budget: %d", config.TestGen.SearchBudget)
	}
	if !reflect.DeepEqual(config.ParallelTest.WorkerCounts, []string{"1", "2", "4"}) {
		t.Errorf("unexpected worker counts: %v", config.ParallelTest.WorkerCounts)
	}
	if config.SecurityHistory.MaxCommits != 50 {
		t.Errorf("unexpected max commits: %d", config.SecurityHistory.MaxCommits)
	}
	if config.SecurityHistory.DatabaseURL != "postgres://localhost/testlab" {
		t.Errorf("unexpected database url: %s", config.SecurityHistory.DatabaseURL)
	}
	// Settings absent from the file keep their defaults.
	if config.TestGen.Algorithm != "DYNAMOSA" {
		t.Errorf("unexpected algorithm: %s", config.TestGen.Algorithm)
	}
	if config.SecurityHistory.HistoryWindow != 200 {
		t.Errorf("unexpected history window: %d", config.SecurityHistory.HistoryWindow)
	}
}

func TestLoadProjectConfigMissingFile(t *testing.T) {
	_, err := LoadProjectConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestWriteProjectConfigRoundTrip(t *testing.T) {
	config, err := LoadProjectConfig("")
	if err != nil {
		t.Fatal(err)
	}
	config.ProjectName = "requests"
	path := filepath.Join(t.TempDir(), "effective.yaml")
	if err := WriteProjectConfig(config, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadProjectConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded, config) {
		t.Errorf("config changed through the round trip.\nwritten: %+v\nloaded: %+v", config, loaded)
	}
}

func TestMatchIgnoreDirPatterns(t *testing.T) {
	for _, testCase := range [...]struct {
		name     string
		patterns []string
		filePath string
		expected bool
	}{
		{
			name:     "matches nested tests dir",
			patterns: []string{"**/tests/**"},
			filePath: "pkg/tests/test_app.py",
			expected: true,
		},
		{
			name:     "no match",
			patterns: []string{"**/tests/**"},
			filePath: "pkg/app.py",
			expected: false,
		},
		{
			name:     "second pattern matches",
			patterns: []string{"**/docs/**", "**/__init__.py"},
			filePath: "pkg/__init__.py",
			expected: true,
		},
		{
			name:     "no patterns",
			patterns: nil,
			filePath: "pkg/app.py",
			expected: false,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			matched, err := MatchIgnoreDirPatterns(testCase.patterns, testCase.filePath)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if matched != testCase.expected {
				t.Errorf("unexpected match for %s. got: %v. expected: %v.", testCase.filePath, matched, testCase.expected)
			}
		})
	}
}

func TestMatchIgnoreDirPatternsMalformed(t *testing.T) {
	_, err := MatchIgnoreDirPatterns([]string{"[invalid"}, "pkg/app.py")
	if err == nil {
		t.Error("expected an error for a malformed pattern")
	}
}

func TestSplitToolArgs(t *testing.T) {
	for _, testCase := range [...]struct {
		name     string
		args     string
		expected []string
	}{
		{
			name:     "empty",
			args:     "",
			expected: nil,
		},
		{
			name:     "plain flags",
			args:     "-v --tb=short",
			expected: []string{"-v", "--tb=short"},
		},
		{
			name:     "quoted argument",
			args:     `--deselect "tests/test slow.py"`,
			expected: []string{"--deselect", "tests/test slow.py"},
		},
		{
			name:     "unterminated quote",
			args:     `--flag "broken`,
			expected: nil,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			split := SplitToolArgs(testCase.args)
			if !reflect.DeepEqual(split, testCase.expected) {
				t.Errorf("unexpected split of %q. got: %v. expected: %v.", testCase.args, split, testCase.expected)
			}
		})
	}
}

func TestCreateResultDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	if err := CreateResultDir(dir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("result dir was not created: %v", err)
	}
	// A second call on the existing dir succeeds.
	if err := CreateResultDir(dir); err != nil {
		t.Error(err)
	}
}

func TestCreateResultDirFileInTheWay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CreateResultDir(path); err == nil {
		t.Error("expected an error when a file blocks the result dir")
	}
}

func TestCreateLogDir(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	if err := CreateLogDir(logDir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(logDir, "tools"))
	if err != nil || !info.IsDir() {
		t.Errorf("tools log dir was not created: %v", err)
	}
}

func TestPipelineResultDir(t *testing.T) {
	opts := &LabOptions{ResultsDir: t.TempDir()}
	dir, err := opts.PipelineResultDir("coverage")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(opts.ResultsDir, "coverage") {
		t.Errorf("unexpected pipeline dir: %s", dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("pipeline dir was not created: %v", err)
	}
}
