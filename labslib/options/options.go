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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/golang/glog"
	"github.com/google/shlex"
	"gopkg.in/yaml.v2"
	"naive.systems/testlab/cpumem"
	"naive.systems/testlab/labslib/basic"
)

type ArrayFlags []string

func (i *ArrayFlags) String() string {
	return "array flags"
}

func (i *ArrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// ProjectConfig carries the per-pipeline settings read from the YAML file
// named by -config_path. Zero values fall back to the defaults applied in
// LoadProjectConfig.
type ProjectConfig struct {
	ProjectName       string                `yaml:"project_name,omitempty"`
	IgnoreDirPatterns []string              `yaml:"ignore_dir_patterns,omitempty"`
	Coverage          CoverageConfig        `yaml:"coverage,omitempty"`
	TestGen           TestGenConfig         `yaml:"testgen,omitempty"`
	ParallelTest      ParallelTestConfig    `yaml:"paralleltest,omitempty"`
	SecurityHistory   SecurityHistoryConfig `yaml:"securityhistory,omitempty"`
}

type CoverageConfig struct {
	ReportPath           string  `yaml:"report_path,omitempty"`
	BaselineReportPath   string  `yaml:"baseline_report_path,omitempty"`
	GoProfilePath        string  `yaml:"go_profile_path,omitempty"`
	LowCoverageThreshold float64 `yaml:"low_coverage_threshold,omitempty"`
	// SourceRoot is the directory measured files live under. Module rollups
	// group by the path segment right below it. Empty means autodetect.
	SourceRoot string `yaml:"source_root,omitempty"`
}

type TestGenConfig struct {
	Modules      []string `yaml:"modules,omitempty"`
	SearchBudget int      `yaml:"search_budget,omitempty"`
	OutputRoot   string   `yaml:"output_root,omitempty"`
	Algorithm    string   `yaml:"algorithm,omitempty"`
	PynguinArgs  string   `yaml:"pynguin_args,omitempty"`
}

type ParallelTestConfig struct {
	StabilityRuns int `yaml:"stability_runs,omitempty"`
	TimingRuns    int `yaml:"timing_runs,omitempty"`
	NestedRounds  int `yaml:"nested_rounds,omitempty"`
	// Counts are strings because pytest-xdist accepts "auto" as well as
	// plain numbers.
	WorkerCounts []string `yaml:"worker_counts,omitempty"`
	ThreadCounts []string `yaml:"thread_counts,omitempty"`
	DistModes    []string `yaml:"dist_modes,omitempty"`
	Iterations   int      `yaml:"iterations,omitempty"`
	PytestArgs   string   `yaml:"pytest_args,omitempty"`
}

type SecurityHistoryConfig struct {
	MaxCommits    int    `yaml:"max_commits,omitempty"`
	HistoryWindow int    `yaml:"history_window,omitempty"`
	RestoreBranch string `yaml:"restore_branch,omitempty"`
	BanditArgs    string `yaml:"bandit_args,omitempty"`
	DatabaseURL   string `yaml:"database_url,omitempty"`
}

// LoadProjectConfig reads the YAML project configuration. A missing path
// yields the default configuration so every pipeline can run unconfigured.
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	config := &ProjectConfig{}
	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("os.ReadFile: %v", err)
		}
		err = yaml.Unmarshal(contents, config)
		if err != nil {
			return nil, fmt.Errorf("yaml.Unmarshal: %v", err)
		}
	}
	if config.Coverage.ReportPath == "" {
		config.Coverage.ReportPath = "coverage.json"
	}
	if config.Coverage.LowCoverageThreshold == 0 {
		config.Coverage.LowCoverageThreshold = 100
	}
	if config.TestGen.SearchBudget == 0 {
		config.TestGen.SearchBudget = 60
	}
	if config.TestGen.OutputRoot == "" {
		config.TestGen.OutputRoot = "pynguin_tests"
	}
	if config.TestGen.Algorithm == "" {
		config.TestGen.Algorithm = "DYNAMOSA"
	}
	if config.ParallelTest.StabilityRuns == 0 {
		config.ParallelTest.StabilityRuns = 10
	}
	if config.ParallelTest.TimingRuns == 0 {
		config.ParallelTest.TimingRuns = 5
	}
	if config.ParallelTest.NestedRounds == 0 {
		config.ParallelTest.NestedRounds = 3
	}
	if len(config.ParallelTest.WorkerCounts) == 0 {
		config.ParallelTest.WorkerCounts = []string{"1", "auto"}
	}
	if len(config.ParallelTest.ThreadCounts) == 0 {
		config.ParallelTest.ThreadCounts = []string{"1", "auto"}
	}
	if len(config.ParallelTest.DistModes) == 0 {
		config.ParallelTest.DistModes = []string{"no", "load"}
	}
	if config.ParallelTest.Iterations == 0 {
		config.ParallelTest.Iterations = 3
	}
	if config.SecurityHistory.MaxCommits == 0 {
		config.SecurityHistory.MaxCommits = 100
	}
	if config.SecurityHistory.HistoryWindow == 0 {
		config.SecurityHistory.HistoryWindow = 200
	}
	if config.SecurityHistory.RestoreBranch == "" {
		config.SecurityHistory.RestoreBranch = "main"
	}
	return config, nil
}

// WriteProjectConfig saves config as YAML, used to record the effective
// settings next to the results.
func WriteProjectConfig(config *ProjectConfig, path string) error {
	yamlData, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("parse struct to yaml: %v", err)
	}
	err = os.WriteFile(path, yamlData, os.ModePerm)
	if err != nil {
		return fmt.Errorf("write yaml data to file: %v", err)
	}
	return nil
}

// LabOptions is the resolved environment every pipeline runs with.
type LabOptions struct {
	ResultsDir        string
	LogDir            string
	ProjectDir        string
	ProjectName       string
	Config            *ProjectConfig
	IgnoreDirPatterns ArrayFlags
	CheckProgress     bool
	Debug             bool
	ShowResults       bool
	LimitMemory       bool
	AvailMemRatio     float64
	NumWorkers        int32
	TimeoutNormal     int
	TimeoutGenerate   int
	Lang              string
	PythonBin         string
	PytestBin         string
	CoverageBin       string
	BanditBin         string
	PynguinBin        string
}

func NewLabOptions(sharedOptions *SharedOptions, config *ProjectConfig, logDir string, numWorkers int32) *LabOptions {
	labOptions := &LabOptions{}
	labOptions.ResultsDir = sharedOptions.GetResultsDir()
	labOptions.LogDir = logDir
	labOptions.ProjectDir = sharedOptions.GetProjectDir()
	labOptions.ProjectName = sharedOptions.GetProjectName()
	if labOptions.ProjectName == "" {
		labOptions.ProjectName = config.ProjectName
	}
	labOptions.Config = config
	labOptions.IgnoreDirPatterns = sharedOptions.GetIgnoreDirPatterns()
	labOptions.IgnoreDirPatterns = append(labOptions.IgnoreDirPatterns, config.IgnoreDirPatterns...)
	labOptions.CheckProgress = sharedOptions.GetCheckProgress()
	labOptions.Debug = sharedOptions.GetDebugMode()
	labOptions.ShowResults = sharedOptions.GetShowResults()
	labOptions.LimitMemory = sharedOptions.GetLimitMemory()
	labOptions.AvailMemRatio = sharedOptions.GetAvailMemRatio()
	labOptions.NumWorkers = numWorkers
	labOptions.TimeoutNormal = sharedOptions.GetTimeoutNormal()
	labOptions.TimeoutGenerate = sharedOptions.GetTimeoutGenerate()
	labOptions.Lang = sharedOptions.GetLang()
	labOptions.PythonBin = sharedOptions.GetPythonBin()
	labOptions.PytestBin = sharedOptions.GetPytestBin()
	labOptions.CoverageBin = sharedOptions.GetCoverageBin()
	labOptions.BanditBin = sharedOptions.GetBanditBin()
	labOptions.PynguinBin = sharedOptions.GetPynguinBin()
	return labOptions
}

// PipelineResultDir creates and returns the result subdirectory of a
// pipeline.
func (o *LabOptions) PipelineResultDir(pipelineName string) (string, error) {
	dir := filepath.Join(o.ResultsDir, pipelineName)
	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		return "", fmt.Errorf("failed to create result dir: %v", err)
	}
	return dir, nil
}

func ParseLimitMemory(sharedOptions *SharedOptions, numWorkersStr string) (int32, error) {
	num_workers, err := strconv.ParseInt(numWorkersStr, 10, 32)
	if err != nil {
		return int32(num_workers), fmt.Errorf("invalid number of workers: %v", err)
	}
	numWorkers := int32(num_workers)
	if numWorkers == 0 {
		numWorkers = int32(runtime.NumCPU())
	}
	if sharedOptions.GetLimitMemory() && sharedOptions.GetAvailMemRatio() >= 0 {
		err := basic.InitCgroup()
		if err != nil {
			return numWorkers, fmt.Errorf("failed to create cgroup for testlab: %v", err)
		}
		totalAvailMem, err := basic.GetTotalAvailMem()
		if err != nil {
			return numWorkers, fmt.Errorf("failed to get available memory: %v", err)
		}
		cpumem.Init(int(numWorkers), int(float64(totalAvailMem)*sharedOptions.GetAvailMemRatio()))
	} else {
		cpumem.Init(int(numWorkers), 0)
		sharedOptions.SetLimitMemory(false)
	}
	return numWorkers, nil
}

func CreateResultDir(resultsDir string) error {
	dir, err := os.Stat(resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			err = os.MkdirAll(resultsDir, os.ModePerm)
			return err
		} else {
			return err
		}
	}

	if !dir.IsDir() {
		// a file exists instead of dir
		return os.ErrExist
	}

	return nil
}

func CreateLogDir(logDir string) error {
	err := os.MkdirAll(logDir, os.ModePerm)
	if err != nil {
		return err
	}
	toolLogDir := filepath.Join(logDir, "tools")
	err = os.MkdirAll(toolLogDir, os.ModePerm)
	if err != nil {
		return err
	}
	return nil
}

func MatchIgnoreDirPatterns(ignoreDirPatterns []string, filePath string) (bool, error) {
	matched := false
	var err error
	for _, ignoreDirPattern := range ignoreDirPatterns {
		matched, err = doublestar.Match(ignoreDirPattern, filePath)
		if err != nil {
			return matched, fmt.Errorf("malformed ignore_dir pattern %s", ignoreDirPattern)
		}
		if matched {
			return matched, nil
		}
	}
	return matched, nil
}

// SplitToolArgs splits an extra-arguments string from the configuration the
// way a shell would.
func SplitToolArgs(args string) []string {
	if args == "" {
		return nil
	}
	split, err := shlex.Split(args)
	if err != nil {
		glog.Warningf("shlex.Split: %v", args)
		return nil
	}
	return split
}
