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
	"flag"
)

type SharedOptions struct {
	AvailMemRatio     *float64
	BanditBin         *string
	CheckProgress     *bool
	ConfigPath        *string
	CoverageBin       *string
	DebugMode         *bool
	IgnoreDirPatterns ArrayFlags
	Lang              *string
	LimitMemory       *bool
	Pipelines         *string
	ProjectDir        *string
	ProjectName       *string
	PynguinBin        *string
	PytestBin         *string
	PythonBin         *string
	ResultsDir        *string
	ShowResults       *bool
	TimeoutGenerate   *int
	TimeoutNormal     *int
}

func (s SharedOptions) GetAvailMemRatio() float64 {
	return *s.AvailMemRatio
}

func (s SharedOptions) GetBanditBin() string {
	return *s.BanditBin
}

func (s SharedOptions) GetCheckProgress() bool {
	return *s.CheckProgress
}

func (s SharedOptions) GetConfigPath() string {
	return *s.ConfigPath
}

func (s SharedOptions) GetCoverageBin() string {
	return *s.CoverageBin
}

func (s SharedOptions) GetDebugMode() bool {
	return *s.DebugMode
}

func (s SharedOptions) GetIgnoreDirPatterns() ArrayFlags {
	return s.IgnoreDirPatterns
}

func (s SharedOptions) GetLang() string {
	return *s.Lang
}

func (s SharedOptions) GetLimitMemory() bool {
	return *s.LimitMemory
}

func (s SharedOptions) GetPipelines() string {
	return *s.Pipelines
}

func (s SharedOptions) GetProjectDir() string {
	return *s.ProjectDir
}

func (s SharedOptions) GetProjectName() string {
	return *s.ProjectName
}

func (s SharedOptions) GetPynguinBin() string {
	return *s.PynguinBin
}

func (s SharedOptions) GetPytestBin() string {
	return *s.PytestBin
}

func (s SharedOptions) GetPythonBin() string {
	return *s.PythonBin
}

func (s SharedOptions) GetResultsDir() string {
	return *s.ResultsDir
}

func (s SharedOptions) GetShowResults() bool {
	return *s.ShowResults
}

func (s SharedOptions) GetTimeoutGenerate() int {
	return *s.TimeoutGenerate
}

func (s SharedOptions) GetTimeoutNormal() int {
	return *s.TimeoutNormal
}

func (s SharedOptions) SetLang(lang string) {
	*s.Lang = lang
}

func (s SharedOptions) SetLimitMemory(limit bool) {
	*s.LimitMemory = limit
}

func (s SharedOptions) SetProjectDir(projectDir string) {
	*s.ProjectDir = projectDir
}

type DefaultOptionValues struct {
	AvailMemRatio   float64
	BanditBin       string
	CheckProgress   bool
	ConfigPath      string
	CoverageBin     string
	DebugMode       bool
	Lang            string
	LimitMemory     bool
	Pipelines       string
	ProjectDir      string
	ProjectName     string
	PynguinBin      string
	PytestBin       string
	PythonBin       string
	ResultsDir      string
	ShowResults     bool
	TimeoutGenerate int
	TimeoutNormal   int
}

var Defaults = DefaultOptionValues{
	AvailMemRatio:   0.9,
	BanditBin:       "bandit",
	CheckProgress:   true,
	ConfigPath:      "",
	CoverageBin:     "coverage",
	DebugMode:       false,
	Lang:            "en",
	LimitMemory:     false,
	Pipelines:       "",
	ProjectDir:      "/src",
	ProjectName:     "",
	PynguinBin:      "pynguin",
	PytestBin:       "pytest",
	PythonBin:       "python3",
	ResultsDir:      "/output",
	ShowResults:     false,
	TimeoutGenerate: 600,
	TimeoutNormal:   300,
}

func NewSharedOptions() *SharedOptions {
	option := &SharedOptions{}

	option.AvailMemRatio = flag.Float64("avail_mem_ratio", Defaults.AvailMemRatio, "The ratio of available memory to be used. Negative value means no limitation")
	option.BanditBin = flag.String("bandit_bin", Defaults.BanditBin, "Bandit binary location")
	option.CheckProgress = flag.Bool("check_progress", Defaults.CheckProgress, "Show the pipeline progress")
	option.ConfigPath = flag.String("config_path", Defaults.ConfigPath, "Path to the project configuration file in YAML format")
	option.CoverageBin = flag.String("coverage_bin", Defaults.CoverageBin, "Coverage binary location")
	option.DebugMode = flag.Bool("debug_mode", Defaults.DebugMode, "Whether to display error information")
	option.Lang = flag.String("lang", Defaults.Lang, "Language of printed messages")
	option.LimitMemory = flag.Bool("limit_memory", Defaults.LimitMemory, "Whether to limit memory usage of generation tasks")
	option.Pipelines = flag.String("pipelines", Defaults.Pipelines, "Comma-separated pipelines to run. Empty means all")
	option.ProjectDir = flag.String("project_dir", Defaults.ProjectDir, "Absolute path to the project under analysis")
	option.ProjectName = flag.String("project_name", Defaults.ProjectName, "Name of the project under analysis")
	option.PynguinBin = flag.String("pynguin_bin", Defaults.PynguinBin, "Pynguin binary location")
	option.PytestBin = flag.String("pytest_bin", Defaults.PytestBin, "Pytest binary location")
	option.PythonBin = flag.String("python_bin", Defaults.PythonBin, "Python binary location")
	option.ResultsDir = flag.String("results_dir", Defaults.ResultsDir, "Absolute path to the directory where results are written")
	option.ShowResults = flag.Bool("show_results", Defaults.ShowResults, "Print result summaries to stdout when pipelines finish")
	option.TimeoutGenerate = flag.Int("timeout_generate", Defaults.TimeoutGenerate, "Wall-clock timeout in seconds for a single test generation task")
	option.TimeoutNormal = flag.Int("timeout_normal", Defaults.TimeoutNormal, "Wall-clock timeout in seconds for a single tool invocation")
	flag.Var(&option.IgnoreDirPatterns, "ignore_dir", "The dir patterns to be ignored. This option can be used multiple times")

	return option
}
