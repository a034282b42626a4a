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

// Package pygen drives pynguin to generate unit tests for modules whose
// coverage is below the configured threshold.
package pygen

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
)

const (
	StatusGenerated = "generated"
	StatusNoTests   = "no-tests"
	StatusTimeout   = "timeout"
	StatusFailed    = "failed"
)

// ModuleResult records one generation attempt.
type ModuleResult struct {
	Path      string   `json:"path"`
	Module    string   `json:"module"`
	Status    string   `json:"status"`
	Duration  float64  `json:"duration_seconds"`
	TestFiles []string `json:"test_files,omitempty"`
}

// ModuleNameFromPath turns a source path relative to the project root into
// the dotted module name pynguin expects.
func ModuleNameFromPath(path string) string {
	module := strings.ReplaceAll(filepath.ToSlash(path), "/", ".")
	return strings.TrimSuffix(module, ".py")
}

// OutputDirForModule is where the generated tests of one module land,
// relative to the project root.
func OutputDirForModule(outputRoot, module string) string {
	return filepath.Join(outputRoot, strings.ReplaceAll(module, ".", "_"))
}

func listTestFiles(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "test_*.py"))
	if err != nil {
		glog.Warning(err)
		return nil
	}
	testFiles := []string{}
	for _, match := range matches {
		testFiles = append(testFiles, filepath.Base(match))
	}
	return testFiles
}

// GenerateTestsForModule runs pynguin for one source file. The output
// directory is kept only when at least one test file was generated; a kept
// directory gets an __init__.py so the tests are importable.
func GenerateTestsForModule(filePath string, opts *options.LabOptions) ModuleResult {
	cfg := opts.Config.TestGen
	module := ModuleNameFromPath(filePath)
	result := ModuleResult{Path: filePath, Module: module}

	outputDir := filepath.Join(opts.ProjectDir, OutputDirForModule(cfg.OutputRoot, module))
	err := os.MkdirAll(outputDir, os.ModePerm)
	if err != nil {
		glog.Errorf("failed to create output dir %s: %v", outputDir, err)
		result.Status = StatusFailed
		return result
	}

	args := []string{
		"--project-path=.",
		"--output-path=" + outputDir,
		"--module-name=" + module,
		"--algorithm=" + cfg.Algorithm,
		"--budget", strconv.Itoa(cfg.SearchBudget),
		"-v",
	}
	args = append(args, options.SplitToolArgs(cfg.PynguinArgs)...)
	cmd := exec.Command(opts.PynguinBin, args...)
	cmd.Dir = opts.ProjectDir
	// pynguin refuses to run on arbitrary code without this acknowledgement.
	cmd.Env = append(os.Environ(), "PYNGUIN_DANGER_AWARE=true")
	glog.Infof("in %s, executing: %s", module, cmd.String())

	start := time.Now()
	out, err := basic.CombinedOutput(cmd, module, opts.LimitMemory, opts.TimeoutNormal, opts.TimeoutGenerate)
	result.Duration = time.Since(start).Seconds()
	timedOut := err != nil && strings.Contains(err.Error(), "timed out")
	if timedOut {
		basic.PrintfWithTimeStamp("Pynguin is taking too long for %s, terminating", module)
	} else if err != nil {
		glog.Errorf("in %s, executing: %s, reported:\n%s", module, cmd.String(), string(out))
	}

	// Partial output may still contain usable tests, so the check runs even
	// after a failed or terminated run.
	result.TestFiles = listTestFiles(outputDir)
	if len(result.TestFiles) > 0 {
		result.Status = StatusGenerated
		basic.PrintfWithTimeStamp("Successfully generated tests for %s", module)
		err = os.WriteFile(filepath.Join(outputDir, "__init__.py"), []byte{}, 0644)
		if err != nil {
			glog.Warningf("failed to create __init__.py in %s: %v", outputDir, err)
		}
		return result
	}
	os.RemoveAll(outputDir)
	switch {
	case timedOut:
		result.Status = StatusTimeout
	case err != nil:
		result.Status = StatusFailed
	default:
		result.Status = StatusNoTests
	}
	return result
}
