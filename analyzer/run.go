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

// Package analyzer dispatches the TestLab pipelines. Each pipeline is an
// independent pass over the project and writes its artifacts to its own
// subdirectory of the results directory.
package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/coverage"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
	"naive.systems/testlab/ptest"
	"naive.systems/testlab/pygen"
	"naive.systems/testlab/sechist"
)

type Pipeline struct {
	Name  string
	Title string
	Stage int
	Run   func(*options.LabOptions, *message.Printer) error
}

// Pipelines lists every known pipeline in execution order.
var Pipelines = []Pipeline{
	{
		Name:  "coverage",
		Title: "Measuring test coverage",
		Stage: stats.COV,
		Run:   coverage.Analyze,
	},
	{
		Name:  "testgen",
		Title: "Generating unit tests",
		Stage: stats.GEN,
		Run:   pygen.Generate,
	},
	{
		Name:  "paralleltest",
		Title: "Running parallel test experiments",
		Stage: stats.PT,
		Run:   ptest.Run,
	},
	{
		Name:  "securityhistory",
		Title: "Scanning commit history for security issues",
		Stage: stats.SEC,
		Run:   sechist.Run,
	},
}

// SelectPipelines resolves a comma-separated list of pipeline names. The
// empty string selects all pipelines. The result keeps the execution order
// of Pipelines no matter how the names were written.
func SelectPipelines(selection string) ([]Pipeline, error) {
	if selection == "" {
		return Pipelines, nil
	}
	known := map[string]bool{}
	for _, pipeline := range Pipelines {
		known[pipeline.Name] = true
	}
	wanted := map[string]bool{}
	for _, name := range strings.Split(selection, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("No such pipeline: %s", name)
		}
		wanted[name] = true
	}
	selected := []Pipeline{}
	for _, pipeline := range Pipelines {
		if wanted[pipeline.Name] {
			selected = append(selected, pipeline)
		}
	}
	return selected, nil
}

// resolveToolBinariesPath verifies the tools the selected pipelines shell
// out to, pinning relative paths to absolute ones. The security history
// pipeline additionally needs git on the PATH for checkouts.
func resolveToolBinariesPath(pipelines []Pipeline, opts *options.LabOptions) error {
	toolBins := map[string][]*string{
		"coverage":        {&opts.CoverageBin},
		"testgen":         {&opts.PynguinBin},
		"paralleltest":    {&opts.PytestBin},
		"securityhistory": {&opts.BanditBin},
	}
	for _, pipeline := range pipelines {
		for _, binPath := range toolBins[pipeline.Name] {
			resolvedBinPath, err := basic.ResolveBinaryPath(*binPath)
			if err != nil {
				return fmt.Errorf("basic.ResolveBinaryPath: %v", err)
			}
			*binPath = resolvedBinPath
		}
		if pipeline.Name == "securityhistory" {
			_, err := basic.ResolveBinaryPath("git")
			if err != nil {
				return fmt.Errorf("basic.ResolveBinaryPath: %v", err)
			}
		}
	}
	return nil
}

// RunPipelines runs the given pipelines in order. A failing pipeline does
// not stop the ones after it. The first failure is returned so the caller
// can report it once everything else has finished.
func RunPipelines(pipelines []Pipeline, opts *options.LabOptions, printer *message.Printer) error {
	err := resolveToolBinariesPath(pipelines, opts)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pipeline := range pipelines {
		start := time.Now()
		if opts.CheckProgress {
			basic.PrintfWithTimeStamp(printer.Sprintf(pipeline.Title))
			stats.WriteProgress(opts.ResultsDir, pipeline.Stage, "0%", start)
		}
		err := pipeline.Run(opts, printer)
		if err != nil {
			glog.Errorf("pipeline %s failed: %v", pipeline.Name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pipeline %s: %v", pipeline.Name, err)
			}
			continue
		}
		elapsed := time.Since(start)
		if opts.CheckProgress {
			timeUsed := basic.FormatTimeDuration(elapsed)
			basic.PrintfWithTimeStamp(printer.Sprintf("%s completed [%s]", pipeline.Title, timeUsed))
		}
	}
	return firstErr
}
