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

package analyzer

import (
	"errors"
	"testing"

	"golang.org/x/text/message"
	"naive.systems/testlab/labslib/i18n"
	"naive.systems/testlab/labslib/options"
)

func pipelineNames(pipelines []Pipeline) []string {
	names := []string{}
	for _, pipeline := range pipelines {
		names = append(names, pipeline.Name)
	}
	return names
}

func TestSelectPipelinesEmptySelectsAll(t *testing.T) {
	selected, err := SelectPipelines("")
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != len(Pipelines) {
		t.Errorf("got %d pipelines, want %d", len(selected), len(Pipelines))
	}
	names := pipelineNames(selected)
	want := []string{"coverage", "testgen", "paralleltest", "securityhistory"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("pipeline %d: got %s, want %s", i, names[i], name)
		}
	}
}

func TestSelectPipelinesKeepsExecutionOrder(t *testing.T) {
	selected, err := SelectPipelines("securityhistory,coverage")
	if err != nil {
		t.Fatal(err)
	}
	names := pipelineNames(selected)
	if len(names) != 2 || names[0] != "coverage" || names[1] != "securityhistory" {
		t.Errorf("unexpected selection: %v", names)
	}
}

func TestSelectPipelinesTrimsAndDeduplicates(t *testing.T) {
	selected, err := SelectPipelines(" testgen , testgen ,,")
	if err != nil {
		t.Fatal(err)
	}
	names := pipelineNames(selected)
	if len(names) != 1 || names[0] != "testgen" {
		t.Errorf("unexpected selection: %v", names)
	}
}

func TestSelectPipelinesUnknownName(t *testing.T) {
	_, err := SelectPipelines("coverage,fuzzing")
	if err == nil {
		t.Error("expected an error for an unknown pipeline name")
	}
}

func TestResolveToolBinariesPath(t *testing.T) {
	selected, err := SelectPipelines("coverage")
	if err != nil {
		t.Fatal(err)
	}

	opts := &options.LabOptions{CoverageBin: "echo", BanditBin: "no-such-tool-anywhere"}
	if err := resolveToolBinariesPath(selected, opts); err != nil {
		t.Errorf("bins of unselected pipelines should not be checked: %v", err)
	}

	opts = &options.LabOptions{CoverageBin: "no-such-tool-anywhere"}
	if err := resolveToolBinariesPath(selected, opts); err == nil {
		t.Error("expected an error for a missing tool binary")
	}
}

func TestRunPipelinesContinuesAfterFailure(t *testing.T) {
	ran := []string{}
	boom := errors.New("boom")
	pipelines := []Pipeline{
		{
			Name:  "first",
			Title: "First pass",
			Run: func(opts *options.LabOptions, printer *message.Printer) error {
				ran = append(ran, "first")
				return boom
			},
		},
		{
			Name:  "second",
			Title: "Second pass",
			Run: func(opts *options.LabOptions, printer *message.Printer) error {
				ran = append(ran, "second")
				return nil
			},
		},
	}
	opts := &options.LabOptions{ResultsDir: t.TempDir()}
	printer := i18n.GetPrinter("en")
	err := RunPipelines(pipelines, opts, printer)
	if err == nil {
		t.Fatal("expected the first failure to be returned")
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("unexpected run order: %v", ran)
	}
}

func TestRunPipelinesNoError(t *testing.T) {
	pipelines := []Pipeline{
		{
			Name:  "noop",
			Title: "Doing nothing",
			Run: func(opts *options.LabOptions, printer *message.Printer) error {
				return nil
			},
		},
	}
	opts := &options.LabOptions{ResultsDir: t.TempDir()}
	printer := i18n.GetPrinter("en")
	if err := RunPipelines(pipelines, opts, printer); err != nil {
		t.Error(err)
	}
}
