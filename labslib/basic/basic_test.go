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

package basic

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"naive.systems/testlab/labslib/i18n"
)

func TestFormatTimeDuration(t *testing.T) {
	for _, testCase := range [...]struct {
		name     string
		duration time.Duration
		expected string
	}{
		{
			name:     "zero",
			duration: 0,
			expected: "0s",
		},
		{
			name:     "whole seconds",
			duration: 2 * time.Second,
			expected: "2s",
		},
		{
			name:     "half second",
			duration: 1500 * time.Millisecond,
			expected: "1.5s",
		},
		{
			name:     "quarter second",
			duration: 3250 * time.Millisecond,
			expected: "3.25s",
		},
		{
			name:     "below one second",
			duration: 750 * time.Millisecond,
			expected: "0.75s",
		},
		{
			name:     "full millisecond precision",
			duration: 2999 * time.Millisecond,
			expected: "2.999s",
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			formatted := FormatTimeDuration(testCase.duration)
			if formatted != testCase.expected {
				t.Errorf("unexpected format for %v. formatted: %v. expected: %v.", testCase.duration, formatted, testCase.expected)
			}
		})
	}
}

func TestGetPercentString(t *testing.T) {
	for _, testCase := range [...]struct {
		name     string
		done     int
		total    int
		expected string
	}{
		{
			name:     "half",
			done:     1,
			total:    2,
			expected: "50%",
		},
		{
			name:     "none",
			done:     0,
			total:    4,
			expected: "0%",
		},
		{
			name:     "all",
			done:     4,
			total:    4,
			expected: "100%",
		},
		{
			name:     "truncates",
			done:     2,
			total:    3,
			expected: "66%",
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			percent := GetPercentString(testCase.done, testCase.total)
			if percent != testCase.expected {
				t.Errorf("unexpected percent for %v/%v. got: %v. expected: %v.", testCase.done, testCase.total, percent, testCase.expected)
			}
		})
	}
}

func TestTaskProcessPrinter(t *testing.T) {
	printer := i18n.GetPrinter("en")
	tracker := NewTaskProcessPrinter(4)
	if tracker.GetStartedAt().IsZero() {
		t.Error("expected a start time")
	}
	tasks := []string{"a", "b", "c", "d"}
	expected := []string{"25%", "50%", "75%", "100%"}
	for i, task := range tasks {
		tracker.StartTask(task, printer)
		tracker.FinishTask(task, printer)
		if tracker.GetPercentString() != expected[i] {
			t.Errorf("unexpected progress after %d tasks. got: %v. expected: %v.", i+1, tracker.GetPercentString(), expected[i])
		}
	}
}

func TestAppendToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	if err := AppendToFile(path, "first\n"); err != nil {
		t.Fatal(err)
	}
	if err := AppendToFile(path, "second\n"); err != nil {
		t.Fatal(err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != "first\nsecond\n" {
		t.Errorf("unexpected file contents: %q", string(contents))
	}
}

func TestGetCommandStdout(t *testing.T) {
	tokens, err := GetCommandStdout([]string{"echo", "high medium low"}, "")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	expected := []string{"high", "medium", "low"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("unexpected stdout tokens. parsed: %v. expected: %v.", tokens, expected)
	}
}

func TestGetCommandStdoutLines(t *testing.T) {
	for _, testCase := range [...]struct {
		name          string
		commands      []string
		workingDir    string
		expectedLines []string
	}{
		{
			name:          "get stdout lines for echo",
			commands:      []string{"echo", "testing whether it is able to\nget stdout lines\nor not"},
			workingDir:    "",
			expectedLines: []string{"testing whether it is able to", "get stdout lines", "or not"},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			cmd := exec.Command(testCase.commands[0], testCase.commands[1:]...)
			parsedResult, err := GetCommandStdoutLines(cmd, testCase.workingDir)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(parsedResult, testCase.expectedLines) {
				t.Errorf("unexpected stdout lines. parsed: %v. expected: %v.", parsedResult, testCase.expectedLines)
			}
		})
	}
}

func TestConvertRelativePathToAbsolute(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "report.json"), []byte("{}"), 0644)
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := ConvertRelativePathToAbsolute(dir, "report.json")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resolved != filepath.Join(dir, "report.json") {
		t.Errorf("unexpected resolved path: %v", resolved)
	}

	absolute := filepath.Join(dir, "report.json")
	resolved, err = ConvertRelativePathToAbsolute(dir, absolute)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resolved != absolute {
		t.Errorf("absolute path should be unchanged, got: %v", resolved)
	}

	_, err = ConvertRelativePathToAbsolute(dir, "missing.json")
	if err == nil {
		t.Error("expected an error for a missing relative path")
	}
}

func TestResolveBinaryPath(t *testing.T) {
	dir := t.TempDir()
	binFile := filepath.Join(dir, "faketool")
	err := os.WriteFile(binFile, []byte("#!/bin/sh\n"), 0755)
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := ResolveBinaryPath(binFile)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resolved != binFile {
		t.Errorf("absolute path should be unchanged, got: %v", resolved)
	}

	resolved, err = ResolveBinaryPath("echo")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resolved != "echo" {
		t.Errorf("a name found in $PATH should be unchanged, got: %v", resolved)
	}

	_, err = ResolveBinaryPath("no-such-tool-anywhere")
	if err == nil {
		t.Error("expected an error for a binary that is not in $PATH")
	}

	_, err = ResolveBinaryPath(filepath.Join(dir, "missing"))
	if err == nil {
		t.Error("expected an error for a missing absolute path")
	}
}

func TestTarFile(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	err := os.WriteFile(filepath.Join(logDir, "run.log"), []byte("done\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "logs.tar.gz")
	if err := TarFile(logDir, archive); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gr)
	entries := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = string(contents)
	}
	if _, ok := entries["logs"]; !ok {
		t.Errorf("missing directory entry, got: %v", entries)
	}
	if entries["logs/run.log"] != "done\n" {
		t.Errorf("unexpected archive contents: %q", entries["logs/run.log"])
	}
}

func TestGetOperatingSystemType(t *testing.T) {
	if _, err := os.Stat("/etc/os-release"); err != nil {
		t.Skip("no /etc/os-release on this machine")
	}
	osType, _, err := GetOperatingSystemType()
	if err != nil {
		t.Fatal(err)
	}
	if osType == "" {
		t.Error("expected a non-empty os type")
	}
}
