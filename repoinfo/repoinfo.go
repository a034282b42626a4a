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

// Package repoinfo inspects the target repository before any pipeline runs:
// which source and test files exist, how packages are laid out, and how
// large the project is.
package repoinfo

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/hhatto/gocloc"
	"golang.org/x/exp/slices"
	"golang.org/x/text/message"
	"naive.systems/testlab/atomic"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
)

// Info summarizes the target repository. Paths are relative to the project
// directory.
type Info struct {
	ProjectDir  string              `json:"project_dir"`
	PythonFiles []string            `json:"python_files"`
	TestFiles   []string            `json:"test_files"`
	InitFiles   []string            `json:"init_files"`
	Packages    map[string][]string `json:"packages"`
	LinesOfCode int                 `json:"lines_of_code"`
}

// Directories never worth walking into.
var skippedDirs = []string{"__pycache__", "venv", "node_modules"}

func skipDir(name string) bool {
	return slices.Contains(skippedDirs, name) || strings.HasPrefix(name, ".")
}

// FindPythonFiles walks projectDir and returns every .py file that does not
// match an ignore pattern, sorted by path.
func FindPythonFiles(projectDir string, ignorePatterns []string) ([]string, error) {
	pythonFiles := []string{}
	err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != projectDir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		relPath, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}
		matched, err := options.MatchIgnoreDirPatterns(ignorePatterns, relPath)
		if err != nil {
			glog.Warning(err)
		}
		if matched {
			return nil
		}
		pythonFiles = append(pythonFiles, relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(pythonFiles)
	return pythonFiles, nil
}

// FindTestFiles filters pythonFiles down to pytest-style test files.
func FindTestFiles(pythonFiles []string) []string {
	testFiles := []string{}
	for _, path := range pythonFiles {
		base := filepath.Base(path)
		if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
			testFiles = append(testFiles, path)
		}
	}
	return testFiles
}

// CollectImports returns the import lines of a Python file, used to show
// what existing tests depend on.
func CollectImports(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	imports := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "from ") {
			imports = append(imports, line)
		}
	}
	return imports, scanner.Err()
}

// BuildPackageStructure groups the Python files by directory and records
// which directories are packages (contain __init__.py). The top level
// directory maps to ".".
func BuildPackageStructure(pythonFiles []string) (map[string][]string, []string) {
	packages := map[string][]string{}
	initFiles := []string{}
	for _, path := range pythonFiles {
		dir := filepath.Dir(path)
		packages[dir] = append(packages[dir], filepath.Base(path))
		if filepath.Base(path) == "__init__.py" {
			initFiles = append(initFiles, path)
		}
	}
	sort.Strings(initFiles)
	return packages, initFiles
}

// CountLinesOfCode counts code lines under the working dirs for the given
// languages, skipping files that match an ignore pattern.
func CountLinesOfCode(workingDirs []string, countLangs []string, ignorePatterns []string) (int, error) {
	clocOpts := gocloc.NewClocOptions()
	languages := gocloc.NewDefinedLanguages()
	for _, lang := range countLangs {
		if _, exists := languages.Langs[lang]; exists {
			clocOpts.IncludeLangs[lang] = struct{}{}
		}
	}
	processor := gocloc.NewProcessor(languages, clocOpts)
	result, err := processor.Analyze(workingDirs)
	if err != nil {
		glog.Errorf("gocloc fail: %v", err)
		return 0, err
	}
	sum := 0
	for _, file := range result.Files {
		matched, err := options.MatchIgnoreDirPatterns(ignorePatterns, file.Name)
		if err != nil {
			glog.Error(err)
			continue
		}
		if matched {
			continue
		}
		sum += int(file.Code)
	}
	return sum, nil
}

// Analyze inspects the project and writes repo_info.json to the results
// directory along with the LOC metadata other stages report against.
func Analyze(opts *options.LabOptions, printer *message.Printer) (*Info, error) {
	pythonFiles, err := FindPythonFiles(opts.ProjectDir, opts.IgnoreDirPatterns)
	if err != nil {
		return nil, err
	}
	packages, initFiles := BuildPackageStructure(pythonFiles)
	info := &Info{
		ProjectDir:  opts.ProjectDir,
		PythonFiles: pythonFiles,
		TestFiles:   FindTestFiles(pythonFiles),
		InitFiles:   initFiles,
		Packages:    packages,
	}
	loc, err := CountLinesOfCode([]string{opts.ProjectDir}, []string{"Python"}, opts.IgnoreDirPatterns)
	if err != nil {
		glog.Warningf("failed to count lines of code: %v", err)
	} else {
		info.LinesOfCode = loc
		stats.WriteLOC(opts.ResultsDir, loc)
	}
	err = atomic.WriteJSON(filepath.Join(opts.ResultsDir, "repo_info.json"), info)
	if err != nil {
		return nil, err
	}
	basic.PrintfWithTimeStamp(printer.Sprintf(
		"Found %d Python files (%d test files) in %s",
		len(info.PythonFiles), len(info.TestFiles), opts.ProjectDir))
	if len(info.TestFiles) == 0 {
		glog.Warning("no test files found in the project")
	}
	return info, nil
}
