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

package pygen

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	processingRegexp = regexp.MustCompile(`Processing file (\d+)/(\d+): ([\w./]+)`)
	generatedRegexp  = regexp.MustCompile(`Successfully generated tests for ([\w./]+)`)
	timeoutRegexp    = regexp.MustCompile(`Pynguin is taking too long for ([\w./]+), terminating`)
	completeRegexp   = regexp.MustCompile(`Test generation complete: (\d+)/(\d+) files processed successfully`)
)

// ProcessedFile is one "Processing file i/n" line of the generation log.
type ProcessedFile struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Path  string `json:"path"`
}

// LogStats is what ParseGenerationLog recovers from a generation log.
type LogStats struct {
	TotalFiles      int             `json:"total_files"`
	SuccessfulFiles int             `json:"successful_files"`
	FailedFiles     int             `json:"failed_files"`
	TimeoutFiles    int             `json:"timeout_files"`
	SuccessRate     float64         `json:"success_rate"`
	Processed       []ProcessedFile `json:"processed"`
	SuccessCounts   map[string]int  `json:"success_counts_by_module"`
	TimeoutCounts   map[string]int  `json:"timeout_counts_by_module"`
}

// moduleGroup maps a dotted module name to the package the statistics group
// it under, the segment below the top level package.
func moduleGroup(module string) string {
	parts := strings.Split(module, ".")
	if len(parts) > 1 {
		return parts[1]
	}
	return module
}

// ParseGenerationLog recovers generation statistics from the console log of
// a run. The completion line is authoritative for the totals; when it is
// missing (an interrupted run) the counts fall back to the matched lines.
func ParseGenerationLog(contents string) *LogStats {
	logStats := &LogStats{
		SuccessCounts: map[string]int{},
		TimeoutCounts: map[string]int{},
	}
	for _, match := range processingRegexp.FindAllStringSubmatch(contents, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		total, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		logStats.Processed = append(logStats.Processed, ProcessedFile{
			Index: index,
			Total: total,
			Path:  match[3],
		})
	}
	generated := generatedRegexp.FindAllStringSubmatch(contents, -1)
	for _, match := range generated {
		logStats.SuccessCounts[moduleGroup(match[1])]++
	}
	timeouts := timeoutRegexp.FindAllStringSubmatch(contents, -1)
	for _, match := range timeouts {
		logStats.TimeoutCounts[moduleGroup(match[1])]++
	}
	logStats.TimeoutFiles = len(timeouts)

	logStats.SuccessfulFiles = len(generated)
	logStats.TotalFiles = len(logStats.Processed)
	if match := completeRegexp.FindStringSubmatch(contents); match != nil {
		if successes, err := strconv.Atoi(match[1]); err == nil {
			logStats.SuccessfulFiles = successes
		}
		if total, err := strconv.Atoi(match[2]); err == nil {
			logStats.TotalFiles = total
		}
	}
	logStats.FailedFiles = logStats.TotalFiles - logStats.SuccessfulFiles
	if logStats.TotalFiles > 0 {
		logStats.SuccessRate = float64(logStats.SuccessfulFiles) / float64(logStats.TotalFiles)
	}
	return logStats
}

// SuccessfulModules lists the module groups with at least one generated test
// file, most successes first.
func (s *LogStats) SuccessfulModules() []string {
	modules := make([]string, 0, len(s.SuccessCounts))
	for module := range s.SuccessCounts {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool {
		if s.SuccessCounts[modules[i]] != s.SuccessCounts[modules[j]] {
			return s.SuccessCounts[modules[i]] > s.SuccessCounts[modules[j]]
		}
		return modules[i] < modules[j]
	})
	return modules
}
