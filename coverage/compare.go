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

package coverage

import "sort"

// ComparisonRow pairs one file's coverage in two reports. Before or After
// is nil when the file was only measured on one side. Improvement is the
// after minus before line rate and only meaningful when both sides exist.
type ComparisonRow struct {
	Path        string        `json:"path"`
	Before      *FileCoverage `json:"before,omitempty"`
	After       *FileCoverage `json:"after,omitempty"`
	Improvement float64       `json:"improvement"`
}

type Comparison struct {
	Files             []ComparisonRow `json:"files"`
	TotalsBefore      FileSummary     `json:"totals_before"`
	TotalsAfter       FileSummary     `json:"totals_after"`
	TotalsImprovement float64         `json:"totals_improvement"`
}

// Compare matches the filtered files of two reports by path. Rows are
// sorted by improvement, largest first, then by path.
func Compare(before, after *Report, ignorePatterns []string) *Comparison {
	rows := map[string]*ComparisonRow{}
	for _, file := range before.FilteredFiles(ignorePatterns) {
		file := file
		rows[file.Path] = &ComparisonRow{Path: file.Path, Before: &file}
	}
	for _, file := range after.FilteredFiles(ignorePatterns) {
		file := file
		row, ok := rows[file.Path]
		if !ok {
			row = &ComparisonRow{Path: file.Path}
			rows[file.Path] = row
		}
		row.After = &file
	}
	comparison := &Comparison{
		TotalsBefore:      before.Totals,
		TotalsAfter:       after.Totals,
		TotalsImprovement: after.Totals.LineRate() - before.Totals.LineRate(),
	}
	for _, row := range rows {
		if row.Before != nil && row.After != nil {
			row.Improvement = row.After.LineRate - row.Before.LineRate
		}
		comparison.Files = append(comparison.Files, *row)
	}
	sort.Slice(comparison.Files, func(i, j int) bool {
		if comparison.Files[i].Improvement != comparison.Files[j].Improvement {
			return comparison.Files[i].Improvement > comparison.Files[j].Improvement
		}
		return comparison.Files[i].Path < comparison.Files[j].Path
	})
	return comparison
}

// ImprovedFiles filters the comparison down to files measured on both sides
// whose coverage went up.
func (c *Comparison) ImprovedFiles() []ComparisonRow {
	improved := []ComparisonRow{}
	for _, row := range c.Files {
		if row.Before != nil && row.After != nil && row.Improvement > 0 {
			improved = append(improved, row)
		}
	}
	return improved
}
