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

import (
	"fmt"

	"golang.org/x/tools/cover"
)

// ParseGoProfile converts a Go cover profile into a Report so Go projects
// get the same reductions as coverage.py reports. A statement counts as
// covered when its block was executed at least once.
func ParseGoProfile(path string) (*Report, error) {
	profiles, err := cover.ParseProfiles(path)
	if err != nil {
		return nil, fmt.Errorf("cover.ParseProfiles: %v", err)
	}
	report := &Report{Files: map[string]FileData{}}
	for _, profile := range profiles {
		var covered, total int
		for _, block := range profile.Blocks {
			total += block.NumStmt
			if block.Count > 0 {
				covered += block.NumStmt
			}
		}
		summary := FileSummary{
			CoveredLines:  covered,
			NumStatements: total,
			MissingLines:  total - covered,
		}
		if total > 0 {
			summary.PercentCovered = float64(covered) / float64(total) * 100
		}
		report.Files[profile.FileName] = FileData{Summary: summary}
		report.Totals.CoveredLines += covered
		report.Totals.NumStatements += total
		report.Totals.MissingLines += total - covered
	}
	if report.Totals.NumStatements > 0 {
		report.Totals.PercentCovered = float64(report.Totals.CoveredLines) /
			float64(report.Totals.NumStatements) * 100
	}
	return report, nil
}
