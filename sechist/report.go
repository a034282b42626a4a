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

package sechist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"naive.systems/testlab/atomic"
)

func writeReportJSON(path string, v any) error {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("enc.Encode: %v", err)
	}
	return atomic.Write(path, buf.Bytes())
}

// WriteReports saves the per-question summaries next to the consolidated
// report so each can be consumed on its own.
func WriteReports(resultsDir string, report *ConsolidatedReport) error {
	err := writeReportJSON(filepath.Join(resultsDir, "rq1_summary.json"), report.ResearchQuestions.RQ1)
	if err != nil {
		return err
	}
	err = writeReportJSON(filepath.Join(resultsDir, "rq2_summary.json"), report.ResearchQuestions.RQ2)
	if err != nil {
		return err
	}
	err = writeReportJSON(filepath.Join(resultsDir, "rq3_summary.json"), report.ResearchQuestions.RQ3)
	if err != nil {
		return err
	}
	return writeReportJSON(filepath.Join(resultsDir, "consolidated_report.json"), report)
}
