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

package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"naive.systems/testlab/atomic"
)

// pipeline stages
const (
	RI  int = iota // Repository inspection
	COV            // Coverage measurement
	GEN            // Test generation
	PT             // Parallel testing
	SEC            // Security history scan
	END
)

type Progress struct {
	StageID   int       `json:"stage_id"`
	DoneRatio string    `json:"done_ratio"`
	StartedAt time.Time `json:"started_at"`
}

// Severity levels reported by bandit. UNDEFINED shows up when a plugin does
// not rate its finding.
const (
	High      = "HIGH"
	Medium    = "MEDIUM"
	Low       = "LOW"
	Undefined = "UNDEFINED"
)

type SeverityCount struct {
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
	Undefined int `json:"undefined"`
}

type ConfidenceCount struct {
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
	Undefined int `json:"undefined"`
}

func WriteLOC(resultDir string, linesCounter int) {
	path := filepath.Join(resultDir, "loc.nsa_metadata")
	err := atomic.Write(path, []byte(strconv.Itoa(linesCounter)))
	if err != nil {
		glog.Errorf("failed to write to file %s: %v", path, err)
	}
}

func WriteProgress(resultDir string, stageID int, doneRatio string, startedAt time.Time) {
	// skip writing it if resultDir does not exist
	_, err := os.Stat(resultDir)
	if os.IsNotExist(err) {
		glog.Warningf("result dir %s does not exist", resultDir)
		return
	}
	path := filepath.Join(resultDir, "progress.nsa_metadata")
	progress, err := json.Marshal(Progress{StageID: stageID, DoneRatio: doneRatio, StartedAt: startedAt})
	if err != nil {
		glog.Errorf("failed to marshal json stageID %d and doneRatio %s: %v", stageID, doneRatio, err)
		return
	}
	err = atomic.Write(path, progress)
	if err != nil {
		glog.Errorf("failed to write to file %s: %v", path, err)
	}
}

func AccumulateBySeverity(cnt *SeverityCount, resultSeverity, resultID string) {
	switch strings.ToUpper(resultSeverity) {
	case High:
		cnt.High++
	case Medium:
		cnt.Medium++
	case Low:
		cnt.Low++
	case Undefined, "":
		cnt.Undefined++
	default:
		glog.Warningf("undefined severity of result %s", resultID)
	}
}

func AccumulateByConfidence(cnt *ConfidenceCount, resultConfidence, resultID string) {
	switch strings.ToUpper(resultConfidence) {
	case High:
		cnt.High++
	case Medium:
		cnt.Medium++
	case Low:
		cnt.Low++
	case Undefined, "":
		cnt.Undefined++
	default:
		glog.Warningf("undefined confidence of result %s", resultID)
	}
}

func (c SeverityCount) Total() int {
	return c.High + c.Medium + c.Low + c.Undefined
}

func (c ConfidenceCount) Total() int {
	return c.High + c.Medium + c.Low + c.Undefined
}

func WriteSeverityStats(cnt SeverityCount, resultDir string) {
	statsBytes, err := json.Marshal(cnt)
	if err != nil {
		glog.Errorf("failed to marshal severity count: %v", err)
		return
	}
	statsFile := filepath.Join(resultDir, "severity_stats.nsa_metadata")
	err = atomic.Write(statsFile, statsBytes)
	if err != nil {
		glog.Errorf("failed to write to file %s: %v", statsFile, err)
	}
}
