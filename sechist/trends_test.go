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
	"reflect"
	"testing"

	"naive.systems/testlab/sechist/bandit"
	"naive.systems/testlab/sechist/gitrepo"
)

// sampleRecords returns five commits in date order. The high severity series
// is 0, 2, 1, 1, 3 and the medium severity series is 1, 1, 0, 2, 2.
func sampleRecords() []CommitRecord {
	return []CommitRecord{
		{
			Commit: gitrepo.CommitInfo{Hash: "c1", Author: "Dev One", Timestamp: 1700000100, Date: "2023-11-14 10:01:40", Subject: "Initial commit"},
			Metrics: bandit.CommitMetrics{
				HighConfidence: 1, MediumConfidence: 0, LowConfidence: 0,
				HighSeverity: 0, MediumSeverity: 1, LowSeverity: 0,
				UniqueCWEs: []string{"78"},
			},
		},
		{
			Commit: gitrepo.CommitInfo{Hash: "c2", Author: "Dev One", Timestamp: 1700000200, Date: "2023-11-14 10:03:20", Subject: "Add database layer"},
			Metrics: bandit.CommitMetrics{
				HighConfidence: 2, MediumConfidence: 1, LowConfidence: 0,
				HighSeverity: 2, MediumSeverity: 1, LowSeverity: 0,
				UniqueCWEs: []string{"78", "89"},
			},
		},
		{
			Commit: gitrepo.CommitInfo{Hash: "c3", Author: "Dev Two", Timestamp: 1700000300, Date: "2023-11-14 10:05:00", Subject: "Escape SQL parameters"},
			Metrics: bandit.CommitMetrics{
				HighConfidence: 1, MediumConfidence: 1, LowConfidence: 1,
				HighSeverity: 1, MediumSeverity: 0, LowSeverity: 0,
				UniqueCWEs: []string{},
			},
		},
		{
			Commit: gitrepo.CommitInfo{Hash: "c4", Author: "Dev Two", Timestamp: 1700000400, Date: "2023-11-14 10:06:40", Subject: "Add input validation"},
			Metrics: bandit.CommitMetrics{
				HighConfidence: 0, MediumConfidence: 2, LowConfidence: 1,
				HighSeverity: 1, MediumSeverity: 2, LowSeverity: 0,
				UniqueCWEs: []string{"20", "78"},
			},
		},
		{
			Commit: gitrepo.CommitInfo{Hash: "c5", Author: "Dev One", Timestamp: 1700000500, Date: "2023-11-14 10:08:20", Subject: "Rework subprocess calls"},
			Metrics: bandit.CommitMetrics{
				HighConfidence: 3, MediumConfidence: 0, LowConfidence: 0,
				HighSeverity: 3, MediumSeverity: 2, LowSeverity: 0,
				UniqueCWEs: []string{"20", "89"},
			},
		},
	}
}

func TestChanges(t *testing.T) {
	introduced, fixed := changes([]int{0, 2, 1, 1, 3})
	expectedIntroduced := []int{2, 0, 0, 2}
	expectedFixed := []int{0, 1, 0, 0}
	if !reflect.DeepEqual(introduced, expectedIntroduced) {
		t.Errorf("unexpected introduced counts. got: %v, expected: %v.", introduced, expectedIntroduced)
	}
	if !reflect.DeepEqual(fixed, expectedFixed) {
		t.Errorf("unexpected fixed counts. got: %v, expected: %v.", fixed, expectedFixed)
	}
}

func TestChangesSingleCommit(t *testing.T) {
	introduced, fixed := changes([]int{4})
	if len(introduced) != 0 || len(fixed) != 0 {
		t.Errorf("single commit must not contribute changes. got: %v, %v.", introduced, fixed)
	}
}

func TestAnalyzeRQ1(t *testing.T) {
	summary := AnalyzeRQ1("demo", sampleRecords())
	repoStats, ok := summary.RepoStats["demo"]
	if !ok {
		t.Fatalf("missing repo stats for demo: %+v", summary.RepoStats)
	}
	if repoStats.TotalCommits != 5 {
		t.Errorf("wrong total commits. got: %d, expected: %d.", repoStats.TotalCommits, 5)
	}
	if repoStats.CommitsIntroducing != 2 || repoStats.CommitsFixing != 1 {
		t.Errorf("unexpected introduce/fix counts: %+v", repoStats)
	}
	if repoStats.PercentIntroducing != 40.0 || repoStats.PercentFixing != 20.0 {
		t.Errorf("unexpected percentages: %+v", repoStats)
	}
	if repoStats.AvgIntroducedPerCommit != 2.0 {
		t.Errorf("wrong avg introduced. got: %v, expected: %v.", repoStats.AvgIntroducedPerCommit, 2.0)
	}
	if repoStats.AvgFixedPerCommit != 1.0 {
		t.Errorf("wrong avg fixed. got: %v, expected: %v.", repoStats.AvgFixedPerCommit, 1.0)
	}
	if summary.Overall.RatioFixToIntroduce != 0.5 {
		t.Errorf("wrong fix to introduce ratio. got: %v, expected: %v.", summary.Overall.RatioFixToIntroduce, 0.5)
	}
}

func TestAnalyzeRQ2(t *testing.T) {
	summary := AnalyzeRQ2("demo", sampleRecords())
	repoStats := summary.RepoStats["demo"]
	if repoStats.HighSeverity.IntroRate != 40.0 || repoStats.HighSeverity.FixRate != 20.0 {
		t.Errorf("unexpected high severity pattern: %+v", repoStats.HighSeverity)
	}
	if repoStats.HighSeverity.Ratio != 0.5 {
		t.Errorf("wrong high severity ratio. got: %v, expected: %v.", repoStats.HighSeverity.Ratio, 0.5)
	}
	if repoStats.MediumSeverity.IntroRate != 20.0 || repoStats.MediumSeverity.FixRate != 20.0 {
		t.Errorf("unexpected medium severity pattern: %+v", repoStats.MediumSeverity)
	}
	if repoStats.MediumSeverity.Ratio != 1.0 {
		t.Errorf("wrong medium severity ratio. got: %v, expected: %v.", repoStats.MediumSeverity.Ratio, 1.0)
	}
	if repoStats.LowSeverity.IntroRate != 0 || repoStats.LowSeverity.Ratio != 0 {
		t.Errorf("unexpected low severity pattern: %+v", repoStats.LowSeverity)
	}
	comparisons := summary.SeverityComparisons
	if comparisons.IntroductionRates.HighSeverityAvg != 40.0 {
		t.Errorf("wrong high severity intro average. got: %v, expected: %v.",
			comparisons.IntroductionRates.HighSeverityAvg, 40.0)
	}
	if comparisons.FixToIntroRatios.MediumSeverityAvg != 1.0 {
		t.Errorf("wrong medium severity ratio average. got: %v, expected: %v.",
			comparisons.FixToIntroRatios.MediumSeverityAvg, 1.0)
	}
}

func TestTopCWEs(t *testing.T) {
	// 78 appears in three commits, 89 and 20 in two each. 89 shows up
	// earlier in the history, so it wins the tie.
	ranked := topCWEs(sampleRecords(), 10)
	expected := []CWECount{
		{CWE: "CWE-78", Count: 3},
		{CWE: "CWE-89", Count: 2},
		{CWE: "CWE-20", Count: 2},
	}
	if !reflect.DeepEqual(ranked, expected) {
		t.Errorf("unexpected CWE ranking. got: %v, expected: %v.", ranked, expected)
	}
}

func TestTopCWEsLimit(t *testing.T) {
	ranked := topCWEs(sampleRecords(), 2)
	if len(ranked) != 2 {
		t.Fatalf("wrong ranking size. got: %d, expected: %d.", len(ranked), 2)
	}
	if ranked[0].CWE != "CWE-78" || ranked[1].CWE != "CWE-89" {
		t.Errorf("unexpected truncated ranking: %v", ranked)
	}
}

func TestAnalyzeRQ3(t *testing.T) {
	summary := AnalyzeRQ3("demo", sampleRecords())
	if len(summary.OverallTopCWEs) != 3 {
		t.Fatalf("wrong overall ranking size. got: %d, expected: %d.", len(summary.OverallTopCWEs), 3)
	}
	repoRanking, ok := summary.RepositoryTopCWEs["demo"]
	if !ok {
		t.Fatalf("missing repository ranking: %+v", summary.RepositoryTopCWEs)
	}
	if !reflect.DeepEqual(repoRanking, summary.OverallTopCWEs) {
		t.Errorf("repository ranking should match overall for a single project. got: %v and %v.",
			repoRanking, summary.OverallTopCWEs)
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize("demo", sampleRecords())
	if summary.RepoName != "demo" || summary.TotalCommits != 5 {
		t.Fatalf("unexpected summary head: %+v", summary)
	}
	if summary.AvgHighSeverity != 1.4 {
		t.Errorf("wrong avg high severity. got: %v, expected: %v.", summary.AvgHighSeverity, 1.4)
	}
	if summary.AvgMediumSeverity != 1.2 {
		t.Errorf("wrong avg medium severity. got: %v, expected: %v.", summary.AvgMediumSeverity, 1.2)
	}
	if summary.AvgHighConfidence != 1.4 {
		t.Errorf("wrong avg high confidence. got: %v, expected: %v.", summary.AvgHighConfidence, 1.4)
	}
	if summary.UniqueCWECount != 3 {
		t.Errorf("wrong unique CWE count. got: %d, expected: %d.", summary.UniqueCWECount, 3)
	}
}

func TestAnalyzeSortsByDate(t *testing.T) {
	records := sampleRecords()
	reversed := make([]CommitRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}
	fromSorted := Analyze("demo", records)
	fromReversed := Analyze("demo", reversed)
	if !reflect.DeepEqual(fromSorted, fromReversed) {
		t.Errorf("analysis must not depend on input order. got: %+v and %+v.", fromSorted, fromReversed)
	}
}
