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
	"sort"

	"naive.systems/testlab/sechist/bandit"
)

type RQ1Stats struct {
	TotalCommits           int     `json:"total_commits"`
	CommitsIntroducing     int     `json:"commits_introducing_vulnerabilities"`
	CommitsFixing          int     `json:"commits_fixing_vulnerabilities"`
	PercentIntroducing     float64 `json:"percent_introducing"`
	PercentFixing          float64 `json:"percent_fixing"`
	AvgIntroducedPerCommit float64 `json:"avg_vulnerabilities_introduced_per_commit"`
	AvgFixedPerCommit      float64 `json:"avg_vulnerabilities_fixed_per_commit"`
}

type RQ1Overall struct {
	AvgPercentIntroducing float64 `json:"avg_percent_introducing"`
	AvgPercentFixing      float64 `json:"avg_percent_fixing"`
	RatioFixToIntroduce   float64 `json:"ratio_fix_to_introduce"`
}

// RQ1Summary reports when high severity vulnerabilities are introduced and
// fixed along the development timeline.
type RQ1Summary struct {
	RepoStats map[string]RQ1Stats `json:"repo_stats"`
	Overall   RQ1Overall          `json:"overall"`
}

type SeverityPattern struct {
	IntroRate float64 `json:"intro_rate"`
	FixRate   float64 `json:"fix_rate"`
	Ratio     float64 `json:"ratio"`
}

type RQ2Stats struct {
	HighSeverity   SeverityPattern `json:"high_severity"`
	MediumSeverity SeverityPattern `json:"medium_severity"`
	LowSeverity    SeverityPattern `json:"low_severity"`
}

type SeverityAverages struct {
	HighSeverityAvg   float64 `json:"high_severity_avg"`
	MediumSeverityAvg float64 `json:"medium_severity_avg"`
	LowSeverityAvg    float64 `json:"low_severity_avg"`
}

type SeverityComparisons struct {
	IntroductionRates SeverityAverages `json:"introduction_rates"`
	FixRates          SeverityAverages `json:"fix_rates"`
	FixToIntroRatios  SeverityAverages `json:"fix_to_intro_ratios"`
}

// RQ2Summary compares introduction and elimination patterns across severity
// levels.
type RQ2Summary struct {
	RepoStats           map[string]RQ2Stats `json:"repo_stats"`
	SeverityComparisons SeverityComparisons `json:"severity_comparisons"`
}

type CWECount struct {
	CWE   string `json:"cwe"`
	Count int    `json:"count"`
}

// RQ3Summary ranks the most frequent CWEs. A CWE counts once per commit in
// which it appears.
type RQ3Summary struct {
	OverallTopCWEs    []CWECount            `json:"overall_top_cwes"`
	RepositoryTopCWEs map[string][]CWECount `json:"repository_top_cwes"`
}

type ProjectSummary struct {
	RepoName            string     `json:"repo_name"`
	TotalCommits        int        `json:"total_commits"`
	AvgHighConfidence   float64    `json:"avg_high_confidence"`
	AvgMediumConfidence float64    `json:"avg_medium_confidence"`
	AvgLowConfidence    float64    `json:"avg_low_confidence"`
	AvgHighSeverity     float64    `json:"avg_high_severity"`
	AvgMediumSeverity   float64    `json:"avg_medium_severity"`
	AvgLowSeverity      float64    `json:"avg_low_severity"`
	UniqueCWECount      int        `json:"unique_cwes_count"`
	TopCWEs             []CWECount `json:"top_cwes"`
}

type ResearchQuestions struct {
	RQ1 RQ1Summary `json:"rq1"`
	RQ2 RQ2Summary `json:"rq2"`
	RQ3 RQ3Summary `json:"rq3"`
}

type ConsolidatedReport struct {
	Repositories      map[string]ProjectSummary `json:"repositories"`
	ResearchQuestions ResearchQuestions         `json:"research_questions"`
}

func sortedByDate(records []CommitRecord) []CommitRecord {
	sorted := make([]CommitRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Commit.Timestamp < sorted[j].Commit.Timestamp
	})
	return sorted
}

func metricSeries(records []CommitRecord, pick func(bandit.CommitMetrics) int) []int {
	series := make([]int, len(records))
	for i, record := range records {
		series[i] = pick(record.Metrics)
	}
	return series
}

// changes turns a per-commit issue count series into introduced and fixed
// counts per transition. The first commit has no predecessor and contributes
// neither.
func changes(series []int) (introduced, fixed []int) {
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			introduced = append(introduced, delta)
			fixed = append(fixed, 0)
		} else {
			introduced = append(introduced, 0)
			fixed = append(fixed, -delta)
		}
	}
	return introduced, fixed
}

func countPositive(values []int) int {
	count := 0
	for _, value := range values {
		if value > 0 {
			count++
		}
	}
	return count
}

// avgPositive averages the positive entries, i.e. the mean number of issues
// introduced per commit that introduced any.
func avgPositive(values []int) float64 {
	count := countPositive(values)
	if count == 0 {
		return 0
	}
	sum := 0
	for _, value := range values {
		sum += value
	}
	return float64(sum) / float64(count)
}

func severityPattern(series []int, totalCommits int) SeverityPattern {
	pattern := SeverityPattern{}
	if totalCommits == 0 {
		return pattern
	}
	introduced, fixed := changes(series)
	pattern.IntroRate = float64(countPositive(introduced)) / float64(totalCommits) * 100
	pattern.FixRate = float64(countPositive(fixed)) / float64(totalCommits) * 100
	if pattern.IntroRate > 0 {
		pattern.Ratio = pattern.FixRate / pattern.IntroRate
	}
	return pattern
}

func highSeverity(m bandit.CommitMetrics) int   { return m.HighSeverity }
func mediumSeverity(m bandit.CommitMetrics) int { return m.MediumSeverity }
func lowSeverity(m bandit.CommitMetrics) int    { return m.LowSeverity }

// AnalyzeRQ1 expects records sorted by date.
func AnalyzeRQ1(projectName string, records []CommitRecord) RQ1Summary {
	introduced, fixed := changes(metricSeries(records, highSeverity))
	repoStats := RQ1Stats{
		TotalCommits:           len(records),
		CommitsIntroducing:     countPositive(introduced),
		CommitsFixing:          countPositive(fixed),
		AvgIntroducedPerCommit: avgPositive(introduced),
		AvgFixedPerCommit:      avgPositive(fixed),
	}
	if repoStats.TotalCommits > 0 {
		repoStats.PercentIntroducing = float64(repoStats.CommitsIntroducing) / float64(repoStats.TotalCommits) * 100
		repoStats.PercentFixing = float64(repoStats.CommitsFixing) / float64(repoStats.TotalCommits) * 100
	}
	summary := RQ1Summary{
		RepoStats: map[string]RQ1Stats{projectName: repoStats},
		Overall: RQ1Overall{
			AvgPercentIntroducing: repoStats.PercentIntroducing,
			AvgPercentFixing:      repoStats.PercentFixing,
		},
	}
	if repoStats.PercentIntroducing > 0 {
		summary.Overall.RatioFixToIntroduce = repoStats.PercentFixing / repoStats.PercentIntroducing
	}
	return summary
}

// AnalyzeRQ2 expects records sorted by date.
func AnalyzeRQ2(projectName string, records []CommitRecord) RQ2Summary {
	total := len(records)
	repoStats := RQ2Stats{
		HighSeverity:   severityPattern(metricSeries(records, highSeverity), total),
		MediumSeverity: severityPattern(metricSeries(records, mediumSeverity), total),
		LowSeverity:    severityPattern(metricSeries(records, lowSeverity), total),
	}
	return RQ2Summary{
		RepoStats: map[string]RQ2Stats{projectName: repoStats},
		SeverityComparisons: SeverityComparisons{
			IntroductionRates: SeverityAverages{
				HighSeverityAvg:   repoStats.HighSeverity.IntroRate,
				MediumSeverityAvg: repoStats.MediumSeverity.IntroRate,
				LowSeverityAvg:    repoStats.LowSeverity.IntroRate,
			},
			FixRates: SeverityAverages{
				HighSeverityAvg:   repoStats.HighSeverity.FixRate,
				MediumSeverityAvg: repoStats.MediumSeverity.FixRate,
				LowSeverityAvg:    repoStats.LowSeverity.FixRate,
			},
			FixToIntroRatios: SeverityAverages{
				HighSeverityAvg:   repoStats.HighSeverity.Ratio,
				MediumSeverityAvg: repoStats.MediumSeverity.Ratio,
				LowSeverityAvg:    repoStats.LowSeverity.Ratio,
			},
		},
	}
}

// topCWEs ranks CWEs by the number of commits they appear in. Ties keep the
// order in which the CWEs first showed up in the history.
func topCWEs(records []CommitRecord, limit int) []CWECount {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	for _, record := range records {
		for _, cwe := range record.Metrics.UniqueCWEs {
			if _, ok := counts[cwe]; !ok {
				firstSeen[cwe] = len(firstSeen)
			}
			counts[cwe]++
		}
	}
	type cweFreq struct {
		id    string
		count int
	}
	freqs := []cweFreq{}
	for id, count := range counts {
		freqs = append(freqs, cweFreq{id, count})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].count != freqs[j].count {
			return freqs[i].count > freqs[j].count
		}
		return firstSeen[freqs[i].id] < firstSeen[freqs[j].id]
	})
	if limit > len(freqs) {
		limit = len(freqs)
	}
	ranked := []CWECount{}
	for _, freq := range freqs[:limit] {
		ranked = append(ranked, CWECount{CWE: "CWE-" + freq.id, Count: freq.count})
	}
	return ranked
}

func AnalyzeRQ3(projectName string, records []CommitRecord) RQ3Summary {
	return RQ3Summary{
		OverallTopCWEs:    topCWEs(records, 10),
		RepositoryTopCWEs: map[string][]CWECount{projectName: topCWEs(records, 5)},
	}
}

func metricMean(records []CommitRecord, pick func(bandit.CommitMetrics) int) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0
	for _, record := range records {
		sum += pick(record.Metrics)
	}
	return float64(sum) / float64(len(records))
}

func Summarize(projectName string, records []CommitRecord) ProjectSummary {
	cweSet := map[string]bool{}
	for _, record := range records {
		for _, cwe := range record.Metrics.UniqueCWEs {
			cweSet[cwe] = true
		}
	}
	return ProjectSummary{
		RepoName:            projectName,
		TotalCommits:        len(records),
		AvgHighConfidence:   metricMean(records, func(m bandit.CommitMetrics) int { return m.HighConfidence }),
		AvgMediumConfidence: metricMean(records, func(m bandit.CommitMetrics) int { return m.MediumConfidence }),
		AvgLowConfidence:    metricMean(records, func(m bandit.CommitMetrics) int { return m.LowConfidence }),
		AvgHighSeverity:     metricMean(records, highSeverity),
		AvgMediumSeverity:   metricMean(records, mediumSeverity),
		AvgLowSeverity:      metricMean(records, lowSeverity),
		UniqueCWECount:      len(cweSet),
		TopCWEs:             topCWEs(records, 5),
	}
}

// Analyze reduces the scanned commit records to the consolidated trend
// report. Records arrive newest first from the history walk and are sorted
// by date here.
func Analyze(projectName string, records []CommitRecord) *ConsolidatedReport {
	sorted := sortedByDate(records)
	report := &ConsolidatedReport{
		Repositories: map[string]ProjectSummary{projectName: Summarize(projectName, sorted)},
	}
	report.ResearchQuestions.RQ1 = AnalyzeRQ1(projectName, sorted)
	report.ResearchQuestions.RQ2 = AnalyzeRQ2(projectName, sorted)
	report.ResearchQuestions.RQ3 = AnalyzeRQ3(projectName, sorted)
	return report
}
