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

package ptest

import (
	"fmt"
	"strings"

	"naive.systems/testlab/atomic"
	"naive.systems/testlab/labslib/basic"
)

// CommitHash returns the checked out commit of the project repository.
func CommitHash(projectDir string) string {
	tokens, err := basic.GetCommandStdout([]string{"git", "rev-parse", "HEAD"}, projectDir)
	if err != nil || len(tokens) == 0 {
		return "Unknown (could not retrieve commit hash)"
	}
	return tokens[0]
}

const pytestDeveloperSuggestions = `Based on the observed behavior, here are suggestions for pytest developers to improve thread safety:

1. **Enhanced Detection of Shared Resources**: Develop a pytest plugin that can automatically detect when tests are accessing or modifying shared resources, providing warnings during test execution.

2. **Improved Isolation Mechanisms**: Provide built-in mechanisms for stronger isolation between tests, such as process-level isolation by default or containerization options.

3. **Smarter Test Distribution**: Improve the test distribution algorithm to recognize tests that might share resources or have dependencies and schedule them appropriately (e.g., in the same worker or in sequence).

4. **Flaky Test Detection**: Enhance pytest to automatically identify and report flaky tests by running each test multiple times in different environments.

5. **Thread Safety Analysis**: Implement static analysis tools that can examine test code to identify potential thread safety issues before execution.

6. **Resource Locking Framework**: Provide a built-in framework for tests to declare resources they need, allowing pytest to manage resource allocation and prevent conflicts.

7. **Parallel Execution Report**: Generate detailed reports about parallel execution performance, highlighting bottlenecks and suggesting optimizations.

8. **Training Mode**: Add a "training mode" that learns from multiple test runs to optimize future parallel executions based on historical test behavior.`

// formatTestList renders up to limit tests as markdown bullets, marking
// truncation the way the report consumers expect.
func formatTestList(tests []string, limit int, indent string) string {
	lines := []string{}
	for i, test := range tests {
		if i >= limit {
			break
		}
		lines = append(lines, indent+"- "+test)
	}
	joined := strings.Join(lines, "\n")
	if len(tests) > limit {
		joined += " (and more...)"
	}
	return joined
}

// WriteReport renders the whole measurement into the markdown report.
func WriteReport(path, projectName, commitHash string, stability *StabilityResult, tseq float64,
	matrix []MatrixRow, analysis *FailureAnalysis, categorized *CategorizedFailures,
	readiness, improvements string) error {
	var b strings.Builder

	b.WriteString("# Test Parallelization Report\n\n")

	b.WriteString("## 1. Environment Setup\n\n")
	b.WriteString("### Repository Information\n")
	fmt.Fprintf(&b, "- Repository: %s\n", projectName)
	fmt.Fprintf(&b, "- Commit Hash: %s\n\n", commitHash)
	b.WriteString("### Dependencies\n")
	b.WriteString("- pytest (test execution)\n")
	b.WriteString("- pytest-xdist (process level test parallelization)\n")
	b.WriteString("- pytest-run-parallel (thread level test parallelization)\n\n")

	b.WriteString("## 2. Sequential Test Execution\n\n")
	b.WriteString("### Failing and Flaky Tests\n\n")
	b.WriteString("During sequential execution, the following issues were identified:\n")
	fmt.Fprintf(&b, "- Consistently failing tests: %d tests\n", len(stability.FailingTests))
	fmt.Fprintf(&b, "- Flaky tests (non-deterministic): %d tests\n\n", len(stability.FlakyTests))
	b.WriteString("### Sequential Execution Time\n\n")
	b.WriteString("After eliminating failing and flaky tests, the average sequential execution time was:\n")
	fmt.Fprintf(&b, "- Tseq = %.2f seconds\n\n", tseq)

	b.WriteString("## 3. Parallel Test Execution\n\n")
	b.WriteString("### Execution Matrix\n\n")
	b.WriteString("| Worker Count | Thread Count | Distribution Mode | Average Time (s) | Speedup | Failures | Failure Rate |\n")
	b.WriteString("|--------------|--------------|-------------------|------------------|---------|----------|--------------|\n")
	for _, row := range matrix {
		fmt.Fprintf(&b, "| %s | %s | %s | %.2f | %.2f | %s | %.2f |\n",
			row.WorkerCount, row.ThreadCount, row.DistMode,
			row.AvgTime, row.Speedup, row.Failures, row.FailureRate)
	}
	b.WriteString("\n")

	b.WriteString("## 4. Analysis\n\n")
	b.WriteString("### Flaky Tests in Parallel Execution\n\n")
	b.WriteString("The following tests were identified as flaky during parallel execution:\n\n")
	b.WriteString(formatTestList(analysis.AllFailingTests, 10, "") + "\n\n")
	b.WriteString("### Most Common Test Failures\n\n")
	for _, failure := range analysis.MostCommonFailures {
		fmt.Fprintf(&b, "- %s: Failed in %d executions\n", failure.Test, failure.Count)
	}
	b.WriteString("\n### Causes of Test Failures in Parallel Runs\n\n")
	b.WriteString("Based on analysis of the failing tests, the following causes were identified:\n\n")
	fmt.Fprintf(&b, "1. **Shared Resources**: Tests that modify global state or shared resources.\n%s\n\n",
		formatTestList(categorized.SharedResources, 3, "   "))
	fmt.Fprintf(&b, "2. **Timing Issues**: Tests that rely on specific timing or race conditions.\n%s\n\n",
		formatTestList(categorized.TimingIssues, 3, "   "))
	fmt.Fprintf(&b, "3. **Order Dependencies**: Tests that depend on a specific execution order.\n%s\n\n",
		formatTestList(categorized.OrderDependencies, 3, "   "))

	b.WriteString("## 5. Parallel Testing Readiness\n\n")
	b.WriteString("### Success/Failure Patterns\n\n")
	b.WriteString("Configurations with the highest failure rates:\n")
	for i, rate := range analysis.ConfigFailureRates {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "- %s: %.2f failure rate\n", rate.Config, rate.Rate)
	}
	b.WriteString("\nConfigurations with the lowest failure rates:\n")
	lowest := analysis.ConfigFailureRates
	if len(lowest) > 3 {
		lowest = lowest[len(lowest)-3:]
	}
	for _, rate := range lowest {
		fmt.Fprintf(&b, "- %s: %.2f failure rate\n", rate.Config, rate.Rate)
	}
	fmt.Fprintf(&b, "\n### Project Readiness Assessment\n\n%s\n\n", readiness)
	fmt.Fprintf(&b, "### Potential Improvements\n\n%s\n\n", improvements)
	fmt.Fprintf(&b, "### Suggestions for pytest Developers\n\n%s\n", pytestDeveloperSuggestions)

	return atomic.Write(path, []byte(b.String()))
}
