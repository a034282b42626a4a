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

package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"naive.systems/testlab/analyzer"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/i18n"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
	"naive.systems/testlab/repoinfo"
	"naive.systems/testlab/telemetry/client/sender"
)

var numWorkersStr string = "0"

func main() {
	sharedOptions := options.NewSharedOptions()
	flag.Parse()
	defer glog.Flush()

	// Do not call any logging functions of glog before this part.
	printer := i18n.GetPrinter(sharedOptions.GetLang())

	logDir := flag.Lookup("log_dir")
	if logDir.Value.String() == "" {
		err := flag.Set("log_dir", filepath.Join(sharedOptions.GetResultsDir(), "logs"))
		if err != nil {
			glog.Fatalf("failed to set default log_dir: %v", err)
		}
	}
	err := options.CreateLogDir(logDir.Value.String())
	if err != nil {
		glog.Fatalf("failed to create log dir: %v", err)
	}

	if !sharedOptions.GetDebugMode() {
		err := flag.Set("stderrthreshold", "FATAL")
		if err != nil {
			glog.Fatalf("failed to set default stderrthreshold: %v", err)
		}
	}

	fmt.Println("(c) 2023 Naive Systems Ltd.")

	start := time.Now()

	numWorkers, err := options.ParseLimitMemory(sharedOptions, numWorkersStr)
	if err != nil {
		glog.Fatalf("options.ParseLimitMemory: %v", err)
	}
	glog.Info("numWorkers: ", numWorkers)
	glog.Info("projectDir: ", sharedOptions.GetProjectDir())
	glog.Info("configPath: ", sharedOptions.GetConfigPath())

	err = options.CreateResultDir(sharedOptions.GetResultsDir())
	if err != nil {
		glog.Fatalf("failed to create result dir: %v", err)
	}

	config, err := options.LoadProjectConfig(sharedOptions.GetConfigPath())
	if err != nil {
		glog.Fatalf("options.LoadProjectConfig: %v", err)
	}
	opts := options.NewLabOptions(sharedOptions, config, logDir.Value.String(), numWorkers)

	// Record the effective settings next to the results.
	err = options.WriteProjectConfig(config, filepath.Join(opts.ResultsDir, "testlab_config.yaml"))
	if err != nil {
		glog.Errorf("failed to record effective config: %v", err)
	}

	selected, err := analyzer.SelectPipelines(sharedOptions.GetPipelines())
	if err != nil {
		glog.Fatal(err)
	}
	names := []string{}
	for _, pipeline := range selected {
		names = append(names, pipeline.Name)
	}
	sender.Send("analysis started",
		"project_name", opts.ProjectName,
		"pipelines", strings.Join(names, ","))

	if sharedOptions.GetCheckProgress() {
		basic.PrintfWithTimeStamp(printer.Sprintf("Start inspecting repository structure"))
		stats.WriteProgress(opts.ResultsDir, stats.RI, "0%", time.Now())
	}
	info, err := repoinfo.Analyze(opts, printer)
	if err != nil {
		glog.Fatalf("repoinfo.Analyze: %v", err)
	}
	glog.Infof("repository inspection found %d Python files", len(info.PythonFiles))

	pipelineErr := analyzer.RunPipelines(selected, opts, printer)
	if pipelineErr != nil {
		glog.Errorf("analysis finished with failures: %v", pipelineErr)
	}

	elapsed := time.Since(start)
	if sharedOptions.GetCheckProgress() {
		timeUsed := basic.FormatTimeDuration(elapsed)
		basic.PrintfWithTimeStamp(printer.Sprintf("Total time for analysis: %s", timeUsed))
		stats.WriteProgress(opts.ResultsDir, stats.END, "100%", start)
	}

	sender.Send("analysis finished",
		"project_name", opts.ProjectName,
		"duration_seconds", int(elapsed.Seconds()),
		"succeeded", pipelineErr == nil)

	// tar logs folder
	err = basic.TarFile(logDir.Value.String(), filepath.Join(opts.ResultsDir, "logs.tar.gz"))
	if err != nil {
		glog.Errorf("failed to compress log files: %v", err)
	}

	sender.Wait()
	glog.Flush()
}
