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

package runner

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/text/message"
	"naive.systems/testlab/labslib/basic"
	"naive.systems/testlab/labslib/i18n"
	"naive.systems/testlab/labslib/options"
	"naive.systems/testlab/labslib/stats"
)

// The task for Runner to run in parallels
type LabTask struct {
	Id      int
	Name    string
	Workdir string
	Opts    *options.LabOptions
	Run     func(workdir string, opts *options.LabOptions) (any, error)
}

type TaskResult struct {
	Id      int
	Name    string
	Payload any
	Err     error
}

// A goroutine workgroup to run lab tasks in parallel.
type ParaTaskRunner struct {
	showProgress   bool
	progressStage  int
	workerWg       sync.WaitGroup
	collectorWg    sync.WaitGroup
	jobs_chan      chan LabTask
	results_chan   chan TaskResult
	sigs_exiting   chan bool
	results        []TaskResult
	errors         []error
	processPrinter basic.TaskProcessPrinter
}

func (pt *ParaTaskRunner) worker(jobs <-chan LabTask, results chan<- TaskResult, printer *message.Printer) {
	for j := range jobs {
		if pt.showProgress {
			pt.processPrinter.StartTask(j.Name, printer)
		}
		func() {
			defer func() {
				// recover from possible panic
				if r := recover(); r != nil {
					glog.Error("Recovered in task: ", r, string(debug.Stack()))
					results <- TaskResult{Id: j.Id, Err: errors.New("panic in lab task"), Payload: nil, Name: j.Name}
					if pt.showProgress {
						pt.processPrinter.FinishTask(j.Name, printer)
					}
				}
			}()
			payload, err := j.Run(j.Workdir, j.Opts)
			results <- TaskResult{Id: j.Id, Err: err, Payload: payload, Name: j.Name}
			if pt.showProgress {
				pt.processPrinter.FinishTask(j.Name, printer)
				stats.WriteProgress(j.Opts.ResultsDir, pt.progressStage, pt.processPrinter.GetPercentString(), pt.processPrinter.GetStartedAt())
			}
		}()
	}
	pt.workerWg.Done()
}

// Create a new task runner and results collectors.
func NewParaTaskRunner(numWorkers int32, taskNums int, showProgress bool, lang string, progressStage int) *ParaTaskRunner {
	printer := i18n.GetPrinter(lang)
	if numWorkers == 0 {
		numWorkers = int32(runtime.NumCPU())
		if showProgress {
			basic.PrintfWithTimeStamp(printer.Sprintf("Use %d CPU(s)", numWorkers))
		}
	}
	paraRunner := &ParaTaskRunner{
		showProgress:   showProgress,
		progressStage:  progressStage,
		jobs_chan:      make(chan LabTask, numWorkers),
		results_chan:   make(chan TaskResult, numWorkers),
		sigs_exiting:   make(chan bool, 1),
		results:        []TaskResult{},
		errors:         make([]error, taskNums),
		processPrinter: basic.NewTaskProcessPrinter(taskNums),
	}
	for w := 0; w < int(numWorkers); w++ {
		paraRunner.workerWg.Add(1)
		go paraRunner.worker(paraRunner.jobs_chan, paraRunner.results_chan, printer)
	}

	sigs := make(chan os.Signal, 1)
	// if a signal is received, notify the loop to stop sending new workers
	signal.Notify(sigs, syscall.SIGINT)
	// collect results
	paraRunner.collectorWg.Add(1)
	go func() {
		for job_result := range paraRunner.results_chan {
			select {
			case <-sigs:
				// if recived a SIGINT, stop collector and the task loop
				if paraRunner.showProgress {
					basic.PrintfWithTimeStamp("Ctrl C Pressed. Stop analysis")
				}
				paraRunner.sigs_exiting <- true
				paraRunner.collectorWg.Done()
				return
			default:
			}
			if job_result.Err == nil {
				paraRunner.results = append(paraRunner.results, job_result)
			} else {
				glog.Errorf("Task %v got error %v", job_result.Name, job_result.Err)
			}
			paraRunner.errors[job_result.Id] = job_result.Err
		}
		paraRunner.collectorWg.Done()
	}()
	return paraRunner
}

// check for the SIGINT existing signal
// If the existing signal is received, it will return results and errors.
// results will never be nil if the existing signal is received.
// If the existing signal is not received, it will return nil for results and nil for errors.
func (pt *ParaTaskRunner) CheckSignalExiting() (results []TaskResult, errors []error) {
	select {
	// if recived a SIGINT, stop the task loop
	case <-pt.sigs_exiting:
		// close the jobs_chan to let worker end
		close(pt.jobs_chan)
		pt.collectorWg.Wait()
		// return results and errors directly because collector has stop.
		return sortResults(pt.results), pt.errors
	default:
		return nil, nil
	}
}

// Add a task to the task runner and start running the task.
func (pt *ParaTaskRunner) AddTask(task LabTask) {
	pt.jobs_chan <- task
}

// Wait until all the tasks workers and collectors are finished and all results are collected.
// Return the results and errors.
func (pt *ParaTaskRunner) CollectResultsAndErrors() (results []TaskResult, errors []error) {
	go func() {
		pt.workerWg.Wait()
		close(pt.results_chan)
	}()
	close(pt.jobs_chan)
	pt.collectorWg.Wait()
	return sortResults(pt.results), pt.errors
}

func sortResults(results []TaskResult) []TaskResult {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Id < results[j].Id
	})
	return results
}
