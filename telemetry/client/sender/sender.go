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

// Package sender posts usage events to the TestLab receiver. Events queue on
// a channel and a background worker delivers them with retries, so pipelines
// never block on the network.
package sender

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"naive.systems/testlab/labslib/basic"
)

const (
	receiverURL = "https://naivesystems.com/testlab/receiver.php"
	maxRetries  = 3
	retryDelay  = 5 * time.Second
	maxWait     = 1 * time.Minute
)

type event = map[string]any

var queue = make(chan event, 1000)

var pending sync.WaitGroup

var (
	waitStartMutex sync.Mutex
	waitStarted    bool
	waitStartTime  time.Time
)

// environment is attached to the first event of every session.
var environment = event{}

var sessionID = uuid.NewString()

func charArrayToString(ca []int8) string {
	var bs []byte
	for _, c := range ca {
		if c == 0 {
			break
		}
		bs = append(bs, byte(c))
	}
	return string(bs)
}

func cpuModelName() (string, error) {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}
	return "", scanner.Err()
}

func initEnvironment() {
	hostname, err := os.Hostname()
	if err == nil {
		environment["hostname"] = hostname
	}
	environment["num_cpu"] = runtime.NumCPU()
	if runtime.GOOS != "linux" {
		return
	}
	osType, osVersion, err := basic.GetOperatingSystemType()
	if err == nil {
		environment["os_type"] = osType
		environment["os_version"] = osVersion
	}
	var utsname syscall.Utsname
	if syscall.Uname(&utsname) == nil {
		environment["kernel_release"] = charArrayToString(utsname.Release[:])
		environment["machine"] = charArrayToString(utsname.Machine[:])
	}
	model, err := cpuModelName()
	if err == nil && model != "" {
		environment["cpu_model"] = model
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSHandshakeTimeout:   retryDelay,
			DisableKeepAlives:     true,
			MaxIdleConns:          1,
			MaxConnsPerHost:       1,
			IdleConnTimeout:       1 * time.Millisecond,
			ResponseHeaderTimeout: retryDelay,
		},
		Timeout: 30 * time.Second,
	}
}

func init() {
	initEnvironment()

	go func() {
		firstEvent := true
		client := newHTTPClient()

		for data := range queue {
			if firstEvent {
				for key, value := range environment {
					data[key] = value
				}
			}

			jsonData, err := json.Marshal(data)
			if err != nil {
				continue
			}

			retryCount := 0
			for {
				if hasWaitedTooLong() {
					break
				}
				err := post(client, jsonData)
				client.CloseIdleConnections()
				if err == nil {
					firstEvent = false
					break
				}
				client = newHTTPClient()
				retryCount++
				if retryCount >= maxRetries {
					// give up on this event
					break
				}
				time.Sleep(retryDelay)
			}

			pending.Done()
		}
	}()
}

func post(client *http.Client, jsonData []byte) error {
	req, err := http.NewRequest("POST", receiverURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("resp status %d %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// Send queues one event. Args are key-value pairs.
func Send(msg string, args ...interface{}) {
	data := event{
		"app":        "testlab",
		"session_id": sessionID,
		"id":         uuid.NewString(),
		"msg":        msg,
	}

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			glog.Errorf("invalid argument at position %d", i)
			return
		}
		data[key] = args[i+1]
	}

	pending.Add(1)
	queue <- data
}

// Wait blocks until queued events are delivered or a minute has passed,
// whichever comes first.
func Wait() {
	setWaitStarted()
	pending.Wait()
}

func setWaitStarted() {
	waitStartMutex.Lock()
	defer waitStartMutex.Unlock()
	waitStarted = true
	waitStartTime = time.Now()
}

func hasWaitedTooLong() bool {
	waitStartMutex.Lock()
	defer waitStartMutex.Unlock()
	return waitStarted && time.Since(waitStartTime) > maxWait
}
