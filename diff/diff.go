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

// Package diff parses unified diff text, such as the output of git diff.
package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Hunk struct {
	OldPos, OldLines, NewPos, NewLines int
}

type File struct {
	NewName string
	OldName string
	Hunks   []*Hunk
}

type Patch struct {
	Files []*File
}

type Stat struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

/*
Parse parses the diff into a patch struct.

It goes over the lines in the diff and maintains an implicit state machine.
It only cares about lines that start with "--- ", "+++ ", or "@@ -", and
ignores everything else.

For a file modification both names are set. For a file addition the old
side is /dev/null and OldName is set to the empty string. For a file
deletion the new side is /dev/null and NewName is set to the empty string.
*/
func Parse(diff string) (*Patch, error) {
	re := regexp.MustCompile(`@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	lines := strings.Split(diff, "\n")
	var p Patch
	var f *File
	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") {
			f = &File{}
			if line == "--- /dev/null" {
				// file addition
				f.OldName = ""
			} else if strings.HasPrefix(line, "--- a/") {
				f.OldName = strings.TrimPrefix(line, "--- a/")
			} else {
				return nil, fmt.Errorf("invalid line %d '%s'", i, line)
			}
			p.Files = append(p.Files, f)
		} else if strings.HasPrefix(line, "+++ ") {
			if f == nil || len(f.Hunks) > 0 {
				return nil, fmt.Errorf("unexpected line %d '%s'", i, line)
			}
			if line == "+++ /dev/null" {
				// file deletion
				f.NewName = ""
			} else if strings.HasPrefix(line, "+++ b/") {
				f.NewName = strings.TrimPrefix(line, "+++ b/")
			} else {
				return nil, fmt.Errorf("invalid line %d '%s'", i, line)
			}
		} else if strings.HasPrefix(line, "@@ -") {
			match := re.FindStringSubmatch(line)
			if match == nil {
				return nil, fmt.Errorf("could not extract hunk info from line '%s'", line)
			}
			oldpos, err := strconv.Atoi(match[1])
			if err != nil {
				return nil, fmt.Errorf("error converting oldpos to integer in '%s': %v", line, err)
			}
			oldlines := 1
			if match[2] != "" {
				oldlines, err = strconv.Atoi(match[2])
				if err != nil {
					return nil, fmt.Errorf("error converting oldlines to integer in '%s': %v", line, err)
				}
			}
			newpos, err := strconv.Atoi(match[3])
			if err != nil {
				return nil, fmt.Errorf("error converting newpos to integer in '%s': %v", line, err)
			}
			newlines := 1
			if match[4] != "" {
				newlines, err = strconv.Atoi(match[4])
				if err != nil {
					return nil, fmt.Errorf("error converting newlines to integer in '%s': %v", line, err)
				}
			}
			if f == nil {
				return nil, fmt.Errorf("f is nil but line %d is '%s'", i, line)
			}
			f.Hunks = append(f.Hunks, &Hunk{oldpos, oldlines, newpos, newlines})
		}
	}
	return &p, nil
}

// Stats reduces a patch to per-commit change counters. The hunk sizes only
// equal inserted and deleted lines when the diff was produced with zero
// context lines (git diff --unified=0).
func (p *Patch) Stats() Stat {
	var s Stat
	s.FilesChanged = len(p.Files)
	for _, f := range p.Files {
		for _, h := range f.Hunks {
			s.Insertions += h.NewLines
			s.Deletions += h.OldLines
		}
	}
	return s
}
