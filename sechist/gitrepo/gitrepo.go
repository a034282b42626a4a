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

// Package gitrepo enumerates the commit history of the project under
// analysis and moves its work tree between revisions.
package gitrepo

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/golang/glog"
	git2go "github.com/libgit2/git2go/v33"
	"naive.systems/testlab/diff"
)

type CommitInfo struct {
	Hash         string `json:"hash"`
	Author       string `json:"author"`
	Timestamp    int64  `json:"timestamp"`
	Date         string `json:"date"`
	Subject      string `json:"subject"`
	FilesChanged int    `json:"files_changed"`
	Insertions   int    `json:"insertions"`
	Deletions    int    `json:"deletions"`
}

// ListCommits walks the history from HEAD, newest first, and returns up to
// maxCommits non-merge commits. The walk never looks at more than
// historyWindow commits in total, so scans of huge repositories stay bounded.
func ListCommits(repoPath string, maxCommits, historyWindow int) ([]CommitInfo, error) {
	repo, err := git2go.OpenRepository(repoPath)
	if err != nil {
		return nil, fmt.Errorf("git2go.OpenRepository failed: %v", err)
	}
	walk, err := repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("repo.Walk failed: %v", err)
	}
	walk.Sorting(git2go.SortTime)
	err = walk.PushHead()
	if err != nil {
		return nil, fmt.Errorf("walk.PushHead failed: %v", err)
	}
	commits := []CommitInfo{}
	walked := 0
	err = walk.Iterate(func(commit *git2go.Commit) bool {
		walked++
		if walked > historyWindow {
			return false
		}
		if commit.ParentCount() > 1 {
			// merge commits carry no changes of their own
			return true
		}
		author := commit.Author()
		info := CommitInfo{
			Hash:      commit.Id().String(),
			Author:    author.Name,
			Timestamp: author.When.Unix(),
			Date:      author.When.Format("2006-01-02 15:04:05"),
			Subject:   commit.Summary(),
		}
		stat, err := treeStats(repo, commit)
		if err != nil {
			glog.Warningf("tree diff for %s failed: %v", info.Hash, err)
			stat, err = ShowStats(repoPath, info.Hash)
			if err != nil {
				glog.Warningf("git show for %s failed: %v", info.Hash, err)
			}
		}
		info.FilesChanged = stat.FilesChanged
		info.Insertions = stat.Insertions
		info.Deletions = stat.Deletions
		commits = append(commits, info)
		return len(commits) < maxCommits
	})
	if err != nil {
		return nil, fmt.Errorf("walk.Iterate failed: %v", err)
	}
	return commits, nil
}

func treeStats(repo *git2go.Repository, commit *git2go.Commit) (diff.Stat, error) {
	var parentTree *git2go.Tree
	if commit.ParentCount() > 0 {
		var err error
		parentTree, err = commit.Parent(0).Tree()
		if err != nil {
			return diff.Stat{}, fmt.Errorf("Parent(0).Tree failed: %v", err)
		}
	}
	commitTree, err := commit.Tree()
	if err != nil {
		return diff.Stat{}, fmt.Errorf("commit.Tree failed: %v", err)
	}
	options := &git2go.DiffOptions{}
	options.ContextLines = 0
	treeDiff, err := repo.DiffTreeToTree(parentTree, commitTree, options)
	if err != nil {
		return diff.Stat{}, fmt.Errorf("DiffTreeToTree failed: %v", err)
	}
	stats, err := treeDiff.Stats()
	if err != nil {
		return diff.Stat{}, fmt.Errorf("treeDiff.Stats failed: %v", err)
	}
	return diff.Stat{
		FilesChanged: stats.FilesChanged(),
		Insertions:   stats.Insertions(),
		Deletions:    stats.Deletions(),
	}, nil
}

// ShowStats extracts change counters from git show output. It backs up the
// libgit2 tree diff, which cannot produce a parent tree on shallow clones.
func ShowStats(repoPath, hash string) (diff.Stat, error) {
	cmd := exec.Command("git", "show", "--format=", "--unified=0", hash)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return diff.Stat{}, fmt.Errorf("git show %s: %v", hash, err)
	}
	return PatchStats(string(out))
}

// PatchStats reduces unified diff text to change counters.
func PatchStats(text string) (diff.Stat, error) {
	patch, err := diff.Parse(text)
	if err != nil {
		return diff.Stat{}, err
	}
	return patch.Stats(), nil
}

// Checkout moves the work tree to the given revision.
func Checkout(repoPath, revision string) error {
	cmd := exec.Command("git", "checkout", revision)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git checkout %s: %v\n%s", revision, err, string(out))
	}
	return nil
}

func CurrentBranch(repoPath string) (string, error) {
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git branch --show-current: %v\n%s", err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// RestoreBranch returns the work tree to the given branch after a scan walked
// it through historical commits. Repositories that predate the main rename
// fall back to master.
func RestoreBranch(repoPath, branch string) error {
	err := Checkout(repoPath, branch)
	if err != nil {
		glog.Warningf("%v", err)
	}
	current, err := CurrentBranch(repoPath)
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}
	return Checkout(repoPath, "master")
}
