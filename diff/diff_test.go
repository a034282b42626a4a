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

package diff

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	for _, testCase := range [...]struct {
		name     string
		diff     string
		expected *Patch
	}{
		{
			"modification",
			`diff --git a/app/auth.py b/app/auth.py
index 83db48f..bf269f4 100644
--- a/app/auth.py
+++ b/app/auth.py
@@ -12,0 +13,2 @@ def login(user):
+    if user is None:
+        raise ValueError("missing user")
@@ -40 +42 @@ def logout(user):
-    session.clear()
+    session.pop(user.id, None)
`,
			&Patch{Files: []*File{
				{
					OldName: "app/auth.py",
					NewName: "app/auth.py",
					Hunks: []*Hunk{
						{12, 0, 13, 2},
						{40, 1, 42, 1},
					},
				},
			}},
		},
		{
			"addition",
			`diff --git a/app/crypto.py b/app/crypto.py
new file mode 100644
index 0000000..f2a9c41
--- /dev/null
+++ b/app/crypto.py
@@ -0,0 +1,3 @@
+import hashlib
+
+DIGEST = "sha256"
`,
			&Patch{Files: []*File{
				{
					OldName: "",
					NewName: "app/crypto.py",
					Hunks:   []*Hunk{{0, 0, 1, 3}},
				},
			}},
		},
		{
			"deletion",
			`diff --git a/app/legacy.py b/app/legacy.py
deleted file mode 100644
index f2a9c41..0000000
--- a/app/legacy.py
+++ /dev/null
@@ -1,2 +0,0 @@
-import md5
-SECRET = "hunter2"
`,
			&Patch{Files: []*File{
				{
					OldName: "app/legacy.py",
					NewName: "",
					Hunks:   []*Hunk{{1, 2, 0, 0}},
				},
			}},
		},
		{
			"two files",
			`--- a/setup.py
+++ b/setup.py
@@ -3 +3 @@
-VERSION = "1.0"
+VERSION = "1.1"
--- /dev/null
+++ b/tests/test_setup.py
@@ -0,0 +1 @@
+def test_version(): pass
`,
			&Patch{Files: []*File{
				{
					OldName: "setup.py",
					NewName: "setup.py",
					Hunks:   []*Hunk{{3, 1, 3, 1}},
				},
				{
					OldName: "",
					NewName: "tests/test_setup.py",
					Hunks:   []*Hunk{{0, 0, 1, 1}},
				},
			}},
		},
		{
			"empty",
			"",
			&Patch{},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			patch, err := Parse(testCase.diff)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(patch, testCase.expected) {
				t.Errorf("unexpected patch for %s. parsed: %v, expected: %v.",
					testCase.name, patch, testCase.expected)
			}
		})
	}
}

func TestParseInvalidLines(t *testing.T) {
	for _, testCase := range [...]struct {
		name string
		diff string
	}{
		{"bad old name", "--- app/auth.py\n"},
		{"bad new name", "--- a/app/auth.py\n+++ app/auth.py\n"},
		{"new name before old name", "+++ b/app/auth.py\n"},
		{"hunk before names", "@@ -1,2 +3,4 @@\n"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Parse(testCase.diff)
			if err == nil {
				t.Errorf("expected error for %s, got nil", testCase.name)
			}
		})
	}
}

func TestStats(t *testing.T) {
	patch := &Patch{Files: []*File{
		{
			OldName: "app/auth.py",
			NewName: "app/auth.py",
			Hunks: []*Hunk{
				{12, 0, 13, 2},
				{40, 1, 42, 1},
			},
		},
		{
			OldName: "app/legacy.py",
			NewName: "",
			Hunks:   []*Hunk{{1, 2, 0, 0}},
		},
	}}
	stat := patch.Stats()
	expected := Stat{FilesChanged: 2, Insertions: 3, Deletions: 3}
	if stat != expected {
		t.Errorf("unexpected stats. got: %+v, expected: %+v.", stat, expected)
	}
}
