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

package gitrepo

import (
	"testing"
)

const samplePatch = `diff --git a/app/db.py b/app/db.py
index 1111111..2222222 100644
--- a/app/db.py
+++ b/app/db.py
@@ -10,2 +10,3 @@ def query(conn, name):
-    cursor = conn.execute("SELECT * FROM users WHERE name = '%s'" % name)
-    return cursor.fetchall()
+    cursor = conn.execute("SELECT * FROM users WHERE name = ?", (name,))
+    rows = cursor.fetchall()
+    return rows
@@ -40 +41 @@ def close(conn):
-    conn.close
+    conn.close()
diff --git a/app/audit.py b/app/audit.py
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/app/audit.py
@@ -0,0 +1,4 @@
+import logging
+
+def audit(event):
+    logging.info(event)
`

func TestPatchStats(t *testing.T) {
	stat, err := PatchStats(samplePatch)
	if err != nil {
		t.Fatalf("PatchStats failed: %v", err)
	}
	if stat.FilesChanged != 2 {
		t.Errorf("wrong files changed. got: %d, expected: %d.", stat.FilesChanged, 2)
	}
	if stat.Insertions != 8 {
		t.Errorf("wrong insertions. got: %d, expected: %d.", stat.Insertions, 8)
	}
	if stat.Deletions != 3 {
		t.Errorf("wrong deletions. got: %d, expected: %d.", stat.Deletions, 3)
	}
}

func TestPatchStatsEmpty(t *testing.T) {
	stat, err := PatchStats("")
	if err != nil {
		t.Fatalf("PatchStats failed: %v", err)
	}
	if stat.FilesChanged != 0 || stat.Insertions != 0 || stat.Deletions != 0 {
		t.Errorf("empty patch must have zero stats. got: %+v", stat)
	}
}

func TestPatchStatsInvalid(t *testing.T) {
	_, err := PatchStats("--- not-a-diff-prefix\n")
	if err == nil {
		t.Fatal("expected an error for malformed diff text")
	}
}
