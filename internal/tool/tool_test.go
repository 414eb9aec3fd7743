package tool

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dcode-run/agentrt/internal/session"
)

func testContext(t *testing.T) (*Context, string) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(filepath.Join(dir, "chats"))
	sess := store.NewChatSession("gpt-5")
	return &Context{
		Session:         sess,
		Store:           store,
		WorkDir:         dir,
		ActiveProcesses: NewProcessTable(),
	}, dir
}

func execute(t *testing.T, tc *Context, name string, args map[string]interface{}) *Result {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return NewRegistry().Execute(context.Background(), name, raw, tc)
}

func TestTodoWriteRoundTrip(t *testing.T) {
	tc, _ := testContext(t)

	res := execute(t, tc, "todo_write", map[string]interface{}{
		"merge": false,
		"todos": []map[string]string{
			{"id": "1", "status": "pending", "content": "A"},
			{"id": "2", "status": "in_progress", "content": "B"},
		},
	})
	if res.Payload["success"] != true || res.Payload["todo_count"] != 2 {
		t.Fatalf("unexpected replace result: %+v", res.Payload)
	}

	res = execute(t, tc, "todo_write", map[string]interface{}{
		"merge": true,
		"todos": []map[string]string{
			{"id": "2", "status": "completed", "content": "B'"},
			{"id": "3", "status": "pending", "content": "C"},
		},
	})
	if res.Payload["todo_count"] != 3 {
		t.Fatalf("expected 3 todos after merge, got %+v", res.Payload)
	}

	todos := tc.Session.Data.Todos
	if todos[0].ID != "1" || todos[1].ID != "2" || todos[2].ID != "3" {
		t.Fatalf("merge should preserve insertion order, got %+v", todos)
	}
	if todos[1].Status != session.TodoCompleted || todos[1].Content != "B'" {
		t.Fatalf("merge should upsert id 2, got %+v", todos[1])
	}
}

func TestTodoWriteRejectsEmptyAndBadStatus(t *testing.T) {
	tc, _ := testContext(t)

	res := execute(t, tc, "todo_write", map[string]interface{}{"merge": false, "todos": []map[string]string{}})
	if res.Payload["success"] != false {
		t.Fatalf("empty todos should fail: %+v", res.Payload)
	}

	res = execute(t, tc, "todo_write", map[string]interface{}{
		"merge": false,
		"todos": []map[string]string{{"id": "1", "status": "done", "content": "A"}},
	})
	if res.Payload["success"] != false {
		t.Fatalf("invalid status should fail: %+v", res.Payload)
	}
}

func TestApplyPatchUpdate(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(target, []byte("line1\nline2\nline3"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Update File: f.txt\n@@\n line1\n-line2\n+LINE2\n line3\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("patch failed: %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "line1\nLINE2\nline3" {
		t.Fatalf("unexpected file content: %q", got)
	}
	if res.SideEffects.PatchCommand != patch {
		t.Fatalf("expected patch text preserved as side effect")
	}
}

func TestApplyPatchAddFile(t *testing.T) {
	tc, dir := testContext(t)

	patch := "*** Begin Patch\n*** Add File: sub/new.txt\n+hello\n+world\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("add failed: %+v", res.Payload)
	}

	got, err := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\nworld" {
		t.Fatalf("add content should be newline-joined with no trailing newline, got %q", got)
	}
}

func TestApplyPatchFailures(t *testing.T) {
	tc, dir := testContext(t)
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a\nb"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name  string
		patch string
	}{
		{"missing begin", "*** Update File: f.txt\n@@\n a\n*** End Patch"},
		{"missing end", "*** Begin Patch\n*** Update File: f.txt\n@@\n a"},
		{"add without plus", "*** Begin Patch\n*** Add File: x.txt\nnot prefixed\n*** End Patch"},
		{"add with no lines", "*** Begin Patch\n*** Add File: x.txt\n*** End Patch"},
		{"update missing file", "*** Begin Patch\n*** Update File: nope.txt\n@@\n a\n*** End Patch"},
		{"context not found", "*** Begin Patch\n*** Update File: f.txt\n@@\n zzz\n-qqq\n*** End Patch"},
	}
	for _, c := range cases {
		res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": c.patch})
		if res.Payload["success"] != false {
			t.Errorf("%s: expected failure, got %+v", c.name, res.Payload)
		}
	}
}

func TestApplyPatchHandlesDriftedContext(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	// An extra line has drifted in between the hunk's context and removal
	// target; the per-op forward search must still locate both.
	if err := os.WriteFile(target, []byte("ctx1\ndrift\nold\nctx2"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Update File: f.txt\n@@\n ctx1\n-old\n+new\n ctx2\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("patch failed: %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "ctx1\ndrift\nnew\nctx2" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApplyPatchContextlessBlock(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(target, []byte("a\nb\nc\nd"), 0o644); err != nil {
		t.Fatal(err)
	}

	// No context lines at all: the removal block is matched contiguously.
	patch := "*** Begin Patch\n*** Update File: f.txt\n@@\n-b\n-c\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("patch failed: %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "a\nd" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApplyPatchHintSetsCursor(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	// "value = 1" appears twice; the hint anchors the hunk to the second
	// occurrence's section.
	content := "[first]\nvalue = 1\n[second]\nvalue = 1"
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Update File: f.txt\n@@ [second]\n-value = 1\n+value = 2\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("patch failed: %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "[first]\nvalue = 1\n[second]\nvalue = 2" {
		t.Fatalf("hint should anchor to the second section: %q", got)
	}
}

func TestUnifiedDiff(t *testing.T) {
	if _, err := exec.LookPath("diff"); err != nil {
		t.Skip("diff not installed")
	}

	out := unifiedDiff("pkg/f.txt", "a\nb\n", "a\nB\n")
	if out == "" {
		t.Fatalf("expected a diff for differing content")
	}
	lines := strings.Split(out, "\n")
	if lines[0] != "--- pkg/f.txt" || lines[1] != "+++ pkg/f.txt" {
		t.Fatalf("headers not normalized: %q %q", lines[0], lines[1])
	}
	if !strings.Contains(out, "-b") || !strings.Contains(out, "+B") {
		t.Fatalf("diff body missing change: %q", out)
	}

	if unifiedDiff("f", "same", "same") != "" {
		t.Fatalf("identical content should yield no diff")
	}
}

func TestApplyPatchToleratesEndOfFileMarker(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(target, []byte("a\nb"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Update File: f.txt\n@@\n a\n-b\n+B\n*** End of File\n*** End Patch"
	res := execute(t, tc, "apply_patch", map[string]interface{}{"patchCommand": patch})
	if res.Payload["success"] != true {
		t.Fatalf("patch failed: %+v", res.Payload)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "a\nB" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestReadFileSlicing(t *testing.T) {
	tc, dir := testContext(t)
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("one\ntwo"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "read_file", map[string]interface{}{"target_file": "f.txt", "offset": 2})
	if res.Payload["content"] != "L002:two" {
		t.Fatalf("expected %q, got %q", "L002:two", res.Payload["content"])
	}

	res = execute(t, tc, "read_file", map[string]interface{}{"target_file": "f.txt", "limit": 1})
	if res.Payload["content"] != "L001:one" {
		t.Fatalf("expected %q, got %q", "L001:one", res.Payload["content"])
	}
}

func TestReadFilePadWidthGrowsWithFileLength(t *testing.T) {
	tc, dir := testContext(t)

	lines := make([]string, 1200)
	for i := range lines {
		lines[i] = "x"
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "read_file", map[string]interface{}{"target_file": "big.txt", "limit": 1})
	if res.Payload["content"] != "L0001:x" {
		t.Fatalf("pad width should be 4 for a 1200-line file, got %q", res.Payload["content"])
	}
}

func TestReadFileEmptyAndDirectory(t *testing.T) {
	tc, dir := testContext(t)
	if err := os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "read_file", map[string]interface{}{"target_file": "empty.txt"})
	if res.Payload["content"] != "" {
		t.Fatalf("empty file should yield empty string, got %q", res.Payload["content"])
	}

	res = execute(t, tc, "read_file", map[string]interface{}{"target_file": "."})
	if res.Payload["success"] != false {
		t.Fatalf("directory target should fail: %+v", res.Payload)
	}
}

func TestRgMatching(t *testing.T) {
	if _, err := exec.LookPath("rg"); err != nil {
		t.Skip("ripgrep not installed")
	}
	tc, dir := testContext(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nfoo\nbar\nfoo"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "rg", map[string]interface{}{"pattern": "foo"})
	out, _ := res.Payload["output"].(string)
	if !strings.Contains(out, "Found 2 matching lines") {
		t.Fatalf("expected two matches, got %q", out)
	}
	if !strings.Contains(out, "a.txt") || strings.Count(out, "foo") != 2 {
		t.Fatalf("expected both foo lines from a.txt, got %q", out)
	}
	if !strings.Contains(out, "workspace_path=") {
		t.Fatalf("expected workspace_path attribute, got %q", out)
	}

	res = execute(t, tc, "rg", map[string]interface{}{"pattern": "foo", "head_limit": 1})
	out, _ = res.Payload["output"].(string)
	if strings.Count(out, "foo") > 1 {
		t.Fatalf("head_limit 1 should cap match lines, got %q", out)
	}

	res = execute(t, tc, "rg", map[string]interface{}{"pattern": "zzz-no-match"})
	out, _ = res.Payload["output"].(string)
	if !strings.Contains(out, "Found 0 matching lines") {
		t.Fatalf("expected zero matches, got %q", out)
	}
}

func TestEditFileMultiSegment(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	orig := "header1\nheader2\nbody1\nbody2\nbody3\nfooter1\nfooter2"
	if err := os.WriteFile(target, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	codeEdit := "header1\nheader2\n// ... existing code ...\nBODY1\nBODY2\nBODY3\n// ... existing code ...\nfooter1\nfooter2"
	res := execute(t, tc, "edit_file", map[string]interface{}{
		"target_file":  "f.txt",
		"instructions": "replace the body",
		"code_edit":    codeEdit,
	})
	if res.Payload["success"] != true || res.Payload["created"] != false {
		t.Fatalf("edit failed: %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	want := "header1\nheader2\nBODY1\nBODY2\nBODY3\nfooter1\nfooter2"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, ok := tc.Session.Data.FileOriginals[target]; !ok {
		t.Fatalf("expected original content recorded on first touch")
	}
	if res.SideEffects.Diff == "" {
		t.Fatalf("expected a diff side effect")
	}
}

func TestEditFileCreatesMissingFile(t *testing.T) {
	tc, dir := testContext(t)

	res := execute(t, tc, "edit_file", map[string]interface{}{
		"target_file":  "sub/new.txt",
		"instructions": "create it",
		"code_edit":    "// ... existing code ...\nhello\nworld",
	})
	if res.Payload["success"] != true || res.Payload["created"] != true {
		t.Fatalf("create failed: %+v", res.Payload)
	}

	got, err := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\nworld" {
		t.Fatalf("marker lines should be filtered from new files, got %q", got)
	}
}

func TestEditFileUnlocatableSegmentFails(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	orig := "keep1\nkeep2\nmiddle\nkeep3"
	if err := os.WriteFile(target, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	// A lone segment that matches nothing has no anchor to infer from.
	res := execute(t, tc, "edit_file", map[string]interface{}{
		"target_file":  "f.txt",
		"instructions": "change the middle",
		"code_edit":    "// ... existing code ...\nNOWHERE TO GO\n// ... existing code ...",
	})
	if res.Payload["success"] != false {
		t.Fatalf("expected failure payload, got %+v", res.Payload)
	}

	got, _ := os.ReadFile(target)
	if string(got) != orig {
		t.Fatalf("failed edit must not modify the file, got %q", got)
	}
}

func TestDeleteFile(t *testing.T) {
	tc, dir := testContext(t)
	target := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(target, []byte("doomed"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "delete_file", map[string]interface{}{"target_file": "f.txt"})
	if res.Payload["ok"] != true {
		t.Fatalf("delete failed: %+v", res.Payload)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("file should be gone")
	}
	if tc.Session.Data.FileOriginals[target] != "doomed" {
		t.Fatalf("expected original content recorded")
	}
	if res.SideEffects.Diff == "" {
		t.Fatalf("expected full-deletion diff")
	}

	res = execute(t, tc, "delete_file", map[string]interface{}{"target_file": "f.txt"})
	if res.Payload["ok"] != false || res.Payload["error"] != "File does not exist" {
		t.Fatalf("missing file should return ok:false error, got %+v", res.Payload)
	}
}

func TestUpdateMemoryLifecycle(t *testing.T) {
	tc, _ := testContext(t)

	res := execute(t, tc, "update_memory", map[string]interface{}{
		"action":             "create",
		"title":              "build",
		"knowledge_to_store": "use make test",
	})
	if res.Payload["success"] != true {
		t.Fatalf("create failed: %+v", res.Payload)
	}
	id, _ := res.Payload["id"].(string)
	if !strings.HasPrefix(id, "mem_") {
		t.Fatalf("expected mem_<ms>_<rand> id, got %q", id)
	}

	res = execute(t, tc, "update_memory", map[string]interface{}{
		"action": "update", "id": id, "title": "build commands",
	})
	if res.Payload["success"] != true {
		t.Fatalf("update failed: %+v", res.Payload)
	}
	if tc.Session.Data.Memories[0].Title != "build commands" {
		t.Fatalf("title not updated: %+v", tc.Session.Data.Memories[0])
	}

	res = execute(t, tc, "update_memory", map[string]interface{}{"action": "delete", "id": id})
	if res.Payload["success"] != true || len(tc.Session.Data.Memories) != 0 {
		t.Fatalf("delete failed: %+v %+v", res.Payload, tc.Session.Data.Memories)
	}
}

func TestListDir(t *testing.T) {
	tc, dir := testContext(t)
	for _, name := range []string{"b.txt", "a.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "list_dir", map[string]interface{}{"target_directory": "."})
	entries, _ := res.Payload["entries"].([]string)
	want := []string{"a.txt", "b.txt", "sub/"}
	if len(entries) != len(want) {
		t.Fatalf("got %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("got %v, want %v", entries, want)
		}
	}

	res = execute(t, tc, "list_dir", map[string]interface{}{
		"target_directory": ".",
		"ignore_globs":     []string{"*.txt"},
	})
	entries, _ = res.Payload["entries"].([]string)
	if len(entries) != 1 || entries[0] != "sub/" {
		t.Fatalf("ignore_globs should drop txt files, got %v", entries)
	}
}

func TestGlobFileSearch(t *testing.T) {
	tc, dir := testContext(t)
	if err := os.MkdirAll(filepath.Join(dir, "pkg", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "sub", "util.go"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, tc, "glob_file_search", map[string]interface{}{"glob_pattern": "*.go"})
	matches, _ := res.Payload["matches"].([]string)
	if len(matches) != 2 {
		t.Fatalf("bare *.go should match anywhere in the tree, got %v", matches)
	}

	res = execute(t, tc, "glob_file_search", map[string]interface{}{"glob_pattern": "pkg/**/*.go"})
	matches, _ = res.Payload["matches"].([]string)
	if len(matches) != 1 || matches[0] != "pkg/sub/util.go" {
		t.Fatalf("got %v", matches)
	}
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"**/*.go", "a.go", true},
		{"**/*.go", "x/y/a.go", true},
		{"**/*.go", "a.txt", false},
		{"pkg/*.go", "pkg/a.go", true},
		{"pkg/*.go", "pkg/sub/a.go", false},
		{"pkg/**/*.go", "pkg/sub/a.go", true},
		{"?.txt", "a.txt", true},
		{"?.txt", "ab.txt", false},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.path); got != c.want {
			t.Errorf("matchGlob(%q,%q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestReadLints(t *testing.T) {
	tc, _ := testContext(t)
	res := execute(t, tc, "read_lints", nil)
	if res.Payload["output"] != "No linter errors found." {
		t.Fatalf("got %+v", res.Payload)
	}
}

func TestRunTerminalCmdForeground(t *testing.T) {
	tc, _ := testContext(t)

	var streamed []CommandOutEvent
	tc.OnCommandOut = func(ev CommandOutEvent) { streamed = append(streamed, ev) }

	res := execute(t, tc, "run_terminal_cmd", map[string]interface{}{
		"command":       "echo out; echo err 1>&2",
		"is_background": false,
	})
	if res.Payload["exitCode"] != 0 {
		t.Fatalf("unexpected result: %+v", res.Payload)
	}
	if stdout, _ := res.Payload["stdout"].(string); !strings.Contains(stdout, "out") {
		t.Fatalf("stdout not captured: %+v", res.Payload)
	}
	if stderr, _ := res.Payload["stderr"].(string); !strings.Contains(stderr, "err") {
		t.Fatalf("stderr not captured: %+v", res.Payload)
	}
	if len(streamed) == 0 {
		t.Fatalf("expected streamed chunks")
	}
}

func TestRunTerminalCmdBackground(t *testing.T) {
	tc, _ := testContext(t)

	res := execute(t, tc, "run_terminal_cmd", map[string]interface{}{
		"command":       "sleep 0.05",
		"is_background": true,
	})
	if _, ok := res.Payload["pid"]; !ok {
		t.Fatalf("background run should return a pid: %+v", res.Payload)
	}
	if _, ok := res.Payload["started_at"]; !ok {
		t.Fatalf("background run should return started_at: %+v", res.Payload)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	tc, _ := testContext(t)
	res := execute(t, tc, "no_such_tool", nil)
	if res.Payload["success"] != false {
		t.Fatalf("unknown tool should fail inline: %+v", res.Payload)
	}
}

func TestExecuteCancelled(t *testing.T) {
	tc, _ := testContext(t)
	tc.IsCancelled = func() bool { return true }
	res := execute(t, tc, "read_lints", nil)
	if res.Payload["error"] != "Operation cancelled" {
		t.Fatalf("expected cancellation error, got %+v", res.Payload)
	}
}
