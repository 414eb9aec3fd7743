package tool

import (
	"os"
	"os/exec"
	"strings"
)

// unifiedDiff renders the change from before to after by shelling out to
// the external `diff -u` program over two tempfiles, with the header paths
// normalized to label (the workspace-relative path). Diff failures are
// non-fatal: the empty string is returned and the caller simply omits the
// diff field, so a successful edit is never masked by a cosmetic diff
// failure.
func unifiedDiff(label, before, after string) string {
	if before == after {
		return ""
	}

	beforeFile, err := os.CreateTemp("", "dcode-diff-a-*")
	if err != nil {
		return ""
	}
	defer os.Remove(beforeFile.Name())

	afterFile, err := os.CreateTemp("", "dcode-diff-b-*")
	if err != nil {
		beforeFile.Close()
		return ""
	}
	defer os.Remove(afterFile.Name())

	_, werr1 := beforeFile.WriteString(before)
	_, werr2 := afterFile.WriteString(after)
	beforeFile.Close()
	afterFile.Close()
	if werr1 != nil || werr2 != nil {
		return ""
	}

	out, err := exec.Command("diff", "-u", beforeFile.Name(), afterFile.Name()).Output()
	if err != nil {
		// diff exits 1 when the files differ; anything else is a real failure.
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() != 1 {
			return ""
		}
	}
	if len(out) == 0 {
		return ""
	}

	return normalizeDiffHeaders(string(out), label)
}

// normalizeDiffHeaders rewrites the `--- <tempfile>\t<mtime>` and
// `+++ <tempfile>\t<mtime>` header lines to carry the workspace-relative
// path instead of the tempfile names.
func normalizeDiffHeaders(diff, label string) string {
	lines := strings.Split(diff, "\n")
	// Only the first two lines are headers; a removed content line can
	// also start with "--- " and must be left alone.
	for i := 0; i < len(lines) && i < 2; i++ {
		if strings.HasPrefix(lines[i], "--- ") {
			lines[i] = "--- " + label
		} else if strings.HasPrefix(lines[i], "+++ ") {
			lines[i] = "+++ " + label
		}
	}
	return strings.Join(lines, "\n")
}
