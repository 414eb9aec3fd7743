package tool

import (
	"fmt"
	"strings"
)

// patchOp is one file-level operation inside a patch envelope.
type patchOp struct {
	Kind       string // "add" | "update" | "delete"
	Path       string
	MovePath   string
	Hunks      []patchHunk
	AddBody    string
	hasAddLine bool
}

// patchHunk is one @@-delimited section of an Update File block: an
// optional locating hint followed by context/add/remove lines.
type patchHunk struct {
	Hint  string
	Lines []patchLine
}

type patchLine struct {
	Kind string // ' ' context, '+' add, '-' remove
	Text string
}

// parsePatch parses the envelope format:
//
//	*** Begin Patch
//	*** Add File: path
//	+line
//	*** Update File: path
//	*** Move to: newpath
//	@@ hint
//	 context
//	-removed
//	+added
//	*** Delete File: path
//	*** End Patch
func parsePatch(text string) ([]patchOp, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "*** Begin Patch" {
		return nil, fmt.Errorf("patch must start with '*** Begin Patch'")
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "*** End Patch" {
		return nil, fmt.Errorf("patch must end with '*** End Patch'")
	}
	lines = lines[1 : len(lines)-1]

	var ops []patchOp
	var cur *patchOp
	var curHunk *patchHunk

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.Hunks = append(cur.Hunks, *curHunk)
			curHunk = nil
		}
	}
	flushOp := func() error {
		flushHunk()
		if cur != nil {
			if cur.Kind == "add" && !cur.hasAddLine {
				return fmt.Errorf("'*** Add File: %s' has no '+' content lines", cur.Path)
			}
			ops = append(ops, *cur)
			cur = nil
		}
		return nil
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "*** Add File: "):
			if err := flushOp(); err != nil {
				return nil, err
			}
			cur = &patchOp{Kind: "add", Path: strings.TrimPrefix(line, "*** Add File: ")}
		case strings.HasPrefix(line, "*** Update File: "):
			if err := flushOp(); err != nil {
				return nil, err
			}
			cur = &patchOp{Kind: "update", Path: strings.TrimPrefix(line, "*** Update File: ")}
		case strings.HasPrefix(line, "*** Delete File: "):
			if err := flushOp(); err != nil {
				return nil, err
			}
			cur = &patchOp{Kind: "delete", Path: strings.TrimPrefix(line, "*** Delete File: ")}
		case strings.HasPrefix(line, "*** Move to: "):
			if cur == nil {
				return nil, fmt.Errorf("'*** Move to:' outside of a file block")
			}
			cur.MovePath = strings.TrimPrefix(line, "*** Move to: ")
		case strings.TrimSpace(line) == "*** End of File":
			// optional marker after a hunk; carries no content
		case strings.HasPrefix(line, "*** "):
			return nil, fmt.Errorf("unexpected directive inside patch: %q", line)
		case strings.HasPrefix(line, "@@"):
			if cur == nil || cur.Kind != "update" {
				return nil, fmt.Errorf("'@@' hunk outside of an Update File block")
			}
			flushHunk()
			hint := strings.TrimSpace(strings.TrimPrefix(line, "@@"))
			curHunk = &patchHunk{Hint: hint}
		default:
			if cur == nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, fmt.Errorf("unexpected patch line outside of a file block: %q", line)
			}
			switch cur.Kind {
			case "add":
				if !strings.HasPrefix(line, "+") {
					return nil, fmt.Errorf("'*** Add File: %s' content line must start with '+': %q", cur.Path, line)
				}
				if cur.hasAddLine {
					cur.AddBody += "\n"
				}
				cur.AddBody += strings.TrimPrefix(line, "+")
				cur.hasAddLine = true
			case "update":
				if curHunk == nil {
					curHunk = &patchHunk{}
				}
				if line == "" {
					curHunk.Lines = append(curHunk.Lines, patchLine{Kind: " ", Text: ""})
					continue
				}
				kind := line[0]
				if kind != '+' && kind != '-' && kind != ' ' {
					return nil, fmt.Errorf("invalid hunk line prefix in %q", line)
				}
				curHunk.Lines = append(curHunk.Lines, patchLine{Kind: string(kind), Text: line[1:]})
			}
		}
	}
	if err := flushOp(); err != nil {
		return nil, err
	}
	return ops, nil
}

// contextSearchWindow bounds how far past the cursor the forward search
// for a context or removal line may look before the hunk fails.
const contextSearchWindow = 50

// applyUpdateHunks applies each hunk of an Update File op to content,
// carrying a cursor across hunks so they apply in order. Per hunk: a
// non-empty hint relocates the cursor to the first line equal to it
// (trimmed), else the first containing it; a hunk with no explicit
// context lines is then applied as one contiguous removal/replacement
// (hinted or not); every other hunk is walked op by op (see applyHunkOps).
func applyUpdateHunks(content string, hunks []patchHunk) (string, error) {
	lines := splitKeepEmpty(content)
	cursor := 0

	for _, hunk := range hunks {
		if hunk.Hint != "" {
			found := -1
			for i := range lines {
				if strings.TrimSpace(lines[i]) == hunk.Hint {
					found = i
					break
				}
			}
			if found < 0 {
				for i := range lines {
					if strings.Contains(lines[i], hunk.Hint) {
						found = i
						break
					}
				}
			}
			if found >= 0 {
				cursor = found
			}
		}

		if !hasContextLines(hunk) {
			oldSeq, newSeq := hunkSides(hunk)
			if len(oldSeq) == 0 {
				// Pure insertion: nothing to match, splice in at the cursor.
				lines = spliceLines(lines, cursor, 0, newSeq)
				cursor += len(newSeq)
				continue
			}
			idx := findContiguous(lines, oldSeq, cursor, len(lines), false)
			if idx < 0 {
				idx = findContiguous(lines, oldSeq, cursor, len(lines), true)
			}
			if idx < 0 {
				return "", fmt.Errorf("could not locate removal block in file")
			}
			lines = spliceLines(lines, idx, len(oldSeq), newSeq)
			cursor = idx + len(newSeq)
			continue
		}

		var err error
		lines, cursor, err = applyHunkOps(lines, hunk, cursor)
		if err != nil {
			return "", err
		}
	}

	return strings.Join(lines, "\n"), nil
}

// applyHunkOps walks a hunk op by op: context lines are matched with
// leading-whitespace tolerance, searching forward up to contextSearchWindow
// lines before failing; '-' prefers removal at the cursor, else the first
// forward match; '+' inserts at the cursor and advances.
func applyHunkOps(lines []string, hunk patchHunk, cursor int) ([]string, int, error) {
	for _, op := range hunk.Lines {
		switch op.Kind {
		case " ":
			if strings.TrimSpace(op.Text) == "" {
				if cursor < len(lines) && strings.TrimSpace(lines[cursor]) == "" {
					cursor++
				}
				continue
			}
			idx := findLineForward(lines, op.Text, cursor)
			if idx < 0 {
				return nil, 0, fmt.Errorf("context line %q not found within %d lines", op.Text, contextSearchWindow)
			}
			cursor = idx + 1

		case "-":
			if cursor < len(lines) && linesEqualTrimmed(lines[cursor], op.Text) {
				lines = spliceLines(lines, cursor, 1, nil)
				continue
			}
			idx := findLineForward(lines, op.Text, cursor)
			if idx < 0 {
				return nil, 0, fmt.Errorf("removal target %q not found within %d lines", op.Text, contextSearchWindow)
			}
			lines = spliceLines(lines, idx, 1, nil)
			cursor = idx

		case "+":
			lines = spliceLines(lines, cursor, 0, []string{op.Text})
			cursor++
		}
	}
	return lines, cursor, nil
}

// hasContextLines reports whether a hunk carries any non-blank context op.
func hasContextLines(hunk patchHunk) bool {
	for _, op := range hunk.Lines {
		if op.Kind == " " && strings.TrimSpace(op.Text) != "" {
			return true
		}
	}
	return false
}

// findLineForward locates text at or after from, within the search window,
// matching exactly first and then with whitespace tolerance.
func findLineForward(lines []string, text string, from int) int {
	limit := from + contextSearchWindow
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := from; i < limit; i++ {
		if lines[i] == text {
			return i
		}
	}
	for i := from; i < limit; i++ {
		if linesEqualTrimmed(lines[i], text) {
			return i
		}
	}
	return -1
}

func linesEqualTrimmed(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// spliceLines replaces the remove lines starting at idx with insert,
// always on a fresh backing array.
func spliceLines(lines []string, idx, remove int, insert []string) []string {
	out := make([]string, 0, len(lines)-remove+len(insert))
	out = append(out, lines[:idx]...)
	out = append(out, insert...)
	out = append(out, lines[idx+remove:]...)
	return out
}

// hunkSides splits a hunk into the "old" side (context + removed lines,
// what must be found in the existing file) and the "new" side (context +
// added lines, what replaces it).
func hunkSides(hunk patchHunk) (oldLines, newLines []string) {
	for _, l := range hunk.Lines {
		switch l.Kind {
		case " ":
			oldLines = append(oldLines, l.Text)
			newLines = append(newLines, l.Text)
		case "-":
			oldLines = append(oldLines, l.Text)
		case "+":
			newLines = append(newLines, l.Text)
		}
	}
	return
}

// findContiguous returns the index in lines where oldLines occurs
// contiguously, searching [from, until). When fuzzy is true, comparison
// ignores leading/trailing whitespace per line.
func findContiguous(lines, oldLines []string, from, until int, fuzzy bool) int {
	if len(oldLines) == 0 {
		return -1
	}
	if until > len(lines) {
		until = len(lines)
	}
	for i := from; i+len(oldLines) <= until; i++ {
		match := true
		for j, want := range oldLines {
			got := lines[i+j]
			if fuzzy {
				if strings.TrimSpace(got) != strings.TrimSpace(want) {
					match = false
					break
				}
			} else if got != want {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func splitKeepEmpty(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
