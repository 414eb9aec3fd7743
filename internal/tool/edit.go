package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type editFileArgs struct {
	TargetFile   string `json:"target_file"`
	Instructions string `json:"instructions"`
	CodeEdit     string `json:"code_edit"`
}

// existingCodeMarker matches the elision lines that separate edit segments:
// "// ... existing code ...", the "#" and "<!--" comment variants included.
var existingCodeMarker = regexp.MustCompile(`^\s*(//|#|<!--)\s*\.\.\.\s*existing code\s*\.\.\.`)

func editFileDef() *Def {
	return &Def{
		Name:        "edit_file",
		Description: "Edit a file by supplying the changed regions, separated by '// ... existing code ...' marker lines for unchanged regions. Creates the file if it does not exist.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"target_file":  map[string]interface{}{"type": "string"},
				"instructions": map[string]interface{}{"type": "string"},
				"code_edit":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"target_file", "instructions", "code_edit"},
		},
		Handler: editFileHandler,
	}
}

func editFileHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args editFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.TargetFile == "" {
		return nil, fmt.Errorf("target_file is required")
	}

	path := args.TargetFile
	if !filepath.IsAbs(path) && tc.WorkDir != "" {
		path = filepath.Join(tc.WorkDir, path)
	}

	original, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		content := stripMarkerLines(args.CodeEdit)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", args.TargetFile, err)
		}
		return &Result{
			Payload: map[string]interface{}{"success": true, "created": true},
			SideEffects: SideEffects{
				Diff:         unifiedDiff(args.TargetFile, "", content),
				PatchCommand: "edit_file " + args.TargetFile,
			},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args.TargetFile, err)
	}

	updated, err := applyMarkerEdit(string(original), args.CodeEdit)
	if err != nil {
		return nil, err
	}

	if tc.Session != nil {
		if _, captured := tc.Session.Data.FileOriginals[path]; !captured {
			tc.Session.Data.FileOriginals[path] = string(original)
		}
		if tc.Store != nil {
			_ = tc.Store.Save(tc.Session)
		}
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", args.TargetFile, err)
	}

	return &Result{
		Payload: map[string]interface{}{"success": true, "created": false},
		SideEffects: SideEffects{
			Diff:         unifiedDiff(args.TargetFile, string(original), updated),
			PatchCommand: "edit_file " + args.TargetFile,
		},
	}, nil
}

// stripMarkerLines drops marker lines from a code_edit destined for a new
// file, where there is no existing code to elide.
func stripMarkerLines(codeEdit string) string {
	lines := strings.Split(codeEdit, "\n")
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if existingCodeMarker.MatchString(l) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// editSegment is one marker-delimited portion of a code_edit, plus where it
// was located in the original file (Start/End line indexes, -1 if not yet
// located).
type editSegment struct {
	Lines []string
	Start int
	End   int
}

// applyMarkerEdit splits codeEdit into segments at marker lines, locates
// each segment in the original, and rebuilds the file with every located
// region replaced by its segment text. Regions covered by a marker (and
// the area before a leading / after a trailing marker) are preserved.
//
// Segments are ordered and must not overlap. A segment that cannot be
// located gets its bounds inferred from the ends of its located neighbors,
// which is what makes inserted blocks between two anchored regions work.
func applyMarkerEdit(original, codeEdit string) (string, error) {
	origLines := strings.Split(original, "\n")
	segments := splitSegments(codeEdit)
	if len(segments) == 0 {
		return "", fmt.Errorf("code_edit contains no content")
	}

	// Locate every segment we can, scanning forward so matches stay ordered.
	cursor := 0
	for i := range segments {
		m, ok := locateSegment(origLines, segments[i].Lines, cursor)
		if !ok {
			segments[i].Start, segments[i].End = -1, -1
			continue
		}
		if m.Start < cursor {
			return "", fmt.Errorf("edit segments overlap near line %d", m.Start+1)
		}
		segments[i].Start, segments[i].End = m.Start, m.End
		cursor = m.End
	}

	// A middle segment that could not be located is treated as replacement
	// text for the region between its located neighbors. Unlocated first or
	// last segments have no anchor to infer from and fail the edit.
	for i := range segments {
		if segments[i].Start >= 0 {
			continue
		}
		if i == 0 || i == len(segments)-1 ||
			segments[i-1].End < 0 || segments[i+1].Start < 0 {
			return "", fmt.Errorf("could not locate edit segment %d in %d-line file", i+1, len(origLines))
		}
		segments[i].Start = segments[i-1].End
		segments[i].End = segments[i+1].Start
	}

	var out []string
	pos := 0
	for _, seg := range segments {
		if seg.Start > pos {
			out = append(out, origLines[pos:seg.Start]...)
		}
		out = append(out, seg.Lines...)
		pos = seg.End
	}
	if pos < len(origLines) {
		out = append(out, origLines[pos:]...)
	}
	return strings.Join(out, "\n"), nil
}

// splitSegments cuts codeEdit at marker lines.
func splitSegments(codeEdit string) (segments []editSegment) {
	lines := strings.Split(strings.TrimRight(codeEdit, "\n"), "\n")

	var cur []string
	flush := func() {
		if len(cur) > 0 {
			segments = append(segments, editSegment{Lines: cur, Start: -1, End: -1})
			cur = nil
		}
	}
	for _, l := range lines {
		if existingCodeMarker.MatchString(l) {
			flush()
			continue
		}
		cur = append(cur, l)
	}
	flush()
	return segments
}
