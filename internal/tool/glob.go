package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

type globFileSearchArgs struct {
	GlobPattern     string `json:"glob_pattern"`
	TargetDirectory string `json:"target_directory,omitempty"`
}

func globFileSearchDef() *Def {
	return &Def{
		Name:        "glob_file_search",
		Description: "Find files whose workspace-relative path matches a glob pattern, most recently modified first. Patterns without a '**/' prefix get one, so bare filenames match anywhere in the tree.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"glob_pattern":     map[string]interface{}{"type": "string"},
				"target_directory": map[string]interface{}{"type": "string"},
			},
			"required": []string{"glob_pattern"},
		},
		Handler: globFileSearchHandler,
	}
}

func globFileSearchHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args globFileSearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.GlobPattern == "" {
		return nil, fmt.Errorf("glob_pattern is required")
	}

	base := args.TargetDirectory
	if base == "" {
		base = tc.WorkDir
	} else if !filepath.IsAbs(base) && tc.WorkDir != "" {
		base = filepath.Join(tc.WorkDir, base)
	}
	if base == "" {
		base = "."
	}

	pattern := args.GlobPattern
	if !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}

	type entry struct {
		path    string
		modTime int64
	}
	var found []entry

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != base {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchGlob(pattern, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, entry{path: rel, modTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", base, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime > found[j].modTime })

	paths := make([]string, 0, len(found))
	for _, f := range found {
		paths = append(paths, f.path)
	}

	return &Result{Payload: map[string]interface{}{"matches": paths}}, nil
}

// matchGlob implements the minimal glob dialect the search tools share:
// '*' matches within a path segment, '**' matches across segments, '?'
// matches a single character.
func matchGlob(pattern, path string) bool {
	return matchGlobSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchGlobSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// '**' may swallow zero or more leading segments.
		for i := 0; i <= len(segs); i++ {
			if matchGlobSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	if !matchGlobSegment(pat[0], segs[0]) {
		return false
	}
	return matchGlobSegments(pat[1:], segs[1:])
}

func matchGlobSegment(pat, seg string) bool {
	ok, err := filepath.Match(pat, seg)
	return err == nil && ok
}
