package tool

import (
	"strings"
)

// segmentMatch is the located region of an edit segment inside the
// original file, expressed in line indexes: [Start, End).
type segmentMatch struct {
	Start int
	End   int
}

// levenshtein computes the Levenshtein edit distance between two strings.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Use two-row DP for space efficiency
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// locateSegment finds where segLines occurs in origLines, searching at or
// after fromLine. Strategies are tried in priority order:
//
//  1. exact contiguous match of every segment line
//  2. whitespace-trimmed contiguous match
//  3. anchor on the segment's first three non-blank lines
//  4. anchor on any single segment line that occurs exactly once
//  5. structural match on the "prefix =" shape of the first non-blank line
//
// The matched region spans len(segLines) lines (fewer when that would run
// past the end of the file) so the caller can replace it wholesale.
func locateSegment(origLines, segLines []string, fromLine int) (segmentMatch, bool) {
	if len(segLines) == 0 {
		return segmentMatch{}, false
	}

	if m, ok := matchContiguous(origLines, segLines, fromLine, false); ok {
		return m, true
	}
	if m, ok := matchContiguous(origLines, segLines, fromLine, true); ok {
		return m, true
	}
	if m, ok := matchLeadingAnchor(origLines, segLines, fromLine); ok {
		return m, true
	}
	if m, ok := matchSingleLineAnchor(origLines, segLines, fromLine); ok {
		return m, true
	}
	if m, ok := matchAssignmentPrefix(origLines, segLines, fromLine); ok {
		return m, true
	}
	return segmentMatch{}, false
}

// matchContiguous matches every segment line in order. With trim set,
// comparison ignores leading/trailing whitespace per line, for the common
// case of the model reproducing code at the wrong indentation.
func matchContiguous(origLines, segLines []string, fromLine int, trim bool) (segmentMatch, bool) {
	for i := fromLine; i+len(segLines) <= len(origLines); i++ {
		ok := true
		for j := range segLines {
			got, want := origLines[i+j], segLines[j]
			if trim {
				got, want = strings.TrimSpace(got), strings.TrimSpace(want)
			}
			if got != want {
				ok = false
				break
			}
		}
		if ok {
			return segmentMatch{Start: i, End: i + len(segLines)}, true
		}
	}
	return segmentMatch{}, false
}

// matchLeadingAnchor anchors on the segment's first three non-blank lines.
// Among candidate anchor positions the one whose full region is most
// similar to the segment (by Levenshtein over the joined text) wins.
func matchLeadingAnchor(origLines, segLines []string, fromLine int) (segmentMatch, bool) {
	anchor := leadingNonBlank(segLines, 3)
	if len(anchor) < 2 {
		return segmentMatch{}, false
	}

	best := -1
	bestScore := -1.0
	for i := fromLine; i+len(anchor) <= len(origLines); i++ {
		ok := true
		for j := range anchor {
			if strings.TrimSpace(origLines[i+j]) != strings.TrimSpace(anchor[j]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		end := i + len(segLines)
		if end > len(origLines) {
			end = len(origLines)
		}
		score := blockSimilarity(segLines, origLines[i:end])
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return segmentMatch{}, false
	}
	end := best + len(segLines)
	if end > len(origLines) {
		end = len(origLines)
	}
	return segmentMatch{Start: best, End: end}, true
}

// matchSingleLineAnchor anchors on any one segment line that occurs exactly
// once in the remaining file, aligning the region so that line keeps its
// offset within the segment.
func matchSingleLineAnchor(origLines, segLines []string, fromLine int) (segmentMatch, bool) {
	for j, seg := range segLines {
		want := strings.TrimSpace(seg)
		if want == "" {
			continue
		}
		found := -1
		count := 0
		for i := fromLine; i < len(origLines); i++ {
			if strings.TrimSpace(origLines[i]) == want {
				count++
				found = i
			}
		}
		if count != 1 {
			continue
		}
		start := found - j
		if start < fromLine {
			start = fromLine
		}
		end := start + len(segLines)
		if end > len(origLines) {
			end = len(origLines)
		}
		return segmentMatch{Start: start, End: end}, true
	}
	return segmentMatch{}, false
}

// matchAssignmentPrefix matches on the "prefix =" structural shape: the
// text to the left of the first '=' on the segment's first non-blank line
// identifies the assignment being rewritten even when its value differs.
func matchAssignmentPrefix(origLines, segLines []string, fromLine int) (segmentMatch, bool) {
	first := leadingNonBlank(segLines, 1)
	if len(first) == 0 {
		return segmentMatch{}, false
	}
	eq := strings.Index(first[0], "=")
	if eq <= 0 {
		return segmentMatch{}, false
	}
	prefix := strings.TrimSpace(first[0][:eq])
	if prefix == "" {
		return segmentMatch{}, false
	}

	for i := fromLine; i < len(origLines); i++ {
		oeq := strings.Index(origLines[i], "=")
		if oeq <= 0 {
			continue
		}
		if strings.TrimSpace(origLines[i][:oeq]) != prefix {
			continue
		}
		end := i + len(segLines)
		if end > len(origLines) {
			end = len(origLines)
		}
		return segmentMatch{Start: i, End: end}, true
	}
	return segmentMatch{}, false
}

func leadingNonBlank(lines []string, n int) []string {
	out := make([]string, 0, n)
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

// blockSimilarity scores how close a candidate region is to the segment,
// as 1 - normalized edit distance over the joined, line-trimmed text.
func blockSimilarity(segLines, blockLines []string) float64 {
	seg := joinTrimmed(segLines)
	block := joinTrimmed(blockLines)
	if len(seg) == 0 && len(block) == 0 {
		return 1
	}
	maxLen := len(seg)
	if len(block) > maxLen {
		maxLen = len(block)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(seg, block))/float64(maxLen)
}

func joinTrimmed(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, l := range lines {
		trimmed[i] = strings.TrimSpace(l)
	}
	return strings.Join(trimmed, "\n")
}
