package snapshot

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/kandev/core/internal/common/constants"
)

// LineType is the kind of one inline diff line.
type LineType string

const (
	LineContext LineType = "context"
	LineAdd     LineType = "add"
	LineRemove  LineType = "remove"
)

// DiffLine is one line of an inline diff.
type DiffLine struct {
	Type LineType
	Text string
}

// InlineDiff is the result of computeInlineDiff: a truncated,
// context-trimmed edit script.
type InlineDiff struct {
	Lines      []DiffLine
	Truncated  bool
	TotalLines int
}

// ComputeInlineDiff computes the longest-common-subsequence-based inline
// diff between before and after, then filters to retain at most
// constants.MaxInlineDiffContextLines unchanged lines adjacent to each
// change block, and truncates to at most constants.MaxInlineDiffLines
// emitted lines.
//
// The LCS walk itself is delegated to github.com/sergi/go-diff's line-mode
// diffing (DiffLinesToChars + DiffMain + DiffCharsToLines), which computes a
// minimal edit script equivalent to classic LCS-based diffing for the
// non-pathological inputs this pipeline sees (typical small edits) — the
// same technique real line-diff tools use, in place of hand-rolling the DP
// table.
func ComputeInlineDiff(before, after string) InlineDiff {
	if before == after {
		return InlineDiff{Lines: []DiffLine{}, Truncated: false, TotalLines: 0}
	}

	dmp := diffmatchpatch.New()
	charsBefore, charsAfter, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(charsBefore, charsAfter, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	raw := rawLinesFromDiffs(diffs)
	filtered := trimContext(raw, constants.MaxInlineDiffContextLines)

	result := InlineDiff{TotalLines: len(filtered)}
	if len(filtered) > constants.MaxInlineDiffLines {
		result.Lines = filtered[:constants.MaxInlineDiffLines]
		result.Truncated = true
	} else {
		result.Lines = filtered
		result.Truncated = false
	}
	return result
}

// rawLinesFromDiffs flattens go-diff's Diff blocks (each potentially
// spanning multiple lines joined by "\n") into one DiffLine per source line.
func rawLinesFromDiffs(diffs []diffmatchpatch.Diff) []DiffLine {
	var lines []DiffLine
	for _, d := range diffs {
		var t LineType
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			t = LineContext
		case diffmatchpatch.DiffInsert:
			t = LineAdd
		case diffmatchpatch.DiffDelete:
			t = LineRemove
		}

		text := d.Text
		// Each line-mode diff line ends with "\n" except possibly the very
		// last one in the whole document; splitting on "\n" and dropping a
		// trailing empty element recovers the individual source lines.
		split := strings.Split(text, "\n")
		if len(split) > 0 && split[len(split)-1] == "" {
			split = split[:len(split)-1]
		}
		for _, l := range split {
			lines = append(lines, DiffLine{Type: t, Text: l})
		}
	}
	return lines
}

// trimContext retains at most maxContext unchanged lines adjacent to each
// change block, dropping context runs that sit strictly between two change
// blocks down to maxContext on each side, and dropping context entirely at
// the very start/end of the sequence beyond maxContext.
func trimContext(lines []DiffLine, maxContext int) []DiffLine {
	n := len(lines)
	keep := make([]bool, n)

	for i, l := range lines {
		if l.Type != LineContext {
			keep[i] = true
			continue
		}
		// Keep this context line if it is within maxContext positions of a
		// change line on either side.
		if withinDistanceOfChange(lines, i, maxContext) {
			keep[i] = true
		}
	}

	result := make([]DiffLine, 0, n)
	for i, l := range lines {
		if keep[i] {
			result = append(result, l)
		}
	}
	return result
}

func withinDistanceOfChange(lines []DiffLine, idx, maxDist int) bool {
	for d := 1; d <= maxDist; d++ {
		if idx-d >= 0 && lines[idx-d].Type != LineContext {
			return true
		}
		if idx+d < len(lines) && lines[idx+d].Type != LineContext {
			return true
		}
	}
	return false
}
