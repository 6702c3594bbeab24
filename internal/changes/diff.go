package changes

import "strings"

// LineChangeType tags one entry in a line diff.
type LineChangeType string

const (
	LineAdded    LineChangeType = "added"
	LineRemoved  LineChangeType = "removed"
	LineModified LineChangeType = "modified"
)

// LineChange is one line-level difference between two version contents.
// Line numbers are 1-based. For modifications, Previous carries the old text.
type LineChange struct {
	Line     int            `json:"line"`
	Type     LineChangeType `json:"type"`
	Text     string         `json:"text"`
	Previous string         `json:"previous,omitempty"`
}

// DiffLines computes a positional, index-aligned line diff between two
// contents: lines at the same index that differ are modifications, trailing
// lines only in `to` are additions, trailing lines only in `from` are
// removals.
//
// This is deliberately not an LCS/Myers diff. Inserting or deleting a line
// shifts every following index, so all subsequent lines show up as spurious
// modifications. That matches the comparison surface this module has always
// exposed; see the package tests that pin the behavior.
func DiffLines(from, to string) []LineChange {
	if from == to {
		return nil
	}

	fromLines := strings.Split(from, "\n")
	toLines := strings.Split(to, "\n")

	var diff []LineChange
	common := len(fromLines)
	if len(toLines) < common {
		common = len(toLines)
	}

	for i := 0; i < common; i++ {
		if fromLines[i] != toLines[i] {
			diff = append(diff, LineChange{
				Line:     i + 1,
				Type:     LineModified,
				Text:     toLines[i],
				Previous: fromLines[i],
			})
		}
	}
	for i := common; i < len(toLines); i++ {
		diff = append(diff, LineChange{Line: i + 1, Type: LineAdded, Text: toLines[i]})
	}
	for i := common; i < len(fromLines); i++ {
		diff = append(diff, LineChange{Line: i + 1, Type: LineRemoved, Text: fromLines[i]})
	}
	return diff
}
