package changes

import (
	"strings"
	"testing"
)

func baseSnapshot() Snapshot {
	return Snapshot{
		Title:                  "Security Policy",
		Description:            "Company security policy",
		Content:                strings.Repeat("a", 100),
		FolderPath:             "/policies",
		RequiresAcknowledgment: true,
		AccessRoles:            nil,
	}
}

func TestDetectInitialVersion(t *testing.T) {
	next := baseSnapshot()
	result := Detect(nil, 0, next)

	if !result.HasSignificantChanges {
		t.Error("initial version should be significant")
	}
	if result.RequiresReacknowledgment {
		t.Error("initial version should not require re-acknowledgment")
	}
	if result.ChangeSummary != "Initial version" {
		t.Errorf("expected summary %q, got %q", "Initial version", result.ChangeSummary)
	}
	if result.Metadata.PreviousVersion != 0 {
		t.Errorf("initial version should carry no previous version, got %d", result.Metadata.PreviousVersion)
	}
	if result.Metadata.ContentLengthDelta != len(next.Content) {
		t.Errorf("expected delta %d, got %d", len(next.Content), result.Metadata.ContentLengthDelta)
	}
}

func TestDetectNoChanges(t *testing.T) {
	prev := baseSnapshot()
	result := Detect(&prev, 3, baseSnapshot())

	if result.HasSignificantChanges {
		t.Error("identical snapshots should not be significant")
	}
	if result.RequiresReacknowledgment {
		t.Error("identical snapshots should not require re-acknowledgment")
	}
	if result.ChangeSummary != "Minor updates" {
		t.Errorf("expected summary %q, got %q", "Minor updates", result.ChangeSummary)
	}
	if result.Metadata.PreviousVersion != 3 {
		t.Errorf("expected previous version 3, got %d", result.Metadata.PreviousVersion)
	}
}

func TestDetectDescriptionOnlyNeverInvalidates(t *testing.T) {
	prev := baseSnapshot()
	next := baseSnapshot()
	next.Description = strings.Repeat("completely different and much longer description ", 50)

	result := Detect(&prev, 1, next)

	if !result.HasMetadataChanges || result.HasContentChanges {
		t.Errorf("expected metadata-only change, got content=%v metadata=%v",
			result.HasContentChanges, result.HasMetadataChanges)
	}
	if result.RequiresReacknowledgment {
		t.Error("description-only edits must not require re-acknowledgment")
	}
	if result.ChangeSummary != "description updated" {
		t.Errorf("unexpected summary %q", result.ChangeSummary)
	}
}

func TestDetectContentThresholdBoundary(t *testing.T) {
	// Previous content is 100 chars, so the 10% threshold sits at a delta of
	// exactly 10. The boundary is strict: 10 stays valid, 11 invalidates.
	tests := []struct {
		name    string
		newLen  int
		invalid bool
	}{
		{"exactly 10 percent larger", 110, false},
		{"one char past threshold", 111, true},
		{"exactly 10 percent smaller", 90, false},
		{"one char below threshold", 89, true},
		{"small edit", 101, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prev := baseSnapshot()
			next := baseSnapshot()
			next.Content = strings.Repeat("b", tc.newLen)

			result := Detect(&prev, 2, next)
			if !result.HasContentChanges {
				t.Fatal("expected content change")
			}
			if result.RequiresReacknowledgment != tc.invalid {
				t.Errorf("delta %d: requires_reacknowledgment = %v, want %v",
					tc.newLen-100, result.RequiresReacknowledgment, tc.invalid)
			}
		})
	}
}

func TestDetectEmptyPreviousContent(t *testing.T) {
	// 10% of zero is zero, so any growth from empty content crosses the
	// strict threshold.
	prev := baseSnapshot()
	prev.Content = ""
	next := baseSnapshot()
	next.Content = "x"

	if result := Detect(&prev, 1, next); !result.RequiresReacknowledgment {
		t.Error("growth from empty content should require re-acknowledgment")
	}
}

func TestDetectAcknowledgmentToggle(t *testing.T) {
	prev := baseSnapshot()
	prev.RequiresAcknowledgment = false
	next := baseSnapshot()
	next.RequiresAcknowledgment = true

	result := Detect(&prev, 1, next)
	if !result.RequiresReacknowledgment {
		t.Error("enabling requires_acknowledgment must always require re-acknowledgment")
	}
	if result.ChangeSummary != "acknowledgment requirement changed" {
		t.Errorf("unexpected summary %q", result.ChangeSummary)
	}

	// The reverse toggle does not invalidate.
	result = Detect(&next, 1, prev)
	if result.RequiresReacknowledgment {
		t.Error("disabling requires_acknowledgment must not require re-acknowledgment")
	}
}

func TestDetectAccessRoleRestriction(t *testing.T) {
	tests := []struct {
		name     string
		oldRoles []string
		newRoles []string
		invalid  bool
	}{
		{"open to restricted", nil, []string{"admin"}, true},
		{"proper subset", []string{"admin", "hr", "legal"}, []string{"admin"}, true},
		{"restricted to open", []string{"admin"}, nil, false},
		{"disjoint replacement", []string{"admin"}, []string{"hr"}, false},
		{"superset", []string{"admin"}, []string{"admin", "hr"}, false},
		{"same set reordered", []string{"hr", "admin"}, []string{"admin", "hr"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prev := baseSnapshot()
			prev.AccessRoles = tc.oldRoles
			next := baseSnapshot()
			next.AccessRoles = tc.newRoles

			result := Detect(&prev, 1, next)
			if result.RequiresReacknowledgment != tc.invalid {
				t.Errorf("requires_reacknowledgment = %v, want %v", result.RequiresReacknowledgment, tc.invalid)
			}
			if tc.name == "same set reordered" && result.HasMetadataChanges {
				t.Error("role order must not count as a change")
			}
		})
	}
}

func TestChangeSummaryJoining(t *testing.T) {
	prev := baseSnapshot()
	next := baseSnapshot()
	next.Title = "Revised Security Policy"
	next.Content = prev.Content + "!"
	next.AccessRoles = []string{"admin"}

	result := Detect(&prev, 4, next)
	want := "title updated, content modified and access permissions updated"
	if result.ChangeSummary != want {
		t.Errorf("expected summary %q, got %q", want, result.ChangeSummary)
	}
}

func TestDetectMetadataRecord(t *testing.T) {
	prev := baseSnapshot()
	next := baseSnapshot()
	next.Content = strings.Repeat("c", 130)

	result := Detect(&prev, 7, next)
	if result.Metadata.ContentLengthDelta != 30 {
		t.Errorf("expected delta 30, got %d", result.Metadata.ContentLengthDelta)
	}
	if result.Metadata.PreviousVersion != 7 {
		t.Errorf("expected previous version 7, got %d", result.Metadata.PreviousVersion)
	}
	if !result.Metadata.Fields["content"] {
		t.Error("expected content field flagged in metadata")
	}
	if result.Metadata.Fields["title"] {
		t.Error("title should not be flagged in metadata")
	}
}
