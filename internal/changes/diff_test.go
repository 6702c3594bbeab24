package changes

import "testing"

func TestDiffLinesIdentical(t *testing.T) {
	content := "line one\nline two"
	if diff := DiffLines(content, content); diff != nil {
		t.Errorf("identical content should produce no diff, got %d entries", len(diff))
	}
}

func TestDiffLinesModification(t *testing.T) {
	diff := DiffLines("alpha\nbeta\ngamma", "alpha\nBETA\ngamma")
	if len(diff) != 1 {
		t.Fatalf("expected 1 change, got %d", len(diff))
	}
	change := diff[0]
	if change.Line != 2 || change.Type != LineModified {
		t.Errorf("expected modification at line 2, got %+v", change)
	}
	if change.Text != "BETA" || change.Previous != "beta" {
		t.Errorf("unexpected texts: %+v", change)
	}
}

func TestDiffLinesAdditionsAndRemovals(t *testing.T) {
	diff := DiffLines("a\nb", "a\nb\nc\nd")
	if len(diff) != 2 {
		t.Fatalf("expected 2 additions, got %d", len(diff))
	}
	if diff[0].Type != LineAdded || diff[0].Line != 3 || diff[0].Text != "c" {
		t.Errorf("unexpected first addition: %+v", diff[0])
	}
	if diff[1].Type != LineAdded || diff[1].Line != 4 || diff[1].Text != "d" {
		t.Errorf("unexpected second addition: %+v", diff[1])
	}

	diff = DiffLines("a\nb\nc", "a")
	if len(diff) != 2 {
		t.Fatalf("expected 2 removals, got %d", len(diff))
	}
	if diff[0].Type != LineRemoved || diff[0].Line != 2 || diff[0].Text != "b" {
		t.Errorf("unexpected first removal: %+v", diff[0])
	}
}

// An inserted line shifts every index after it, so the positional diff
// reports all following lines as modifications plus one trailing addition.
// This pins the index-aligned behavior so nobody mistakes it for an LCS diff.
func TestDiffLinesPositionalShift(t *testing.T) {
	diff := DiffLines("one\ntwo\nthree", "inserted\none\ntwo\nthree")
	if len(diff) != 4 {
		t.Fatalf("expected 4 entries for a shifted diff, got %d", len(diff))
	}
	for i, change := range diff[:3] {
		if change.Type != LineModified {
			t.Errorf("entry %d: expected modification, got %s", i, change.Type)
		}
	}
	if diff[3].Type != LineAdded || diff[3].Line != 4 {
		t.Errorf("expected trailing addition at line 4, got %+v", diff[3])
	}
}
