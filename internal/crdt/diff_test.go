package crdt

import (
	"testing"

	"github.com/fruitsalade/volumefs/internal/bit"
)

func applyDiff(t *testing.T, oldText, newText string) string {
	t.Helper()
	ops := Diff(oldText, newText)
	got, ok := Apply(oldText, ops, bit.New())
	if !ok {
		t.Fatalf("Diff(%q, %q) produced ops that failed to apply", oldText, newText)
	}
	return got
}

func TestDiffRoundTrip(t *testing.T) {
	cases := []struct{ oldText, newText string }{
		{"", ""},
		{"", "abc"},
		{"abc", ""},
		{"abc", "abc"},
		{"abc", "axc"},
		{"ab", "ba"},
		{"abcd", "ad"},
		{"kitten", "sitting"},
		{"the quick brown fox", "the slow brown dog"},
		{"héllo wörld", "hello world"},
		{"aaaa", "aabaa"},
	}
	for _, tc := range cases {
		if got := applyDiff(t, tc.oldText, tc.newText); got != tc.newText {
			t.Errorf("apply(%q, diff) = %q, want %q", tc.oldText, got, tc.newText)
		}
	}
}

func TestDiffCoalescesRuns(t *testing.T) {
	ops := Diff("abcdef", "abXYef")
	// One insert run and one delete run, not four single-rune ops.
	var inserts, deletes int
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			inserts++
			if op.Text != "XY" {
				t.Errorf("insert run text = %q, want %q", op.Text, "XY")
			}
		case OpDelete:
			deletes++
			if op.Length != 2 {
				t.Errorf("delete run length = %d, want 2", op.Length)
			}
		}
	}
	if inserts != 1 || deletes != 1 {
		t.Errorf("got %d inserts and %d deletes, want 1 and 1", inserts, deletes)
	}
}

func TestDiffEmptyForEqual(t *testing.T) {
	if ops := Diff("same", "same"); len(ops) != 0 {
		t.Errorf("expected no ops, got %v", ops)
	}
}
