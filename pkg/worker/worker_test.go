package worker

import "testing"

func TestSplitCommandSequence(t *testing.T) {
	cmd := "echo one\n\n  echo two  \n\nexit 0\n"
	got := splitCommandSequence(cmd)
	want := []string{"echo one", "echo two", "exit 0"}
	if len(got) != len(want) {
		t.Fatalf("splitCommandSequence returned %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitCommandSequenceEmpty(t *testing.T) {
	got := splitCommandSequence("\n\n  \n")
	if len(got) != 0 {
		t.Errorf("expected no commands, got %v", got)
	}
}

func TestSanitizeID(t *testing.T) {
	got := sanitizeID("job/1234:abc?def")
	for _, r := range got {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
		if !isAlnum {
			t.Fatalf("sanitizeID produced disallowed rune %q in %q", r, got)
		}
	}
	if len(got) > 33 {
		t.Errorf("sanitizeID did not truncate: len=%d (%q)", len(got), got)
	}
}

func TestSanitizeIDTruncatesLongInput(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := sanitizeID(long)
	if len(got) > 33 {
		t.Errorf("expected truncated id, got len=%d", len(got))
	}
}
