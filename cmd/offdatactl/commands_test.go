package main

import "testing"

func TestPercentString(t *testing.T) {
	if got := percentString(nil); got != "?" {
		t.Fatalf("percentString(nil) = %q, want ?", got)
	}
	p := 42
	if got := percentString(&p); got != "42%" {
		t.Fatalf("percentString(42) = %q, want 42%%", got)
	}
}

func TestHumanizeBytesClampsNegative(t *testing.T) {
	if got := humanizeBytes(-5); got != humanizeBytes(0) {
		t.Fatalf("humanizeBytes(-5) = %q, want same as humanizeBytes(0)", got)
	}
}
