package redact

import (
	"strings"
	"testing"
)

func TestTextRedactsWhenEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	out := Text("reach me at budi@example.com or +62 812 3456 7890")
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("expected redacted email in %q", out)
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("expected redacted phone in %q", out)
	}
}

func TestTextPassthroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	in := "call 0812345678 now"
	if Text(in) != in {
		t.Fatalf("expected passthrough when disabled")
	}
}

func TestClip(t *testing.T) {
	if got := Clip("hello world", 5); got != "hello..." {
		t.Fatalf("unexpected clip: %q", got)
	}
	if got := Clip("short", 10); got != "short" {
		t.Fatalf("clip should not touch short strings")
	}
}
