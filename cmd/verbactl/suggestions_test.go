package main

import (
	"strings"
	"testing"
)

func TestRankSuggestions(t *testing.T) {
	got := rankSuggestions("con", []string{"detect", "config", "connect"}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0] != "config" || got[1] != "connect" {
		t.Fatalf("unexpected suggestions order: %v", got)
	}

	got = rankSuggestions("helth", commandNames, 3)
	if len(got) != 1 || got[0] != "health" {
		t.Fatalf("expected health suggestion, got %v", got)
	}

	got = rankSuggestions("port", []string{"import", "init"}, 1)
	if len(got) != 1 || got[0] != "import" {
		t.Fatalf("expected import suggestion, got %v", got)
	}

	got = rankSuggestions("HEALTH", commandNames, 1)
	if len(got) != 1 || got[0] != "health" {
		t.Fatalf("expected case-insensitive match, got %v", got)
	}

	if got := rankSuggestions("", commandNames, 3); got != nil {
		t.Fatalf("expected no suggestions for empty needle, got %v", got)
	}
	if got := rankSuggestions("health", commandNames, 0); got != nil {
		t.Fatalf("expected no suggestions for zero limit, got %v", got)
	}
}

func TestUnknownCommandError(t *testing.T) {
	err := unknownCommandError("helth", commandNames)
	msg, next, hints := describeError(err)
	if msg != `unknown command "helth"` {
		t.Fatalf("unexpected message %q", msg)
	}
	if next != "verbactl --help" {
		t.Fatalf("unexpected next %q", next)
	}
	if len(hints) != 1 || hints[0] != `did you mean "health"?` {
		t.Fatalf("unexpected hints %v", hints)
	}

	err = unknownCommandError("con", commandNames)
	_, _, hints = describeError(err)
	joined := strings.Join(hints, " ")
	if !strings.Contains(joined, `"config", "connect"`) {
		t.Fatalf("expected both suggestions, got %v", hints)
	}

	err = unknownCommandError("zzz", commandNames)
	_, _, hints = describeError(err)
	if len(hints) != 0 {
		t.Fatalf("expected no hints for nonsense input, got %v", hints)
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"health", "health", 0},
		{"helth", "health", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Fatalf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFormatQuotedList(t *testing.T) {
	if got := formatQuotedList(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := formatQuotedList([]string{"detect", "health"}); got != `"detect", "health"` {
		t.Fatalf("unexpected list %q", got)
	}
	if got := formatQuotedList([]string{" detect ", "", "health"}); got != `"detect", "health"` {
		t.Fatalf("expected trimmed list, got %q", got)
	}
}
