package transcript

import "testing"

func TestNormalizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Oh yeah.", "oh yeah"},
		{"  What?!  Really…  ", "what really"},
		{"We're, fine; all: of us", "we're fine all of us"},
		{"MIXED   Case\ttabs", "mixed case tabs"},
		{"...", ""},
	}
	for _, c := range cases {
		if got := normalizeText(c.in); got != c.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFuzzyTokenMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"cage", "cage", true},
		{"matches", "matching", true},
		{"friendlier", "friend", true},
		{"the", "they", false},
		{"to", "too", false},
		{"cage", "rage", false},
	}
	for _, c := range cases {
		if got := fuzzyTokenMatch(c.a, c.b); got != c.want {
			t.Fatalf("fuzzyTokenMatch(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestStartMatchRatio(t *testing.T) {
	f := tokenize("earlier than them. I've been to cage.")
	l := tokenize("Earlier than them. I've been to cage fight matches.")
	if got := startMatchRatio(f, l); got != 1.0 {
		t.Fatalf("startMatchRatio = %v, want 1.0", got)
	}
	f = tokenize("let's pray right now")
	if got := startMatchRatio(f, l); got != 0 {
		t.Fatalf("startMatchRatio on disjoint starts = %v, want 0", got)
	}
}

func TestContainsAllRatio(t *testing.T) {
	l := tokenize("Oh yeah. I've been to the grocery store, so we're friendlier than they.")
	if got := containsAllRatio(tokenize("Oh yeah."), l); got != 1.0 {
		t.Fatalf("containsAllRatio = %v, want 1.0", got)
	}
	if got := containsAllRatio(tokenize("taco stand outside"), l); got != 0 {
		t.Fatalf("containsAllRatio on disjoint tokens = %v, want 0", got)
	}
}

func TestSegmentBoundaryHelpers(t *testing.T) {
	if !endsTerminal("That is all.") || !endsTerminal("Really?") || !endsTerminal("Wait…") {
		t.Fatal("expected terminal punctuation to be detected")
	}
	if endsTerminal("so we keep going") || endsTerminal("") {
		t.Fatal("expected open text to not end terminal")
	}
	if !startsUpper("Next we sing") || startsUpper("next we sing") || startsUpper("") {
		t.Fatal("startsUpper misclassified")
	}
	got := lastTokens("We will gather at noon.", 3)
	if len(got) != 3 || got[0] != "gather" || got[2] != "noon" {
		t.Fatalf("lastTokens = %v", got)
	}
}
