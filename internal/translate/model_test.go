package translate

import "testing"

func TestResolveModel(t *testing.T) {
	cases := []struct {
		requested string
		want      string
	}{
		{"claude-3-5-sonnet-20241022", "gemini-3-pro-preview"},
		{"extended-thinking-model", "gemini-3-pro-preview"},
		{"claude-3-opus", "gemini-3-pro-preview"},
		{"claude-3-haiku", "gemini-2.0-flash-exp"},
		{"claude-instant", "gemini-2.5-flash-thinking"},
		{"gpt-4", "gpt-4"},
	}
	for _, c := range cases {
		if got := ResolveModel(c.requested); got != c.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", c.requested, got, c.want)
		}
	}
}

func TestGenerateToolUseID_StableWithinSeed(t *testing.T) {
	a := generateToolUseID(1)
	b := generateToolUseID(1)
	if a != b {
		t.Fatalf("expected deterministic id for the same seed, got %q and %q", a, b)
	}
	c := generateToolUseID(2)
	if a == c {
		t.Fatalf("expected different seeds to produce different ids")
	}
}
