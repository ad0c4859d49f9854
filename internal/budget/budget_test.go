package budget

import (
	"strings"
	"testing"
)

func TestEstimateTokensFromChars(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{400, 100},
	}
	for _, c := range cases {
		if got := EstimateTokensFromChars(c.in); got != c.want {
			t.Fatalf("EstimateTokensFromChars(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimateTokens_CountsRunes(t *testing.T) {
	if got := EstimateTokens("äöüß"); got != 1 {
		t.Fatalf("umlauts should count as characters, got %d", got)
	}
	if got := EstimatePromptTokens("system", "user message"); got != 5 {
		t.Fatalf("EstimatePromptTokens = %d, want 5", got)
	}
}

func TestModelContextTokens(t *testing.T) {
	if ModelContextTokens("") != 8192 {
		t.Fatal("empty model should default to 8192")
	}
	if ModelContextTokens("GPT-4o") != 128_000 {
		t.Fatal("lookup should be case-insensitive")
	}
	if ModelContextTokens("mystery-200k") != 200_000 {
		t.Fatal("suffix heuristic should apply")
	}
}

func TestRemainingContext(t *testing.T) {
	model := "gpt-4o"
	max := ModelContextTokens(model)
	head := HeadroomTokens(model)
	if got := RemainingContext(model, 500, max-head-1000); got != 500 {
		t.Fatalf("RemainingContext = %d, want 500", got)
	}
	if got := RemainingContext(model, 1, max); got != 0 {
		t.Fatalf("overflow should clamp to 0, got %d", got)
	}
	if HeadroomTokens("") != 512 {
		t.Fatalf("headroom floor should be 512")
	}
}

func TestClipToTokens(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	got, clipped := ClipToTokens(text, 10)
	if !clipped || got != strings.Repeat("a", 30) {
		t.Fatalf("expected cut at paragraph break, got %q", got)
	}
	if got, clipped := ClipToTokens("kurz", 10); clipped || got != "kurz" {
		t.Fatalf("short text should pass through, got %q", got)
	}
}
