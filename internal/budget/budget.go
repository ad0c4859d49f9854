// Package budget sizes model prompts from rough token estimates.
package budget

import (
	"math"
	"strings"
	"unicode/utf8"
)

// charsPerToken is a conservative average for German prose.
const charsPerToken = 4

// EstimateTokensFromChars converts a character count into a token estimate.
// The result is at least 1 when chars > 0.
func EstimateTokensFromChars(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return int(math.Ceil(float64(charCount) / charsPerToken))
}

// EstimateTokens returns the estimated token count of s.
func EstimateTokens(s string) int {
	return EstimateTokensFromChars(utf8.RuneCountInString(s))
}

// EstimatePromptTokens estimates a system plus user message pair.
func EstimatePromptTokens(system, user string) int {
	return EstimateTokens(system) + EstimateTokens(user)
}

// ModelContextTokens returns the approximate context window of a model.
// Unknown models get 8192.
func ModelContextTokens(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if v, ok := knownModelMax[name]; ok {
		return v
	}
	switch {
	case strings.HasSuffix(name, "1m"):
		return 1_000_000
	case strings.HasSuffix(name, "200k"):
		return 200_000
	case strings.HasSuffix(name, "128k"), strings.Contains(name, "-mini"):
		return 128_000
	case strings.HasSuffix(name, "32k"):
		return 32_768
	}
	return 8192
}

// HeadroomTokens is subtracted from the context to absorb tokenizer and
// message framing error: 5% of the window, at least 512.
func HeadroomTokens(modelName string) int {
	dyn := int(math.Ceil(float64(ModelContextTokens(modelName)) * 0.05))
	if dyn < 512 {
		return 512
	}
	return dyn
}

// RemainingContext returns the input budget left after reserving output
// tokens, headroom and the fixed prompt. It is never negative.
func RemainingContext(modelName string, reservedForOutput, promptTokens int) int {
	if reservedForOutput < 0 {
		reservedForOutput = 0
	}
	remaining := ModelContextTokens(modelName) - HeadroomTokens(modelName) - reservedForOutput - promptTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClipToTokens shortens s to about maxTokens tokens, cutting at the last
// paragraph or line break inside the limit when there is one.
func ClipToTokens(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", s != ""
	}
	limit := maxTokens * charsPerToken
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	cut := string([]rune(s)[:limit])
	if i := strings.LastIndex(cut, "\n\n"); i > limit/2 {
		cut = cut[:i]
	} else if i := strings.LastIndexByte(cut, '\n'); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut), true
}

var knownModelMax = map[string]int{
	"gpt-4o":             128_000,
	"gpt-4o-mini":        128_000,
	"gpt-4-turbo":        128_000,
	"gpt-4.1":            1_000_000,
	"gpt-3.5-turbo":      16_384,
	"llama-3":            8_192,
	"llama-3.1":          128_000,
	"mistral-7b":         32_768,
	"openai/gpt-oss-20b": 4_096,
	"gpt-oss-20b":        4_096,
}
