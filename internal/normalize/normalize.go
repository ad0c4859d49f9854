// Package normalize cleans text extracted from registry printouts before it is
// summarized.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PageMarker is inserted by extraction backends between pages.
const PageMarker = "--- PAGE %d ---"

var (
	pageMarkerRe = regexp.MustCompile(`[ \t]*--- PAGE \d+ ---[ \t]*`)
	blankSpaceRe = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	manyBreaksRe = regexp.MustCompile(`\n[ ]*\n[ \n]*\n`)

	// Footer and stamp fragments removed wherever they occur.
	boilerplateRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Seite \d+ von \d+`),
		regexp.MustCompile(`(?i)Page \d+ of \d+`),
		regexp.MustCompile(`(?i)Stand: \d{2}\.\d{2}\.\d{4}`),
		regexp.MustCompile(`(?i)Ausgedruckt am \d{2}\.\d{2}\.\d{4}`),
	}
	// Bare "3/7" page counters only count when they are the whole line.
	pageCounterRe = regexp.MustCompile(`(?m)^[ ]*\d+[ ]*/[ ]*\d+[ ]*$`)

	hyphenBreakRe = regexp.MustCompile(`(\p{L})-[ ]*\n[ ]*(\p{Ll})`)
	strayBreakRe  = regexp.MustCompile(`[ ]*\n[ ]*(\p{Ll})`)
	registerNoRe  = regexp.MustCompile(`\b(VR|HRB|HRA)[ ]*(\d+)`)
	dotsRe        = regexp.MustCompile(`\.{4,}`)
	dashesRe      = regexp.MustCompile(`-{4,}`)
	underscoresRe = regexp.MustCompile(`_{4,}`)
)

// repairs maps UTF-8 text that was decoded as Latin-1 back to the German
// letters it encodes.
var repairs = strings.NewReplacer(
	"Ã¤", "ä",
	"Ã¶", "ö",
	"Ã¼", "ü",
	"ÃŸ", "ß",
	"Ã„", "Ä",
	"Ã–", "Ö",
	"Ãœ", "Ü",
	"Ã©", "é",
	"â€ž", "„",
	"â€œ", "“",
	"â€“", "–",
)

// maxPasses bounds the fixed-point loop in Text.
const maxPasses = 64

// Text returns the cleaned form of raw. It is idempotent:
// Text(Text(s)) == Text(s).
//
// Removing a fragment can make its neighbours eligible for another rule, so
// the pipeline repeats until the text stops changing.
func Text(raw string) string {
	s := raw
	for i := 0; i < maxPasses; i++ {
		next := pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func pass(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = pageMarkerRe.ReplaceAllString(s, "\n\n")
	s = norm.NFC.String(s)
	s = blankSpaceRe.ReplaceAllString(s, " ")
	s = manyBreaksRe.ReplaceAllString(s, "\n\n")

	for _, re := range boilerplateRe {
		s = re.ReplaceAllString(s, "")
	}
	s = pageCounterRe.ReplaceAllString(s, "")

	s = repairs.Replace(s)

	s = hyphenBreakRe.ReplaceAllString(s, "$1$2")
	s = strayBreakRe.ReplaceAllString(s, " $1")

	s = registerNoRe.ReplaceAllString(s, "$1 $2")

	s = dotsRe.ReplaceAllString(s, "...")
	s = dashesRe.ReplaceAllString(s, "---")
	s = underscoresRe.ReplaceAllString(s, "___")

	return collapseLines(s)
}

// collapseLines trims every line and keeps at most one blank line between
// paragraphs.
func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// StripPageMarkers removes page markers only, leaving other text untouched.
func StripPageMarkers(s string) string {
	return pageMarkerRe.ReplaceAllString(s, "")
}
