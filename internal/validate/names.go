package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var unsafeNameRe = regexp.MustCompile(`[^\p{L}\p{N}_.-]+`)

// SafeName maps an organization name to a file-name fragment of at most
// maxRunes runes. Runs of characters outside letters, digits, '_', '.' and '-'
// become a single underscore.
func SafeName(name string, maxRunes int) string {
	s := strings.TrimSpace(name)
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	s = unsafeNameRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if s == "" {
		s = "document"
	}
	return s
}

// HumanSize formats a byte count as "1.5 MB" style text.
func HumanSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	f := float64(n)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", f), "0"), ".0") + " " + units[i]
}
