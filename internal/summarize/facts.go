package summarize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Facts are the structured details pulled from a registry printout. Every
// field is best effort.
type Facts struct {
	DocumentType string   `json:"document_type"`
	Organization string   `json:"organization,omitempty"`
	Reference    string   `json:"reference_number,omitempty"`
	Location     string   `json:"location,omitempty"`
	Dates        []string `json:"important_dates,omitempty"`
	Persons      []string `json:"persons,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// FallbackDocumentType is used when no known document type matches.
const FallbackDocumentType = "Deutsches Dokument"

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var documentTypes = []namedPattern{
	{"Vereinsregister", regexp.MustCompile(`(?i)Vereinsregister|Register.*Verein`)},
	{"Handelsregister", regexp.MustCompile(`(?i)Handelsregister|Register.*Handel`)},
	{"Gerichtsdokument", regexp.MustCompile(`(?i)Amtsgericht|Landgericht|Gerichtshof`)},
	{"Vertrag", regexp.MustCompile(`(?i)Vertrag|Vereinbarung|Kontrakt`)},
	{"Bescheid", regexp.MustCompile(`(?i)Bescheid|Mitteilung|Benachrichtigung`)},
}

const nameChars = `\p{L}&\- `

var (
	// Tried in order; the longest match of the first productive pattern wins.
	organizationRes = []*regexp.Regexp{
		regexp.MustCompile(`[\p{L}&][` + nameChars + `]*?\s*e\.\s?V\.`),
		regexp.MustCompile(`[\p{L}&][` + nameChars + `]*?\s*\bGmbH\b`),
		regexp.MustCompile(`[\p{L}&][` + nameChars + `]*?\s*\bAG\b`),
		regexp.MustCompile(`[\p{L}&][` + nameChars + `]*?\s*\bKG\b`),
		regexp.MustCompile(`[\p{L}&][` + nameChars + `]*?\s*\bGbR\b`),
		regexp.MustCompile(`(?i)\b(?:Name|Firma):?[ ]*([` + nameChars + `]+)`),
		regexp.MustCompile(`\ba\)[ ]*([` + nameChars + `]+)`),
	}
	referenceRes = []*regexp.Regexp{
		regexp.MustCompile(`\bVR[ ]*\d+`),
		regexp.MustCompile(`\bHRB[ ]*\d+`),
		regexp.MustCompile(`\bHRA[ ]*\d+`),
		regexp.MustCompile(`(?i)\bNummer:?[ ]*\d+`),
		regexp.MustCompile(`(?i)\bAktenzeichen:?[ ]*[A-Za-z0-9 /-]+`),
	}
	locationRes = []*regexp.Regexp{
		regexp.MustCompile(`\bb\)[ ]*([\p{L}-]+)`),
		regexp.MustCompile(`\bSitz:?[ ]*([\p{L}-]+)`),
		regexp.MustCompile(`\bOrt:?[ ]*([\p{L}-]+)`),
		regexp.MustCompile(`\bAmtsgericht[ ]+([\p{L}-]+)`),
	}
	dateRe    = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	personRes = []*regexp.Regexp{
		regexp.MustCompile(`\p{L}+,[ ]*\p{L}+(?:[ ]+\p{L}+)?`),
		regexp.MustCompile(`Dr\.[ ]+([\p{L}, ]+)`),
	}
	roleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Vorsitzende[rn]?`),
		regexp.MustCompile(`(?i)Geschäftsführer(?:in)?`),
		regexp.MustCompile(`(?i)Vorstand`),
		regexp.MustCompile(`(?i)Direktor(?:in)?`),
		regexp.MustCompile(`(?i)Prokurist(?:in)?`),
	}
)

var germanMonths = [...]string{"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember"}

// GermanDate renders t as "13. September 1989".
func GermanDate(t time.Time) string {
	return fmt.Sprintf("%d. %s %d", t.Day(), germanMonths[t.Month()-1], t.Year())
}

const maxPersons = 5

// ExtractFacts scans normalized text for registry details.
func ExtractFacts(text string) Facts {
	f := Facts{DocumentType: FallbackDocumentType}
	for _, dt := range documentTypes {
		if dt.re.MatchString(text) {
			f.DocumentType = dt.name
			break
		}
	}
	f.Organization = organization(text)
	for _, re := range referenceRes {
		if m := re.FindString(text); m != "" {
			f.Reference = strings.TrimSpace(m)
			break
		}
	}
	for _, re := range locationRes {
		if m := re.FindStringSubmatch(text); m != nil {
			f.Location = m[1]
			break
		}
	}
	f.Dates = dates(text)
	f.Persons = persons(text)
	f.Roles = roles(text)
	return f
}

func organization(text string) string {
	for _, re := range organizationRes {
		best := ""
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			cand := m[0]
			if len(m) > 1 {
				cand = m[1]
			}
			cand = strings.TrimSpace(cand)
			if len([]rune(cand)) > len([]rune(best)) {
				best = cand
			}
		}
		if len([]rune(best)) > 5 {
			return best
		}
	}
	return ""
}

// dates returns distinct valid dates, oldest first.
func dates(text string) []string {
	seen := map[time.Time]bool{}
	var when []time.Time
	for _, m := range dateRe.FindAllStringSubmatch(text, -1) {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		// time.Date normalizes 31.02. into March; reject those
		if t.Day() != d || int(t.Month()) != mo || seen[t] {
			continue
		}
		seen[t] = true
		when = append(when, t)
	}
	sort.Slice(when, func(i, j int) bool { return when[i].Before(when[j]) })
	var out []string
	for _, t := range when {
		out = append(out, GermanDate(t))
	}
	return out
}

func persons(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range personRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := m[0]
			if len(m) > 1 {
				name = m[1]
			}
			name = strings.TrimRight(strings.TrimSpace(name), ",")
			if len([]rune(name)) <= 5 || !strings.Contains(name, ",") || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
			if len(out) == maxPersons {
				return out
			}
		}
	}
	return out
}

func roles(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range roleRes {
		for _, m := range re.FindAllString(text, -1) {
			key := strings.ToLower(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}
