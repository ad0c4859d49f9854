package summarize

import (
	"strconv"
	"strings"
)

// Format renders facts and summary sections as the German summary block.
func Format(f Facts, sections []string) string {
	var b strings.Builder
	b.WriteString("Hier finden Sie eine Zusammenfassung des bereitgestellten PDF-Dokuments:\n\n")
	b.WriteString("Zusammenfassung der Dokumentdetails\n\n")
	b.WriteString("Das Dokument bezieht sich auf:\n")
	if f.Organization != "" {
		b.WriteString("Name: " + f.Organization + "\n\n")
	}
	if f.Reference != "" {
		b.WriteString("Nummer/Aktenzeichen: " + f.Reference + "\n\n")
	}
	if f.Location != "" {
		b.WriteString("Ort/Standort: " + f.Location + "\n\n")
	}
	switch n := len(f.Dates); {
	case n >= 2:
		b.WriteString("Tag der ersten Eintragung: " + f.Dates[0] + "\n\n")
		b.WriteString("Datum der aktuellen Fassung: " + f.Dates[n-1] + "\n\n")
	case n == 1:
		b.WriteString("Wichtiges Datum: " + f.Dates[0] + "\n\n")
	}

	b.WriteString("Wichtige Inhalte und Änderungen\n\n")
	n := 0
	for _, s := range sections {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		n++
		b.WriteString("Eintrag ")
		b.WriteString(strconv.Itoa(n))
		b.WriteString(":\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}

	if len(f.Persons) > 0 || len(f.Roles) > 0 {
		b.WriteString("Beteiligte Personen und Funktionen:\n\n")
		for i, p := range f.Persons {
			if i == 3 {
				break
			}
			b.WriteString("• " + p + "\n")
		}
		if len(f.Roles) > 0 {
			roles := f.Roles
			if len(roles) > 5 {
				roles = roles[:5]
			}
			b.WriteString("\nFunktionen: " + strings.Join(roles, ", ") + "\n")
		}
	}
	docType := f.DocumentType
	if docType == "" {
		docType = FallbackDocumentType
	}
	b.WriteString("\n---\nDokumenttyp: " + docType)
	return b.String()
}

// Score rates how complete a summary is, from 0 to 100.
func Score(formatted string, f Facts) int {
	score := 50
	if f.Organization != "" {
		score += 15
	}
	if f.Reference != "" {
		score += 10
	}
	if f.Location != "" {
		score += 5
	}
	if len(f.Dates) > 0 {
		score += 10
	}
	if len(f.Persons) > 0 {
		score += 5
	}
	if len(f.Roles) > 0 {
		score += 5
	}
	if words := len(strings.Fields(formatted)); words > 50 {
		score += min(10, words/10)
	}
	return min(100, score)
}
