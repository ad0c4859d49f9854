package app

import (
	"bufio"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// writeSummaryPDF renders the formatted summary as a single-column A4 PDF.
// Lines ending in ':' become bold headings; the core fonts only cover
// cp1252, which is enough for German text.
func writeSummaryPDF(title, summary, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title, true)
	pdf.SetCreator("regdoc "+BuildVersion, true)
	pdf.AddPage()

	if strings.TrimSpace(title) != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(0, 8, tr(title), "", "L", false)
		pdf.Ln(4)
	}
	pdf.SetFont("Helvetica", "", 11)

	scanner := bufio.NewScanner(strings.NewReader(summary))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s := strings.TrimSpace(scanner.Text())
		switch {
		case s == "":
			pdf.Ln(4)
		case s == "---":
			x, y := pdf.GetXY()
			w, _ := pdf.GetPageSize()
			_, _, r, _ := pdf.GetMargins()
			pdf.Line(x, y, w-r, y)
			pdf.Ln(3)
		case strings.HasSuffix(s, ":") && len(s) < 80:
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, 6, tr(s), "", "L", false)
			pdf.SetFont("Helvetica", "", 11)
		default:
			pdf.MultiCell(0, 5, tr(s), "", "L", false)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return pdf.OutputFileAndClose(outPath)
}
