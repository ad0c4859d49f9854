package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperifyio/regdoc/internal/summarize"
)

func TestWriteSummaryPDF(t *testing.T) {
	out := filepath.Join(t.TempDir(), "summary.pdf")
	text := summarize.Format(summarize.Facts{
		DocumentType: "Vereinsregister",
		Organization: "Förderverein Grünfläche e.V.",
		Reference:    "VR 1234",
		Roles:        []string{"Vorstand"},
	}, []string{"Die Satzung wurde geändert."})
	if err := writeSummaryPDF("Förderverein Grünfläche e.V.", text, out); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "%PDF-") || len(b) < 500 {
		t.Fatalf("unexpected PDF output (%d bytes)", len(b))
	}
}
