package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

type call struct {
	name string
	args []string
}

// stubRunner answers commands by binary name.
type stubRunner struct {
	calls  []call
	handle func(name string, args []string) ([]byte, []byte, error)
}

func (r *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, call{name, args})
	return r.handle(name, args)
}

func TestPdftotext_PagesAndArgs(t *testing.T) {
	r := &stubRunner{handle: func(string, []string) ([]byte, []byte, error) {
		return []byte("Vereinsregister\fAmtsgericht\f"), nil, nil
	}}
	b := &Pdftotext{Layout: true, Runner: r}
	raw, err := b.Extract(context.Background(), "/tmp/doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if raw.Pages != 2 {
		t.Fatalf("expected two pages, got %d", raw.Pages)
	}
	if !strings.Contains(raw.Text, "--- PAGE 2 ---\n\nAmtsgericht") {
		t.Fatalf("missing page marker: %q", raw.Text)
	}
	got := strings.Join(r.calls[0].args, " ")
	if r.calls[0].name != "pdftotext" || got != "-layout -enc UTF-8 -eol unix /tmp/doc.pdf -" {
		t.Fatalf("unexpected invocation %s %s", r.calls[0].name, got)
	}
	if (&Pdftotext{}).Name() != "pdftotext-raw" {
		t.Fatalf("unexpected raw backend name")
	}
}

func TestPdftotext_Failure(t *testing.T) {
	r := &stubRunner{handle: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("Syntax Error: Couldn't find trailer dictionary"), errors.New("exit status 1")
	}}
	_, err := (&Pdftotext{Runner: r}).Extract(context.Background(), "x.pdf")
	if err == nil || !strings.Contains(err.Error(), "trailer dictionary") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestOCR_RendersAndReadsPagesInOrder(t *testing.T) {
	r := &stubRunner{}
	r.handle = func(name string, args []string) ([]byte, []byte, error) {
		switch name {
		case "pdftoppm":
			prefix := args[len(args)-1]
			for _, n := range []int{1, 2, 10} {
				if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, n), []byte("png"), 0o644); err != nil {
					return nil, nil, err
				}
			}
			return nil, nil, nil
		case "tesseract":
			return []byte("text of " + filepath.Base(args[0])), nil, nil
		}
		return nil, nil, errors.New("unexpected command " + name)
	}
	raw, err := (&OCR{Runner: r}).Extract(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if raw.Pages != 3 {
		t.Fatalf("expected three pages, got %d", raw.Pages)
	}
	i2 := strings.Index(raw.Text, "page-2.png")
	i10 := strings.Index(raw.Text, "page-10.png")
	if i2 < 0 || i10 < 0 || i2 > i10 {
		t.Fatalf("pages out of order: %q", raw.Text)
	}
	ppm := strings.Join(r.calls[0].args[:3], " ")
	if ppm != "-r 300 -png" {
		t.Fatalf("unexpected pdftoppm args %q", ppm)
	}
	last := r.calls[len(r.calls)-1].args
	if last[len(last)-1] != "deu" {
		t.Fatalf("expected German OCR by default, got %v", last)
	}
}

func TestOCR_NoImages(t *testing.T) {
	r := &stubRunner{handle: func(string, []string) ([]byte, []byte, error) { return nil, nil, nil }}
	if _, err := (&OCR{Runner: r}).Extract(context.Background(), "scan.pdf"); err == nil {
		t.Fatalf("expected failure without rendered pages")
	}
}

func writePDF(t *testing.T, pages ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fixture.pdf")
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		doc.Cell(40, 10, text)
	}
	if err := doc.OutputFileAndClose(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPureGo_ReadsTextLayer(t *testing.T) {
	path := writePDF(t, "Vereinsregister Musterverein", "Amtsgericht Berlin")
	raw, err := (&PureGo{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Pages != 2 {
		t.Fatalf("expected two pages, got %d", raw.Pages)
	}
	if !strings.Contains(raw.Text, "Musterverein") || !strings.Contains(raw.Text, "Berlin") {
		t.Fatalf("text layer not read: %q", raw.Text)
	}
}

func TestPureGo_Garbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4 truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&PureGo{}).Extract(context.Background(), p); err == nil {
		t.Fatalf("expected error for malformed document")
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, _, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "printf hallo")
	if err != nil || string(out) != "hallo" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestDefaultBackends(t *testing.T) {
	names := func(bs []Backend) string {
		var s []string
		for _, b := range bs {
			s = append(s, b.Name())
		}
		return strings.Join(s, ",")
	}
	if got := names(DefaultBackends(Options{})); got != "pdftotext-layout,pdftotext-raw,go-pdf" {
		t.Fatalf("unexpected backends %s", got)
	}
	if got := names(DefaultBackends(Options{EnableOCR: true})); !strings.HasSuffix(got, ",ocr") {
		t.Fatalf("expected OCR backend, got %s", got)
	}
}
