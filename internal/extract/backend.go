package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/hyperifyio/regdoc/internal/normalize"
)

// Raw is the unprocessed output of one backend.
type Raw struct {
	Text  string
	Pages int
}

// Backend converts a document on disk into text. Backends must not modify
// the file; the arbitrator runs them concurrently over the same path.
type Backend interface {
	Name() string
	Extract(ctx context.Context, path string) (Raw, error)
}

// Options selects and configures the standard backends.
type Options struct {
	Pdftotext string
	Pdftoppm  string
	Tesseract string
	OCRLang   string
	EnableOCR bool
	Runner    Runner
	Logger    *zerolog.Logger
}

// DefaultBackends returns pdftotext in layout and raw mode, the pure Go
// reader and, when enabled, OCR.
func DefaultBackends(o Options) []Backend {
	r := o.Runner
	if r == nil {
		r = ExecRunner{Logger: o.Logger}
	}
	out := []Backend{
		&Pdftotext{Bin: o.Pdftotext, Layout: true, Runner: r},
		&Pdftotext{Bin: o.Pdftotext, Runner: r},
		&PureGo{},
	}
	if o.EnableOCR {
		out = append(out, &OCR{Pdftoppm: o.Pdftoppm, Tesseract: o.Tesseract, Lang: o.OCRLang, Runner: r})
	}
	return out
}

// joinPages concatenates page texts with numbered page markers.
func joinPages(pages []string) string {
	var b strings.Builder
	for i, p := range pages {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf(normalize.PageMarker, i+1))
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	return b.String()
}

// Pdftotext runs poppler's pdftotext. Layout keeps the column arrangement;
// otherwise text is emitted in content-stream order.
type Pdftotext struct {
	Bin    string
	Layout bool
	Runner Runner
}

func (p *Pdftotext) Name() string {
	if p.Layout {
		return "pdftotext-layout"
	}
	return "pdftotext-raw"
}

func (p *Pdftotext) Extract(ctx context.Context, path string) (Raw, error) {
	bin := p.Bin
	if bin == "" {
		bin = "pdftotext"
	}
	mode := "-raw"
	if p.Layout {
		mode = "-layout"
	}
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.Runner.Run(ctx, bin, mode, "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return Raw{}, fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	// pages are separated by form feeds, with one trailing
	pages := strings.Split(strings.TrimSuffix(string(out), "\f"), "\f")
	return Raw{Text: joinPages(pages), Pages: len(pages)}, nil
}

// PureGo reads the text layer without external tools.
type PureGo struct {
	MaxPages int
}

func (*PureGo) Name() string { return "go-pdf" }

func (g *PureGo) Extract(ctx context.Context, path string) (raw Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go-pdf: malformed document: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return Raw{}, fmt.Errorf("go-pdf: %w", err)
	}
	defer f.Close()
	n := r.NumPage()
	if g.MaxPages > 0 && n > g.MaxPages {
		n = g.MaxPages
	}
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return Raw{}, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			return Raw{}, fmt.Errorf("go-pdf: page %d: %w", i, err)
		}
		pages = append(pages, txt)
	}
	if len(pages) == 0 {
		return Raw{}, fmt.Errorf("go-pdf: document has no pages")
	}
	return Raw{Text: joinPages(pages), Pages: len(pages)}, nil
}

// OCR rasterizes pages with pdftoppm and reads them with tesseract. It is
// the only backend that handles scanned printouts.
type OCR struct {
	Pdftoppm  string
	Tesseract string
	Lang      string
	DPI       int
	MaxPages  int
	Runner    Runner
}

func (*OCR) Name() string { return "ocr" }

func (o *OCR) Extract(ctx context.Context, path string) (Raw, error) {
	ppm, tess, lang, dpi := o.Pdftoppm, o.Tesseract, o.Lang, o.DPI
	if ppm == "" {
		ppm = "pdftoppm"
	}
	if tess == "" {
		tess = "tesseract"
	}
	if lang == "" {
		lang = "deu"
	}
	if dpi <= 0 {
		dpi = 300
	}
	tmp, err := os.MkdirTemp("", "regdoc-ocr-*")
	if err != nil {
		return Raw{}, err
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := o.Runner.Run(ctx, ppm, "-r", strconv.Itoa(dpi), "-png", path, prefix); err != nil {
		return Raw{}, fmt.Errorf("%s: %w: %s", ppm, err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	images, _ := filepath.Glob(prefix + "-*.png")
	if len(images) == 0 {
		return Raw{}, fmt.Errorf("%s produced no images", ppm)
	}
	sortPageImages(images)
	if o.MaxPages > 0 && len(images) > o.MaxPages {
		images = images[:o.MaxPages]
	}
	pages := make([]string, 0, len(images))
	for _, img := range images {
		// tesseract <file> stdout -l <lang>
		out, errb, err := o.Runner.Run(ctx, tess, img, "stdout", "-l", lang)
		if err != nil {
			return Raw{}, fmt.Errorf("%s: %w: %s", tess, err, strings.TrimSpace(truncate(string(errb), 512)))
		}
		pages = append(pages, string(out))
	}
	return Raw{Text: joinPages(pages), Pages: len(pages)}, nil
}

// sortPageImages orders page-N.png by N; pdftoppm pads numbers only to the
// width of the page count.
func sortPageImages(images []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
		return n
	}
	sort.Slice(images, func(i, j int) bool { return num(images[i]) < num(images[j]) })
}
