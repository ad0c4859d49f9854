package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoPage is returned by StaticSession when a URL has no page or file.
var ErrNoPage = errors.New("static: no page for url")

// StaticSession replays a fixed set of HTML pages without a browser. Links
// navigate by href, submit controls and Enter navigate to the enclosing form's
// action, and URLs listed in Files are written to the download directory
// instead of being displayed. It backs offline tools and tests.
type StaticSession struct {
	Pages map[string]string
	Files map[string][]byte

	mu      sync.Mutex
	dir     string
	doc     *goquery.Document
	current string
	seq     int
	closed  bool
	// Submitted records every form submission URL in order.
	Submitted []string
}

// NewStatic builds a session over pages and downloadable files keyed by
// absolute URL.
func NewStatic(pages map[string]string, files map[string][]byte, downloadDir string) *StaticSession {
	if pages == nil {
		pages = map[string]string{}
	}
	if files == nil {
		files = map[string][]byte{}
	}
	return &StaticSession{Pages: pages, Files: files, dir: downloadDir}
}

// StaticFactory hands out StaticSessions over the same site for each attempt.
type StaticFactory struct {
	Pages map[string]string
	Files map[string][]byte
}

func (f StaticFactory) NewSession(_ context.Context, downloadDir string) (Session, error) {
	return NewStatic(f.Pages, f.Files, downloadDir), nil
}

func (s *StaticSession) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *StaticSession) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.open(rawURL)
}

func (s *StaticSession) open(rawURL string) error {
	if body, ok := s.lookupFile(rawURL); ok {
		return s.save(rawURL, body)
	}
	html, ok := s.Pages[rawURL]
	if !ok {
		if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
			u.RawQuery = ""
			html, ok = s.Pages[u.String()]
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse %s: %w", rawURL, err)
	}
	s.doc = doc
	s.current = rawURL
	return nil
}

func (s *StaticSession) lookupFile(rawURL string) ([]byte, bool) {
	b, ok := s.Files[rawURL]
	return b, ok
}

func (s *StaticSession) save(rawURL string, body []byte) error {
	if s.dir == "" {
		return errors.New("static: download directory not set")
	}
	name := "download.bin"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), body, 0o644)
}

func (s *StaticSession) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.doc == nil {
		return errors.New("static: no document loaded")
	}
	return nil
}

func (s *StaticSession) Query(ctx context.Context, q Query) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.doc == nil {
		return nil, nil
	}
	var els []Element
	s.doc.Find(q.CSS).Each(func(_ int, sel *goquery.Selection) {
		els = append(els, s.snapshot(sel))
	})
	return Filter(q, els), nil
}

func (s *StaticSession) snapshot(sel *goquery.Selection) Element {
	ref, ok := sel.Attr(RefAttr)
	if !ok {
		s.seq++
		ref = strconv.Itoa(s.seq)
		sel.SetAttr(RefAttr, ref)
	}
	attrs := map[string]string{}
	if n := sel.Get(0); n != nil {
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
	}
	tag := goquery.NodeName(sel)
	text := ""
	if tag != "input" && tag != "textarea" && tag != "select" {
		text = strings.Join(strings.Fields(sel.Text()), " ")
	}
	var anc []string
	sel.Parents().Slice(0, min(4, sel.Parents().Length())).Each(func(_ int, p *goquery.Selection) {
		name := goquery.NodeName(p)
		if cls := strings.Fields(p.AttrOr("class", "")); len(cls) > 0 {
			name += "." + strings.Join(cls, ".")
		}
		anc = append(anc, name)
	})
	return Element{Ref: ref, Tag: tag, Text: text, Attrs: attrs, Ancestry: strings.Join(anc, " ")}
}

func (s *StaticSession) find(el Element) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, ErrDetached
	}
	sel := s.doc.Find(refSelector(el))
	if sel.Length() == 0 {
		return nil, ErrDetached
	}
	return sel.First(), nil
}

func (s *StaticSession) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.current, nil
}

func (s *StaticSession) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if s.doc == nil {
		return "", nil
	}
	return goquery.OuterHtml(s.doc.Selection)
}

func (s *StaticSession) Fill(ctx context.Context, el Element, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sel, err := s.find(el)
	if err != nil {
		return err
	}
	if goquery.NodeName(sel) == "textarea" {
		sel.SetText(text)
	}
	sel.SetAttr("value", text)
	return nil
}

func (s *StaticSession) PressEnter(ctx context.Context, el Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sel, err := s.find(el)
	if err != nil {
		return err
	}
	return s.submit(sel)
}

func (s *StaticSession) ClickDirect(ctx context.Context, el Element) error  { return s.click(ctx, el) }
func (s *StaticSession) ClickScript(ctx context.Context, el Element) error  { return s.click(ctx, el) }
func (s *StaticSession) ClickPointer(ctx context.Context, el Element) error { return s.click(ctx, el) }

func (s *StaticSession) click(ctx context.Context, el Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sel, err := s.find(el)
	if err != nil {
		return err
	}
	if href, ok := sel.Attr("href"); ok && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
		return s.open(s.resolve(href))
	}
	tag := goquery.NodeName(sel)
	typ := strings.ToLower(sel.AttrOr("type", ""))
	if (tag == "button" && typ != "button") || (tag == "input" && typ == "submit") {
		return s.submit(sel)
	}
	return nil
}

func (s *StaticSession) submit(sel *goquery.Selection) error {
	form := sel.Closest("form")
	if form.Length() == 0 {
		return nil
	}
	target := s.resolve(form.AttrOr("action", s.current))
	values := url.Values{}
	form.Find("input[name], textarea[name]").Each(func(_ int, f *goquery.Selection) {
		name := f.AttrOr("name", "")
		switch strings.ToLower(f.AttrOr("type", "text")) {
		case "submit", "button", "checkbox", "radio":
			return
		}
		v := f.AttrOr("value", "")
		if goquery.NodeName(f) == "textarea" {
			v = f.Text()
		}
		values.Set(name, v)
	})
	if len(values) > 0 {
		if u, err := url.Parse(target); err == nil {
			u.RawQuery = values.Encode()
			target = u.String()
		}
	}
	s.Submitted = append(s.Submitted, target)
	return s.open(target)
}

func (s *StaticSession) resolve(ref string) string {
	base, err := url.Parse(s.current)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func (s *StaticSession) DownloadDir() string { return s.dir }

func (s *StaticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
