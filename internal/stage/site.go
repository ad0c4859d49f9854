package stage

import (
	"strings"

	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/locate"
)

// DefaultHomeURL is the public registry portal.
const DefaultHomeURL = "https://www.handelsregister.de/"

// Site captures everything page-specific about the registry: where to start,
// how to recognise each screen and which elements to drive.
type Site struct {
	HomeURL string

	// ReadyMarkers confirm the entry page is interactive (one per locale).
	ReadyMarkers locate.Set
	EntryLinks   locate.Set
	// EntryVerify confirms the search form is showing.
	EntryVerify    locate.Set
	QueryInputs    locate.Set
	SubmitControls locate.Set

	ResultsURLPatterns []string
	ResultsMarkers     []string
	// NoResultsMarkers are compared case-insensitively with the page text.
	NoResultsMarkers []string
	ResultsTable     browser.Query

	DocumentLinks locate.Set
}

// Registry returns the site description for the German common register
// portal, starting at homeURL (DefaultHomeURL when empty). The document
// code is the two-letter abbreviation of the chronological printout.
func Registry(homeURL string) Site {
	if strings.TrimSpace(homeURL) == "" {
		homeURL = DefaultHomeURL
	}
	return Site{
		HomeURL: homeURL,
		ReadyMarkers: locate.Set{Name: "entry page markers", Strategies: []locate.Strategy{
			{Name: "en", Query: browser.PartialLinkText("Normal search")},
			{Name: "de", Query: browser.PartialLinkText("Normale Suche")},
		}},
		EntryLinks: locate.Set{Name: "normal search entry", Strategies: entryStrategies(
			browser.LinkText("Normal search"),
			browser.PartialLinkText("Normal search"),
			browser.LinkText("Normale Suche"),
			browser.PartialLinkText("Normale Suche"),
			browser.CSS("a[href*='normalesuche']"),
		)},
		EntryVerify: locate.Set{Name: "search form", Strategies: []locate.Strategy{
			{Name: "text input", Query: browser.CSS("input[type='text']")},
			{Name: "textarea", Query: browser.CSS("textarea")},
			{Name: "keyword field", Query: browser.Named("schlagwoerter")},
		}},
		QueryInputs: locate.Set{Name: "query input", Strategies: []locate.Strategy{
			{Name: "name", Query: browser.Named("schlagwoerter")},
			{Name: "id", Query: browser.CSS("#schlagwoerter")},
			{Name: "textarea", Query: browser.CSS("textarea")},
			{Name: "text input", Query: browser.CSS("input[type='text']")},
		}},
		SubmitControls: locate.Set{Name: "submit control", Strategies: []locate.Strategy{
			{Name: "button en", Query: browser.Query{CSS: "button", Text: "Find", Match: browser.MatchContains}},
			{Name: "input en", Query: browser.CSS("input[value='Find']")},
			{Name: "button submit", Query: browser.CSS("button[type='submit']")},
			{Name: "input submit", Query: browser.CSS("input[type='submit']")},
			{Name: "button de", Query: browser.Query{CSS: "button", Text: "Suche", Match: browser.MatchContains}},
			{Name: "input de", Query: browser.CSS("input[value='Suche']")},
			{Name: "name", Query: browser.Named("btnSuche")},
		}},
		ResultsURLPatterns: []string{"sucheErgebnisse", "?cid="},
		ResultsMarkers:     []string{"Search Result", "Suchergebnis"},
		NoResultsMarkers:   []string{"keine treffer", "no results", "keine ergebnisse"},
		ResultsTable:       browser.CSS("table"),
		DocumentLinks:      DocumentLinkSet("CD", "chronologisch"),
	}
}

func entryStrategies(queries ...browser.Query) []locate.Strategy {
	accept := locate.PreferContainer("menu", "nav")
	out := make([]locate.Strategy, 0, len(queries))
	for _, q := range queries {
		out = append(out, locate.Strategy{Name: q.String(), Query: q, Accept: accept})
	}
	return out
}

// DocumentLinkSet resolves the link for a document short code. Narrow
// strategies come first; the table scan only runs when they all miss.
func DocumentLinkSet(code, keyword string) locate.Set {
	verify := documentLinkFilter(code, keyword)
	return locate.Set{Name: "document link", Strategies: []locate.Strategy{
		{Name: "exact text", Query: browser.LinkText(code), Accept: verify},
		{Name: "partial text", Query: browser.PartialLinkText(code), Accept: verify},
		{Name: "cell title", Query: browser.CSS("td a[title*='" + code + "']"), Accept: verify},
		{Name: "table title", Query: browser.CSS("table a[title*='" + code + "']"), Accept: verify},
		{Name: "href code", Query: browser.CSS("a[href*='" + code + "']"), Accept: verify},
		{Name: "href keyword", Query: browser.CSS("a[href*='" + keyword + "']"), Accept: verify},
		{Name: "table scan", Query: browser.Query{
			CSS:   "table a, td a, tr a",
			Text:  code,
			Match: browser.MatchContains,
			Attrs: []string{"title", "href"},
		}},
		{Name: "table scan keyword", Query: browser.Query{
			CSS:   "table a, td a, tr a",
			Text:  keyword,
			Match: browser.MatchContainsFold,
			Attrs: []string{"title", "href"},
		}},
	}}
}

// documentLinkFilter drops matches that only coincidentally contain the
// code, e.g. partial text hits inside longer words without a matching title
// or target.
func documentLinkFilter(code, keyword string) func([]browser.Element) []browser.Element {
	kw := strings.ToLower(keyword)
	return func(els []browser.Element) []browser.Element {
		var out []browser.Element
		for _, el := range els {
			href := el.Attr("href")
			if el.Text == code ||
				strings.Contains(el.Attr("title"), code) ||
				strings.Contains(strings.ToLower(href), kw) ||
				strings.Contains(href, code) {
				out = append(out, el)
			}
		}
		return out
	}
}
