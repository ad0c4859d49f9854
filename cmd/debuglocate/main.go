package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/stage"
)

// debuglocate runs the document link strategies against a saved results
// page and prints what each strategy matches.
func main() {
	code := flag.String("code", "CD", "Document short code")
	keyword := flag.String("keyword", "chronologisch", "Keyword expected in the link target")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: debuglocate [-code CD] [-keyword chronologisch] results.html")
		os.Exit(2)
	}
	b, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	const pageURL = "file:///results.html"
	page := browser.NewStatic(map[string]string{pageURL: string(b)}, nil, os.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := page.Navigate(ctx, pageURL); err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}

	set := stage.DocumentLinkSet(*code, *keyword)
	for i, st := range set.Strategies {
		els, err := page.Query(ctx, st.Query)
		if err == nil && st.Accept != nil {
			els = st.Accept(els)
		}
		fmt.Printf("%d. %-20s %s\n", i+1, st.Name, st.Query)
		if err != nil {
			fmt.Println("   err:", err)
			continue
		}
		for _, el := range els {
			fmt.Printf("   %s href=%q title=%q\n", el, el.Attr("href"), el.Attr("title"))
		}
	}
	hit, err := set.Resolve(ctx, page)
	if err != nil {
		fmt.Println("resolved: none:", err)
		os.Exit(1)
	}
	fmt.Printf("resolved: %s -> %s\n", hit.Strategy, hit.First())
}
