package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChromeOptions configures headless Chrome sessions.
type ChromeOptions struct {
	Headless       bool
	ExecPath       string
	UserAgent      string
	AcceptLanguage string
	WindowWidth    int
	WindowHeight   int
	Logger         *zerolog.Logger
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// hides the automation marker some sites check before serving forms
const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// ChromeFactory starts one Chrome process per session.
type ChromeFactory struct {
	Options ChromeOptions
}

func (f ChromeFactory) NewSession(ctx context.Context, downloadDir string) (Session, error) {
	return NewChrome(ctx, f.Options, downloadDir)
}

// ChromeSession drives a single Chrome tab through chromedp.
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	downloadDir string
	logger      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewChrome launches Chrome, allows downloads into downloadDir and returns a
// session for one tab. The browser lives until Close; ctx only bounds startup.
func NewChrome(ctx context.Context, o ChromeOptions, downloadDir string) (*ChromeSession, error) {
	logger := log.Logger
	if o.Logger != nil {
		logger = *o.Logger
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = 1920, 1080
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "de-DE"),
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
		chromedp.UserAgent(o.UserAgent),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
	)

	s := &ChromeSession{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		downloadDir: downloadDir,
		logger:      logger.With().Str("component", "chrome").Logger(),
	}

	// The first Run allocates the browser; it must use the tab context itself
	// so the process is not tied to the caller's deadline.
	startup := []chromedp.Action{
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": o.AcceptLanguage}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
	}
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, startup...) }()
	select {
	case err := <-errc:
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", ctx.Err())
	}

	s.logger.Debug().Bool("headless", o.Headless).Str("downloads", downloadDir).Msg("chrome session started")
	return s, nil
}

// run executes actions on the tab, bounded by both the session and ctx.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func refSelector(el Element) string {
	return fmt.Sprintf(`[%s=%q]`, RefAttr, el.Ref)
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug().Str("url", url).Msg("navigate")
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *ChromeSession) WaitReady(ctx context.Context) error {
	var ready bool
	return s.run(ctx, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(250*time.Millisecond)))
}

const queryScript = `(function(css) {
  var out = [];
  var nodes;
  try { nodes = document.querySelectorAll(css); } catch (e) { return out; }
  window.__regdocSeq = window.__regdocSeq || 0;
  for (var i = 0; i < nodes.length; i++) {
    var el = nodes[i];
    var ref = el.getAttribute(%[2]q);
    if (!ref) { ref = String(++window.__regdocSeq); el.setAttribute(%[2]q, ref); }
    var attrs = {};
    for (var j = 0; j < el.attributes.length; j++) { attrs[el.attributes[j].name] = el.attributes[j].value; }
    if (typeof el.value === 'string' && el.value !== '') { attrs['value'] = el.value; }
    var anc = [];
    for (var p = el.parentElement, k = 0; p && k < 4; p = p.parentElement, k++) {
      var cls = typeof p.className === 'string' ? p.className.trim().split(/\s+/).join('.') : '';
      anc.push(p.tagName.toLowerCase() + (cls ? '.' + cls : ''));
    }
    out.push({ref: ref, tag: el.tagName.toLowerCase(), text: (el.innerText || '').trim(), attrs: attrs, ancestry: anc.join(' ')});
  }
  return out;
})(%[1]s)`

func (s *ChromeSession) Query(ctx context.Context, q Query) ([]Element, error) {
	css, err := json.Marshal(q.CSS)
	if err != nil {
		return nil, err
	}
	var els []Element
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryScript, css, RefAttr), &els)); err != nil {
		return nil, fmt.Errorf("query %s: %w", q, err)
	}
	return Filter(q, els), nil
}

func (s *ChromeSession) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *ChromeSession) HTML(ctx context.Context) (string, error) {
	var h string
	err := s.run(ctx, chromedp.OuterHTML("html", &h, chromedp.ByQuery))
	return h, err
}

func (s *ChromeSession) Fill(ctx context.Context, el Element, text string) error {
	sel := refSelector(el)
	return s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (s *ChromeSession) PressEnter(ctx context.Context, el Element) error {
	return s.run(ctx, chromedp.SendKeys(refSelector(el), kb.Enter, chromedp.ByQuery))
}

func (s *ChromeSession) ClickDirect(ctx context.Context, el Element) error {
	sel := refSelector(el)
	return s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

const scriptClick = `(function(sel) {
  var el = document.querySelector(sel);
  if (!el) { return false; }
  el.scrollIntoView({block: 'center'});
  el.click();
  return true;
})(%s)`

func (s *ChromeSession) ClickScript(ctx context.Context, el Element) error {
	sel, _ := json.Marshal(refSelector(el))
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(scriptClick, sel), &ok)); err != nil {
		return err
	}
	if !ok {
		return ErrDetached
	}
	return nil
}

const centerScript = `(function(sel) {
  var el = document.querySelector(sel);
  if (!el) { return null; }
  el.scrollIntoView({block: 'center'});
  var r = el.getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})(%s)`

func (s *ChromeSession) ClickPointer(ctx context.Context, el Element) error {
	sel, _ := json.Marshal(refSelector(el))
	var pt *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(centerScript, sel), &pt)); err != nil {
		return err
	}
	if pt == nil {
		return ErrDetached
	}
	return s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, pt.X, pt.Y).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, pt.X, pt.Y).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
	)
}

func (s *ChromeSession) DownloadDir() string { return s.downloadDir }

// Close terminates the tab and the browser process. It is safe to call more
// than once.
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.allocCancel()
	s.logger.Debug().Msg("chrome session closed")
	return nil
}
