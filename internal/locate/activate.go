package locate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperifyio/regdoc/internal/browser"
)

// Activator is one technique for triggering an element.
type Activator struct {
	Name string
	Do   func(ctx context.Context, p browser.Page, el browser.Element) error
}

// Activators returns the standard sequence: native click, script click,
// then synthetic pointer events.
func Activators() []Activator {
	return []Activator{
		{Name: "direct", Do: func(ctx context.Context, p browser.Page, el browser.Element) error { return p.ClickDirect(ctx, el) }},
		{Name: "script", Do: func(ctx context.Context, p browser.Page, el browser.Element) error { return p.ClickScript(ctx, el) }},
		{Name: "pointer", Do: func(ctx context.Context, p browser.Page, el browser.Element) error { return p.ClickPointer(ctx, el) }},
	}
}

// Activate tries each activator in turn, each bounded by perTry, and
// returns the name of the first that did not fail. A panic inside an
// activator counts as that activator failing.
func Activate(ctx context.Context, p browser.Page, el browser.Element, activators []Activator, perTry time.Duration) (string, error) {
	if len(activators) == 0 {
		activators = Activators()
	}
	var errs []error
	for _, a := range activators {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := runActivator(ctx, a, p, el, perTry)
		if err == nil {
			return a.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
	}
	return "", fmt.Errorf("activate %s: %w", el, errors.Join(errs...))
}

func runActivator(ctx context.Context, a Activator, p browser.Page, el browser.Element, perTry time.Duration) (err error) {
	if perTry > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, perTry)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Do(ctx, p, el)
}
