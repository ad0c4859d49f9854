package stage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hyperifyio/regdoc/internal/extract"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/locate"
)

type navigate struct{}

func (*navigate) Name() Name { return Navigation }

func (s *navigate) Run(ctx context.Context, env *Env) Result {
	loadCtx, cancel := context.WithTimeout(ctx, env.Timeouts.PageLoad)
	defer cancel()
	if err := env.Page.Navigate(loadCtx, env.Site.HomeURL); err != nil {
		return fail(s.Name(), "entry page did not load", err)
	}
	if err := env.Page.WaitReady(loadCtx); err != nil {
		return fail(s.Name(), "entry page did not finish loading", err)
	}
	hit, err := env.Site.ReadyMarkers.WithLogger(&env.Logger).Await(ctx, env.Page, env.Timeouts.Marker, env.Timeouts.Poll)
	if err != nil {
		return fail(s.Name(), "entry page markers not found", err)
	}
	return ok("marker " + hit.Strategy)
}

type enterSearch struct{}

func (*enterSearch) Name() Name { return SearchEntry }

func (s *enterSearch) Run(ctx context.Context, env *Env) Result {
	hit, err := env.Site.EntryLinks.WithLogger(&env.Logger).Await(ctx, env.Page, env.Timeouts.Control, env.Timeouts.Poll)
	if err != nil {
		return fail(s.Name(), "search entry link not found", err)
	}
	how, err := locate.Activate(ctx, env.Page, hit.First(), locate.Activators(), env.Timeouts.Control)
	if err != nil {
		return fail(s.Name(), "search entry link could not be activated", err)
	}
	loadCtx, cancel := context.WithTimeout(ctx, env.Timeouts.PageLoad)
	err = env.Page.WaitReady(loadCtx)
	cancel()
	if err != nil {
		return fail(s.Name(), "search page did not finish loading", err)
	}
	if _, err := env.Site.EntryVerify.WithLogger(&env.Logger).Await(ctx, env.Page, env.Timeouts.EntryVerify, env.Timeouts.Poll); err != nil {
		return fail(s.Name(), "search form not found", err)
	}
	return ok(hit.Strategy + " via " + how)
}

type submitQuery struct{}

func (*submitQuery) Name() Name { return QuerySubmission }

func (s *submitQuery) Run(ctx context.Context, env *Env) Result {
	in, err := env.Site.QueryInputs.WithLogger(&env.Logger).Await(ctx, env.Page, env.Timeouts.Control, env.Timeouts.Poll)
	if err != nil {
		return fail(s.Name(), "query input not found", err)
	}
	input := in.First()
	fillCtx, cancel := context.WithTimeout(ctx, env.Timeouts.Control)
	err = env.Page.Fill(fillCtx, input, env.Target.String())
	cancel()
	if err != nil {
		return fail(s.Name(), "could not enter organization name", err)
	}

	detail := "enter key"
	submitted := false
	if btn, rerr := env.Site.SubmitControls.WithLogger(&env.Logger).Resolve(ctx, env.Page); rerr == nil {
		how, aerr := locate.Activate(ctx, env.Page, btn.First(), locate.Activators()[:1], env.Timeouts.Control)
		if aerr == nil {
			detail = btn.Strategy + " via " + how
			submitted = true
		} else {
			env.Logger.Debug().Err(aerr).Msg("submit control not clickable; pressing enter")
		}
	}
	if !submitted {
		keyCtx, cancel := context.WithTimeout(ctx, env.Timeouts.Control)
		err = env.Page.PressEnter(keyCtx, input)
		cancel()
		if err != nil {
			return fail(s.Name(), "could not submit search", err)
		}
	}

	outcome, err := s.awaitResults(ctx, env)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return Result{Err: fe, Detail: detail}
		}
		return fail(s.Name(), "search results did not load", err)
	}
	return ok(detail + ", " + outcome)
}

// awaitResults polls the page until it shows results, shows the no-results
// marker, or the results timeout passes. The no-results marker wins over
// every success signal.
func (s *submitQuery) awaitResults(ctx context.Context, env *Env) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Results)
	defer cancel()
	poll := env.Timeouts.Poll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	var lastErr error
	for {
		signal, err := s.inspect(ctx, env)
		switch {
		case err != nil:
			var fe *failure.Error
			if errors.As(err, &fe) {
				return "", err
			}
			lastErr = err
		case signal != "":
			return signal, nil
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return "", lastErr
		case <-t.C:
		}
	}
}

func (s *submitQuery) inspect(ctx context.Context, env *Env) (string, error) {
	html, err := env.Page.HTML(ctx)
	if err != nil {
		return "", err
	}
	text := extract.FromHTML([]byte(html)).Text
	lower := strings.ToLower(text)
	for _, m := range env.Site.NoResultsMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return "", failure.NotFound(failure.PhaseQuery, "no registry entries found for \""+env.Target.String()+"\"")
		}
	}
	if u, err := env.Page.URL(ctx); err == nil {
		for _, p := range env.Site.ResultsURLPatterns {
			if strings.Contains(u, p) {
				return "results url", nil
			}
		}
	}
	for _, m := range env.Site.ResultsMarkers {
		if strings.Contains(text, m) {
			return "results marker", nil
		}
	}
	if env.Site.ResultsTable.CSS != "" {
		if els, err := env.Page.Query(ctx, env.Site.ResultsTable); err == nil && len(els) > 0 {
			return "results table", nil
		}
	}
	return "", nil
}

type resolveDocument struct{}

func (*resolveDocument) Name() Name { return DocumentLinkResolution }

func (s *resolveDocument) Run(ctx context.Context, env *Env) Result {
	hit, err := env.Site.DocumentLinks.WithLogger(&env.Logger).Await(ctx, env.Page, env.Timeouts.Control, env.Timeouts.Poll)
	if err != nil {
		return fail(s.Name(), "document link not found in results", err)
	}
	if env.Detector == nil {
		return fail(s.Name(), "download detector not configured", nil)
	}
	watch, err := env.Detector.Arm()
	if err != nil {
		return Result{Err: failure.Acquisition(failure.PhaseDownload, "download directory unavailable", err)}
	}
	how, err := locate.Activate(ctx, env.Page, hit.First(), locate.Activators(), env.Timeouts.Control)
	if err != nil {
		return fail(s.Name(), "document link could not be activated", err)
	}
	f, err := watch.Wait(ctx)
	if err != nil {
		return Result{
			Err:    failure.Acquisition(failure.PhaseDownload, "document download did not complete", err),
			Detail: hit.Strategy + " via " + how,
		}
	}
	res := ok(hit.Strategy + " via " + how)
	res.Artifact = &f
	return res
}
