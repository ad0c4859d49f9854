package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/download"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/validate"
)

// Name identifies a stage of the acquisition workflow.
type Name string

const (
	Navigation             Name = "navigation"
	SearchEntry            Name = "search-entry"
	QuerySubmission        Name = "query-submission"
	DocumentLinkResolution Name = "document-link-resolution"
)

// Phase maps a stage to the failure phase it reports.
func (n Name) Phase() failure.Phase {
	switch n {
	case Navigation:
		return failure.PhaseNavigation
	case SearchEntry:
		return failure.PhaseEntry
	case QuerySubmission:
		return failure.PhaseQuery
	case DocumentLinkResolution:
		return failure.PhaseLinkResolution
	}
	return failure.PhaseInternal
}

// State is the lifecycle position of an Executor.
type State int

const (
	NotStarted State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrReused is reported when an executor is run a second time.
var ErrReused = errors.New("stage executor already used")

// Timeouts bounds every wait point in the workflow. Exceeding one is an
// ordinary stage failure.
type Timeouts struct {
	PageLoad    time.Duration
	Marker      time.Duration
	EntryVerify time.Duration
	Control     time.Duration
	Results     time.Duration
	Download    time.Duration
	// Poll is the interval between probes while waiting.
	Poll time.Duration
}

// DefaultTimeouts returns the production wait bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:    30 * time.Second,
		Marker:      30 * time.Second,
		EntryVerify: 15 * time.Second,
		Control:     10 * time.Second,
		Results:     60 * time.Second,
		Download:    30 * time.Second,
		Poll:        500 * time.Millisecond,
	}
}

// Env is what a stage may use during one attempt. It is rebuilt for every
// attempt and never shared between attempts.
type Env struct {
	Page     browser.Page
	Target   validate.SearchTarget
	Site     Site
	Timeouts Timeouts
	Detector *download.Detector
	Logger   zerolog.Logger
}

// Result is the outcome of one stage run. Artifact is set only by the
// document link stage.
type Result struct {
	Stage    Name
	OK       bool
	Err      error
	Detail   string
	Artifact *download.File
	Duration time.Duration
}

// Message returns the failure text, or "" on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Stage is one pass/fail step of the workflow.
type Stage interface {
	Name() Name
	Run(ctx context.Context, env *Env) Result
}

// Executor runs a Stage exactly once and tracks its state.
type Executor struct {
	stage  Stage
	state  State
	result Result
}

func NewExecutor(s Stage) *Executor {
	return &Executor{stage: s}
}

func (e *Executor) Name() Name     { return e.stage.Name() }
func (e *Executor) State() State   { return e.state }
func (e *Executor) Result() Result { return e.result }

// Run executes the stage. A panic raised by the stage or the driver beneath
// it becomes a failure attributed to this stage.
func (e *Executor) Run(ctx context.Context, env *Env) (res Result) {
	name := e.stage.Name()
	if e.state != NotStarted {
		return Result{Stage: name, Err: failure.Internal(ErrReused)}
	}
	e.state = Running
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Stage: name, Err: failure.Acquisition(name.Phase(), "driver fault", fmt.Errorf("panic: %v", r))}
		}
		res.Stage = name
		res.Duration = time.Since(start)
		if res.OK && res.Err == nil {
			e.state = Succeeded
		} else {
			res.OK = false
			if res.Err == nil {
				res.Err = failure.Acquisition(name.Phase(), "stage failed", nil)
			}
			e.state = Failed
		}
		e.result = res
		ev := env.Logger.Debug()
		if !res.OK {
			ev = env.Logger.Warn().Err(res.Err)
		}
		ev.Str("stage", string(name)).Dur("duration", res.Duration).Str("detail", res.Detail).Msg("stage finished")
	}()
	return e.stage.Run(ctx, env)
}

// Workflow returns fresh instances of the four stages in execution order.
func Workflow() []Stage {
	return []Stage{&navigate{}, &enterSearch{}, &submitQuery{}, &resolveDocument{}}
}

func ok(detail string) Result { return Result{OK: true, Detail: detail} }

func fail(n Name, msg string, err error) Result {
	return Result{Err: failure.Acquisition(n.Phase(), msg, err)}
}
