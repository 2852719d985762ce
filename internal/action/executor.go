package action

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/webagent/internal/browser"
	"github.com/polzovatel/webagent/internal/match"
)

const (
	clickSettle  = 800 * time.Millisecond
	fillSettle   = 300 * time.Millisecond
	scrollSettle = 400 * time.Millisecond
)

// NotFoundError: no element matched the request in the active scope.
type NotFoundError struct {
	Target string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no element matching %q", e.Target)
}

// AmbiguousError: several elements matched and the request was too short to
// pick one. Previews let the caller retry with contextual wording.
type AmbiguousError struct {
	Target   string
	Count    int
	Previews []match.Preview
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d elements match %q", e.Count, e.Target)
}

// DisabledError: the element was found but cannot be interacted with.
type DisabledError struct {
	Target string
	Reason string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("element %q is not interactive: %s", e.Target, e.Reason)
}

// SelectorScopeError: inside a dialog the selector named only the dialog
// container and no text was given.
type SelectorScopeError struct{}

func (e *SelectorScopeError) Error() string {
	return "selector names only the dialog container; pass text or an element selector"
}

// ClickRequest is a validated click_element call.
type ClickRequest struct {
	Text     string
	Selector string
	Exact    bool
}

// FillRequest is a validated type_text call.
type FillRequest struct {
	Text        string
	Selector    string
	Placeholder string
	FieldIndex  int
}

// Result reports what an action observed after settling.
type Result struct {
	Navigated bool
	ForceUsed bool
	URL       string
	Title     string
}

// Executor drives one browser controller. Scope is recomputed on every call;
// nothing about the page is cached between actions.
type Executor struct {
	ctrl browser.Controller
	log  zerolog.Logger
}

func NewExecutor(ctrl browser.Controller, log zerolog.Logger) *Executor {
	return &Executor{ctrl: ctrl, log: log.With().Str("comp", "executor").Logger()}
}

func (e *Executor) Navigate(ctx context.Context, url string) (Result, error) {
	if err := e.ctrl.EnsureSingleTab(ctx); err != nil {
		return Result{}, err
	}
	if err := e.ctrl.Navigate(ctx, url); err != nil {
		return Result{}, err
	}
	return e.result(true, false), nil
}

func (e *Executor) GoBack(ctx context.Context) (Result, error) {
	if err := e.ctrl.EnsureSingleTab(ctx); err != nil {
		return Result{}, err
	}
	before := e.ctrl.URL()
	if err := e.ctrl.GoBack(ctx); err != nil {
		return Result{}, err
	}
	return e.result(e.ctrl.URL() != before, false), nil
}

func (e *Executor) Scroll(ctx context.Context, direction string, amount int, container string) (Result, error) {
	if err := e.ctrl.EnsureSingleTab(ctx); err != nil {
		return Result{}, err
	}
	if err := e.ctrl.Scroll(ctx, direction, amount, container); err != nil {
		return Result{}, err
	}
	settle(ctx, scrollSettle)
	return e.result(false, false), nil
}

// Click resolves the target in the active scope and clicks it. A selector
// bypasses matching; otherwise the harvested candidates are matched by text
// with a broad DOM scan as last resort. Navigation is detected by URL
// comparison after the settle delay.
func (e *Executor) Click(ctx context.Context, req ClickRequest) (Result, error) {
	if err := e.ctrl.EnsureSingleTab(ctx); err != nil {
		return Result{}, err
	}
	before := e.ctrl.URL()

	dialog, err := e.ctrl.DialogLocator(ctx)
	if err != nil {
		return Result{}, err
	}

	selector := req.Selector
	if selector != "" && dialog != nil {
		stripped, ok := StripDialogSelector(selector)
		if !ok {
			if req.Text == "" {
				return Result{}, &SelectorScopeError{}
			}
			selector = ""
		} else {
			selector = stripped
		}
	}

	if selector != "" {
		forced, err := e.ctrl.ClickSelector(ctx, dialog, selector)
		if err != nil {
			return Result{}, fmt.Errorf("click %q: %w", selector, err)
		}
		settle(ctx, clickSettle)
		e.log.Debug().Str("selector", selector).Bool("forced", forced).Msg("clicked by selector")
		return e.result(e.ctrl.URL() != before, forced), nil
	}

	if req.Text == "" {
		return Result{}, fmt.Errorf("click needs text or selector")
	}

	harvest, err := e.ctrl.HarvestClickables(ctx)
	if err != nil {
		return Result{}, err
	}
	outcome := match.Resolve(req.Text, req.Exact, harvest.Candidates)
	switch outcome.Kind {
	case match.Matched:
		if err := e.ctrl.ClickRef(ctx, outcome.Ref); err != nil {
			return Result{}, err
		}
	case match.Disabled:
		return Result{}, &DisabledError{Target: req.Text, Reason: outcome.Reason}
	case match.Ambiguous:
		return Result{}, &AmbiguousError{Target: req.Text, Count: outcome.Count, Previews: outcome.Previews}
	case match.NotFound:
		ref, found, err := e.ctrl.BroadScan(ctx, match.SearchStrings(req.Text))
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{}, &NotFoundError{Target: req.Text}
		}
		e.log.Debug().Str("text", req.Text).Int("ref", ref).Msg("matched via broad scan")
		if err := e.ctrl.ClickRef(ctx, ref); err != nil {
			return Result{}, err
		}
	}

	settle(ctx, clickSettle)
	return e.result(e.ctrl.URL() != before, false), nil
}

// Fill types text into one field. A selector bypasses field planning; the
// fill is a single attempt with no force retry, a failed fill should surface
// to the model rather than corrupt a different field.
func (e *Executor) Fill(ctx context.Context, req FillRequest) (Result, error) {
	if err := e.ctrl.EnsureSingleTab(ctx); err != nil {
		return Result{}, err
	}

	dialog, err := e.ctrl.DialogLocator(ctx)
	if err != nil {
		return Result{}, err
	}

	if req.Selector != "" {
		selector := req.Selector
		if dialog != nil {
			stripped, ok := StripDialogSelector(selector)
			if !ok {
				return Result{}, &SelectorScopeError{}
			}
			selector = stripped
		}
		if err := e.ctrl.FillSelector(ctx, dialog, selector, req.Text); err != nil {
			return Result{}, fmt.Errorf("fill %q: %w", selector, err)
		}
		settle(ctx, fillSettle)
		return e.result(false, false), nil
	}

	fields, err := e.ctrl.HarvestFields(ctx)
	if err != nil {
		return Result{}, err
	}
	target, err := match.PlanFill(match.FillRequest{
		Text:        req.Text,
		Placeholder: req.Placeholder,
		FieldIndex:  req.FieldIndex,
	}, fields.Dialog, fields.Page)
	if err != nil {
		return Result{}, &NotFoundError{Target: err.Error()}
	}
	if err := e.ctrl.FillField(ctx, target.Ref, req.Text); err != nil {
		return Result{}, err
	}
	e.log.Debug().Str("by", target.By).Bool("page_scope", target.PageScope).Msg("filled field")
	settle(ctx, fillSettle)
	return e.result(false, false), nil
}

func (e *Executor) result(navigated, forced bool) Result {
	return Result{
		Navigated: navigated,
		ForceUsed: forced,
		URL:       e.ctrl.URL(),
		Title:     e.ctrl.Title(),
	}
}

func settle(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
