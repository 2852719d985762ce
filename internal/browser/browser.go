package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/polzovatel/webagent/internal/match"
)

const (
	defaultNavTimeout    = 60 * time.Second
	defaultActionTimeout = 8 * time.Second
	backTimeout          = 15 * time.Second
	defaultScrollAmount  = 500

	headlessEnv   = "AGENT_HEADLESS"
	windowSizeEnv = "AGENT_WINDOW_SIZE"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Selector for the single active modal region.
	DialogSelector = `[role="dialog"], [role="alertdialog"], [aria-modal="true"]`
)

// Controller exposes the browser primitives the executor needs. Element
// identity never crosses a call boundary: every action re-resolves against
// current DOM state through a fresh harvest.
type Controller interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	Scroll(ctx context.Context, direction string, amount int, containerSelector string) error
	EnsureSingleTab(ctx context.Context) error
	SaveState(ctx context.Context, path string) error

	DialogLocator(ctx context.Context) (playwright.Locator, error)
	HarvestClickables(ctx context.Context) (*Harvest, error)
	HarvestFields(ctx context.Context) (*FieldHarvest, error)
	BroadScan(ctx context.Context, searches []string) (int, bool, error)

	ClickRef(ctx context.Context, ref int) error
	ClickSelector(ctx context.Context, scope playwright.Locator, selector string) (bool, error)
	ClickRole(ctx context.Context, scope playwright.Locator, role string) (bool, error)
	FillField(ctx context.Context, ref int, text string) error
	FillSelector(ctx context.Context, scope playwright.Locator, selector, text string) error

	URL() string
	Title() string
	Page() playwright.Page
}

// Harvest is the result of one clickable-element scan: whether a dialog
// scoped it and the candidate descriptors, stamped in the DOM by ref.
type Harvest struct {
	InDialog   bool              `json:"inDialog"`
	Candidates []match.Candidate `json:"candidates"`
}

// FieldHarvest lists fillable fields; Dialog is nil when no dialog is open.
type FieldHarvest struct {
	Dialog []match.Field `json:"dialog"`
	Page   []match.Field `json:"page"`
}

// Launcher owns playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, false)
	w, h := parseWindowSize(os.Getenv(windowSizeEnv))
	var args []string
	if !headless {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", w, h))
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args:     args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

func (l *Launcher) NewController(ctx context.Context, storagePath string) (Controller, error) {
	opts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
	}
	if l.headless {
		opts.Viewport = &playwright.Size{Width: 1920, Height: 1080}
	} else {
		opts.NoViewport = playwright.Bool(true)
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	// Single-tab invariant: links never open new tabs.
	if err := bctx.AddInitScript(playwright.Script{
		Content: playwright.String(`document.querySelectorAll('a[target="_blank"], a[target="_new"]').forEach(a => a.removeAttribute('target'));`),
	}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("init script: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Page() playwright.Page { return c.page }

func (c *controller) URL() string { return c.page.URL() }

func (c *controller) Title() string {
	title, _ := c.page.Title()
	return title
}

func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

// EnsureSingleTab closes extra pages; the loop works with exactly one tab.
func (c *controller) EnsureSingleTab(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pages := c.context.Pages()
	if len(pages) <= 1 {
		return nil
	}
	for _, p := range pages[1:] {
		_ = p.Close()
	}
	c.page = pages[0]
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.GoBack(playwright.PageGoBackOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(backTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) Scroll(ctx context.Context, direction string, amount int, containerSelector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		amount = defaultScrollAmount
	}
	delta := amount
	if strings.EqualFold(direction, "up") {
		delta = -amount
	}
	if strings.TrimSpace(containerSelector) != "" {
		_, err := c.page.Evaluate(`(args) => {
			const el = document.querySelector(args.sel);
			if (!el) return false;
			el.scrollBy(0, args.delta);
			return true;
		}`, map[string]any{"sel": containerSelector, "delta": delta})
		return wrap(err)
	}
	_, err := c.page.Evaluate(`d => window.scrollBy(0, d)`, delta)
	return wrap(err)
}

// DialogLocator returns the first visible modal region, or nil when no
// dialog is active. Re-run before every action: dialogs appear and vanish
// between reads and actions.
func (c *controller) DialogLocator(ctx context.Context) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc := c.page.Locator(DialogSelector)
	count, err := loc.Count()
	if err != nil {
		return nil, wrap(err)
	}
	for i := 0; i < count; i++ {
		el := loc.Nth(i)
		visible, err := el.IsVisible()
		if err != nil {
			continue
		}
		if visible {
			return el, nil
		}
	}
	return nil, nil
}

func (c *controller) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := c.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ClickSelector performs an engine-level click scoped to the dialog when one
// is active. NoWaitAfter keeps navigating clicks from blocking on network
// idle. On timeout it retries once with actionability checks bypassed; the
// returned bool reports whether force was used.
func (c *controller) ClickSelector(ctx context.Context, scope playwright.Locator, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var loc playwright.Locator
	if scope != nil {
		loc = scope.Locator(selector).First()
	} else {
		loc = c.page.Locator(selector).First()
	}
	return c.clickWithForceRetry(loc)
}

func (c *controller) ClickRole(ctx context.Context, scope playwright.Locator, role string) (bool, error) {
	return c.ClickSelector(ctx, scope, fmt.Sprintf("[role='%s']", role))
}

func (c *controller) clickWithForceRetry(loc playwright.Locator) (bool, error) {
	timeout := playwright.Float(float64(defaultActionTimeout.Milliseconds()))
	err := loc.Click(playwright.LocatorClickOptions{
		Timeout:     timeout,
		NoWaitAfter: playwright.Bool(true),
	})
	if err == nil {
		return false, nil
	}
	if !IsTimeout(err) {
		return false, wrap(err)
	}
	err = loc.Click(playwright.LocatorClickOptions{
		Timeout:     timeout,
		NoWaitAfter: playwright.Bool(true),
		Force:       playwright.Bool(true),
	})
	if err != nil {
		return true, wrap(err)
	}
	return true, nil
}

// ClickRef drives a previously stamped candidate with a synthetic pointer
// sequence at its visual center, which behaves the same for in-page and
// in-dialog DOM structures.
func (c *controller) ClickRef(ctx context.Context, ref int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := c.page.Evaluate(clickRefScript, ref)
	if err != nil {
		return wrap(err)
	}
	if ok, _ := val.(bool); !ok {
		return fmt.Errorf("stamped element %d no longer present", ref)
	}
	return nil
}

func (c *controller) FillField(ctx context.Context, ref int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(fmt.Sprintf(`[data-agent-field="%d"]`, ref)).First()
	return wrap(loc.Fill(text, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(defaultActionTimeout.Milliseconds())),
	}))
}

func (c *controller) FillSelector(ctx context.Context, scope playwright.Locator, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var loc playwright.Locator
	if scope != nil {
		loc = scope.Locator(selector).First()
	} else {
		loc = c.page.Locator(selector).First()
	}
	return wrap(loc.Fill(text, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(defaultActionTimeout.Milliseconds())),
	}))
}

// IsTimeout reports whether an action failed by exceeding its deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "exceeded")
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func parseWindowSize(val string) (int, int) {
	val = strings.ToLower(strings.TrimSpace(val))
	if val == "" {
		return 1100, 700
	}
	parts := strings.SplitN(val, "x", 2)
	if len(parts) != 2 {
		return 1100, 700
	}
	w, err1 := parseInt(parts[0])
	h, err2 := parseInt(parts[1])
	if err1 != nil || err2 != nil {
		return 1100, 700
	}
	if w < 800 {
		w = 800
	}
	if h < 600 {
		h = 600
	}
	return w, h
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	return n, err
}
