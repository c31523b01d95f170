package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot/internal/dom"
)

// ChromedpPage drives a page over the Chrome DevTools Protocol. It is the
// alternative runtime adapter; locator strings are the same as for the
// playwright adapter ("xpath=..." or css).
type ChromedpPage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
}

var _ Page = (*ChromedpPage)(nil)

// NewChromedpPage launches a Chrome instance and opens one tab.
func NewChromedpPage(parent context.Context, headless bool, logger *zap.Logger) (*ChromedpPage, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 720),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome failed: %w", err)
	}

	return &ChromedpPage{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger.Named("cdp_page"),
	}, nil
}

// cdpSelector translates a locator string into a chromedp selector + query
// option pair.
func cdpSelector(locator string) (string, chromedp.QueryOption) {
	switch {
	case strings.HasPrefix(locator, "xpath="):
		return strings.TrimPrefix(locator, "xpath="), chromedp.BySearch
	case strings.HasPrefix(locator, "css="):
		return strings.TrimPrefix(locator, "css="), chromedp.ByQuery
	default:
		return locator, chromedp.ByQuery
	}
}

func (c *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := c.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(c.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (c *ChromedpPage) Goto(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *ChromedpPage) WaitForLoadState(ctx context.Context, state string) error {
	// CDP has no direct load-state notion; body readiness approximates
	// domcontentloaded and a short settle approximates the rest.
	if err := c.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	if state == LoadStateNetworkidle {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *ChromedpPage) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	expr := script
	if len(args) > 0 {
		encoded, err := json.Marshal(args[0])
		if err != nil {
			return nil, err
		}
		// Caller scripts are arrow functions when they take arguments.
		expr = fmt.Sprintf("(%s)(%s)", script, string(encoded))
	}
	var res any
	err := c.run(ctx, chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	return res, err
}

func (c *ChromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *ChromedpPage) URL(ctx context.Context) string {
	var u string
	if err := c.run(ctx, chromedp.Location(&u)); err != nil {
		c.logger.Debug("location read failed", zap.Error(err))
		return ""
	}
	return u
}

func (c *ChromedpPage) Title(ctx context.Context) (string, error) {
	var t string
	err := c.run(ctx, chromedp.Title(&t))
	return t, err
}

func (c *ChromedpPage) Click(ctx context.Context, locator string) error {
	sel, by := cdpSelector(locator)
	return c.run(ctx,
		chromedp.ScrollIntoView(sel, by),
		chromedp.Click(sel, by, chromedp.NodeVisible),
	)
}

func (c *ChromedpPage) Fill(ctx context.Context, locator, value string) error {
	sel, by := cdpSelector(locator)
	return c.run(ctx,
		chromedp.Focus(sel, by),
		chromedp.SetValue(sel, value, by),
	)
}

func (c *ChromedpPage) Type(ctx context.Context, locator, text string) error {
	sel, by := cdpSelector(locator)
	return c.run(ctx,
		chromedp.Focus(sel, by),
		chromedp.SendKeys(sel, text, by),
	)
}

func (c *ChromedpPage) Press(ctx context.Context, locator, key string) error {
	sel, by := cdpSelector(locator)
	keys := key
	if key == "Enter" {
		keys = "\r"
	}
	return c.run(ctx, chromedp.SendKeys(sel, keys, by))
}

func (c *ChromedpPage) Check(ctx context.Context, locator string) error {
	return c.setChecked(ctx, locator, true)
}

func (c *ChromedpPage) Uncheck(ctx context.Context, locator string) error {
	return c.setChecked(ctx, locator, false)
}

func (c *ChromedpPage) setChecked(ctx context.Context, locator string, checked bool) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	script := fmt.Sprintf(`(loc) => {
		const el = window.__browserpilot.resolve(loc);
		if (!el) throw new Error('element not found: ' + loc);
		if (el.checked !== %t) {
			el.click();
		}
		return true;
	}`, checked)
	_, err := c.Evaluate(ctx, script, locator)
	return err
}

func (c *ChromedpPage) SelectOption(ctx context.Context, locator string, values ...string) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	payload := map[string]any{"loc": locator, "values": values}
	script := `(arg) => {
		const el = window.__browserpilot.resolve(arg.loc);
		if (!el) throw new Error('element not found: ' + arg.loc);
		const wanted = new Set(arg.values);
		for (const opt of el.options) {
			opt.selected = wanted.has(opt.value) || wanted.has(opt.label);
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}`
	_, err := c.Evaluate(ctx, script, payload)
	return err
}

func (c *ChromedpPage) Hover(ctx context.Context, locator string) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	script := `(loc) => {
		const el = window.__browserpilot.resolve(loc);
		if (!el) throw new Error('element not found: ' + loc);
		el.dispatchEvent(new MouseEvent('mouseover', { bubbles: true }));
		el.dispatchEvent(new MouseEvent('mouseenter', { bubbles: true }));
		return true;
	}`
	_, err := c.Evaluate(ctx, script, locator)
	return err
}

func (c *ChromedpPage) Focus(ctx context.Context, locator string) error {
	sel, by := cdpSelector(locator)
	return c.run(ctx, chromedp.Focus(sel, by))
}

func (c *ChromedpPage) ScrollIntoView(ctx context.Context, locator string) error {
	sel, by := cdpSelector(locator)
	return c.run(ctx, chromedp.ScrollIntoView(sel, by))
}

func (c *ChromedpPage) ProcessDom(ctx context.Context, seenChunks []int) (*dom.Snapshot, error) {
	if err := c.ensureInjected(ctx); err != nil {
		return nil, err
	}
	if seenChunks == nil {
		seenChunks = []int{}
	}
	res, err := c.Evaluate(ctx, `(seen) => window.__browserpilot.processDom(seen)`, seenChunks)
	if err != nil {
		return nil, fmt.Errorf("processDom failed: %w", err)
	}
	return decodeSnapshot(res)
}

func (c *ChromedpPage) ProcessAllOfDom(ctx context.Context) (*dom.Snapshot, error) {
	if err := c.ensureInjected(ctx); err != nil {
		return nil, err
	}
	res, err := c.Evaluate(ctx, `() => window.__browserpilot.processAllOfDom()`)
	if err != nil {
		return nil, fmt.Errorf("processAllOfDom failed: %w", err)
	}
	return decodeSnapshot(res)
}

func (c *ChromedpPage) WaitForDomSettle(ctx context.Context) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := c.Evaluate(ctx, `() => window.__browserpilot.waitForDomSettle()`)
	return err
}

func (c *ChromedpPage) DebugDom(ctx context.Context, locators []string) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := c.Evaluate(ctx, `(locs) => window.__browserpilot.debugDom(locs)`, locators)
	return err
}

func (c *ChromedpPage) CleanupDebug(ctx context.Context) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := c.Evaluate(ctx, `() => window.__browserpilot.cleanupDebug()`)
	return err
}

func (c *ChromedpPage) Close() error {
	c.cancelTab()
	c.cancelAlloc()
	return nil
}

func (c *ChromedpPage) ensureInjected(ctx context.Context) error {
	var present bool
	if err := c.run(ctx, chromedp.Evaluate(ensureScriptProbe, &present)); err == nil && present {
		return nil
	}
	if err := c.run(ctx, chromedp.Evaluate(InjectedScript, nil)); err != nil {
		return fmt.Errorf("inject serializer failed: %w", err)
	}
	return nil
}
