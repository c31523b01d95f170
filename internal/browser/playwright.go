package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot/internal/dom"
)

// Manager owns the playwright runtime and the browser context it drives.
type Manager struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	Context playwright.BrowserContext
	page    *playwrightPage
	logger  *zap.Logger
}

// NewManager starts a local persistent-context Chromium, installing the
// playwright driver when missing.
func NewManager(headless bool, logger *zap.Logger) (*Manager, error) {
	if err := playwright.Install(); err != nil {
		return nil, fmt.Errorf("install playwright failed: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright failed: %w", err)
	}

	userDataDir, _ := os.Getwd()
	userDataDir = filepath.Join(userDataDir, ".browserpilot_data")

	pwCtx, err := pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(headless),
		Viewport: &playwright.Size{Width: 1280, Height: 720},
		Args: []string{
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	return newManager(pw, nil, pwCtx, logger)
}

// ConnectRemote attaches to a remote browser over CDP (hosted session
// providers expose a websocket connect URL).
func ConnectRemote(connectURL string, logger *zap.Logger) (*Manager, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright failed: %w", err)
	}
	b, err := pw.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("connect over CDP failed: %w", err)
	}
	contexts := b.Contexts()
	if len(contexts) == 0 {
		_ = pw.Stop()
		return nil, fmt.Errorf("remote browser has no contexts")
	}
	return newManager(pw, b, contexts[0], logger)
}

func newManager(pw *playwright.Playwright, b playwright.Browser, pwCtx playwright.BrowserContext, logger *zap.Logger) (*Manager, error) {
	var page playwright.Page
	pages := pwCtx.Pages()
	if len(pages) > 0 {
		page = pages[0]
	} else {
		var err error
		page, err = pwCtx.NewPage()
		if err != nil {
			_ = pwCtx.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("create page failed: %w", err)
		}
	}
	page.SetDefaultTimeout(30000)

	if err := page.AddInitScript(playwright.Script{Content: playwright.String(InjectedScript)}); err != nil {
		logger.Warn("init script injection failed, will inject per call", zap.Error(err))
	}

	return &Manager{
		pw:      pw,
		browser: b,
		Context: pwCtx,
		page:    &playwrightPage{page: page, logger: logger.Named("page")},
		logger:  logger,
	}, nil
}

// Page returns the capability adapter for the managed page.
func (m *Manager) Page() Page { return m.page }

func (m *Manager) Close() error {
	if m.Context != nil {
		_ = m.Context.Close()
	}
	if m.browser != nil {
		_ = m.browser.Close()
	}
	if m.pw != nil {
		return m.pw.Stop()
	}
	return nil
}

// playwrightPage adapts a playwright page to the Page capability.
type playwrightPage struct {
	page   playwright.Page
	logger *zap.Logger
}

var _ Page = (*playwrightPage)(nil)

func (p *playwrightPage) Goto(_ context.Context, url string) error {
	_, err := p.page.Goto(url)
	return err
}

func (p *playwrightPage) WaitForLoadState(_ context.Context, state string) error {
	s := playwright.LoadState(state)
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: &s})
}

func (p *playwrightPage) Evaluate(_ context.Context, script string, args ...any) (any, error) {
	if len(args) > 0 {
		return p.page.Evaluate(script, args[0])
	}
	return p.page.Evaluate(script)
}

func (p *playwrightPage) Screenshot(_ context.Context) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypeJpeg,
		Quality:  playwright.Int(70),
	})
}

func (p *playwrightPage) URL(_ context.Context) string { return p.page.URL() }

func (p *playwrightPage) Title(_ context.Context) (string, error) { return p.page.Title() }

func (p *playwrightPage) Click(_ context.Context, locator string) error {
	if err := p.page.Locator(locator).First().ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return p.page.Click(locator)
}

func (p *playwrightPage) Fill(_ context.Context, locator, value string) error {
	return p.page.Fill(locator, value)
}

func (p *playwrightPage) Type(_ context.Context, locator, text string) error {
	return p.page.Locator(locator).First().PressSequentially(text)
}

func (p *playwrightPage) Press(_ context.Context, locator, key string) error {
	return p.page.Press(locator, key)
}

func (p *playwrightPage) Check(_ context.Context, locator string) error {
	return p.page.Check(locator)
}

func (p *playwrightPage) Uncheck(_ context.Context, locator string) error {
	return p.page.Uncheck(locator)
}

func (p *playwrightPage) SelectOption(_ context.Context, locator string, values ...string) error {
	_, err := p.page.SelectOption(locator, playwright.SelectOptionValues{Values: &values})
	return err
}

func (p *playwrightPage) Hover(_ context.Context, locator string) error {
	return p.page.Hover(locator)
}

func (p *playwrightPage) Focus(_ context.Context, locator string) error {
	return p.page.Focus(locator)
}

func (p *playwrightPage) ScrollIntoView(_ context.Context, locator string) error {
	return p.page.Locator(locator).First().ScrollIntoViewIfNeeded()
}

func (p *playwrightPage) ProcessDom(ctx context.Context, seenChunks []int) (*dom.Snapshot, error) {
	if err := p.ensureInjected(ctx); err != nil {
		return nil, err
	}
	if seenChunks == nil {
		seenChunks = []int{}
	}
	res, err := p.page.Evaluate(`(seen) => window.__browserpilot.processDom(seen)`, seenChunks)
	if err != nil {
		return nil, fmt.Errorf("processDom failed: %w", err)
	}
	return decodeSnapshot(res)
}

func (p *playwrightPage) ProcessAllOfDom(ctx context.Context) (*dom.Snapshot, error) {
	if err := p.ensureInjected(ctx); err != nil {
		return nil, err
	}
	res, err := p.page.Evaluate(`() => window.__browserpilot.processAllOfDom()`)
	if err != nil {
		return nil, fmt.Errorf("processAllOfDom failed: %w", err)
	}
	return decodeSnapshot(res)
}

func (p *playwrightPage) WaitForDomSettle(ctx context.Context) error {
	if err := p.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := p.page.Evaluate(`() => window.__browserpilot.waitForDomSettle()`)
	return err
}

func (p *playwrightPage) DebugDom(ctx context.Context, locators []string) error {
	if err := p.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := p.page.Evaluate(`(locs) => window.__browserpilot.debugDom(locs)`, locators)
	return err
}

func (p *playwrightPage) CleanupDebug(ctx context.Context) error {
	if err := p.ensureInjected(ctx); err != nil {
		return err
	}
	_, err := p.page.Evaluate(`() => window.__browserpilot.cleanupDebug()`)
	return err
}

func (p *playwrightPage) Close() error { return p.page.Close() }

// ensureInjected covers pages that navigated before the init script was
// registered.
func (p *playwrightPage) ensureInjected(_ context.Context) error {
	present, err := p.page.Evaluate(ensureScriptProbe)
	if err == nil {
		if ok, _ := present.(bool); ok {
			return nil
		}
	}
	if _, err := p.page.Evaluate(InjectedScript); err != nil {
		return fmt.Errorf("inject serializer failed: %w", err)
	}
	return nil
}
