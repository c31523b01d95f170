// Package browser adapts concrete automation runtimes (playwright, CDP) to
// the narrow page capability the pipeline consumes. The pipeline never holds
// a runtime handle directly; everything goes through Page.
package browser

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/browserpilot/browserpilot/internal/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Load states understood by WaitForLoadState.
const (
	LoadStateLoad             = "load"
	LoadStateDomcontentloaded = "domcontentloaded"
	LoadStateNetworkidle      = "networkidle"
)

// Page is the capability contract required from a browser page. It covers
// navigation, element interaction primitives addressed by locator strings
// ("xpath=..." or css), and the injected in-page serializer functions.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForLoadState(ctx context.Context, state string) error
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) string
	Title(ctx context.Context) (string, error)

	Click(ctx context.Context, locator string) error
	Fill(ctx context.Context, locator, value string) error
	Type(ctx context.Context, locator, text string) error
	Press(ctx context.Context, locator, key string) error
	Check(ctx context.Context, locator string) error
	Uncheck(ctx context.Context, locator string) error
	SelectOption(ctx context.Context, locator string, values ...string) error
	Hover(ctx context.Context, locator string) error
	Focus(ctx context.Context, locator string) error
	ScrollIntoView(ctx context.Context, locator string) error

	// ProcessDom returns the next unseen chunk of the serialized DOM.
	ProcessDom(ctx context.Context, seenChunks []int) (*dom.Snapshot, error)
	// ProcessAllOfDom returns the whole page in one pass.
	ProcessAllOfDom(ctx context.Context) (*dom.Snapshot, error)
	// WaitForDomSettle resolves once the page reports no recent mutations.
	WaitForDomSettle(ctx context.Context) error
	// DebugDom highlights the given locators; CleanupDebug removes overlays.
	DebugDom(ctx context.Context, locators []string) error
	CleanupDebug(ctx context.Context) error

	Close() error
}

// decodeSnapshot converts the JSON-ish value returned from the in-page
// serializer into a Snapshot. Generation stamping is the caller's job.
func decodeSnapshot(v any) (*dom.Snapshot, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	snap := &dom.Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, err
	}
	if snap.SelectorMap == nil {
		snap.SelectorMap = map[string]string{}
	}
	if snap.Chunks < 1 {
		snap.Chunks = 1
	}
	return snap, nil
}
