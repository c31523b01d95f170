package browserpilot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot/internal/cache"
	"github.com/browserpilot/browserpilot/internal/config"
	"github.com/browserpilot/browserpilot/internal/dom"
	"github.com/browserpilot/browserpilot/internal/llm"
	"github.com/browserpilot/browserpilot/internal/logging"
)

type stubPage struct {
	snapshots   []*dom.Snapshot
	domCalls    int
	seenHistory [][]int
	actions     []string
}

func (f *stubPage) Goto(_ context.Context, url string) error {
	f.actions = append(f.actions, "goto "+url)
	return nil
}
func (f *stubPage) WaitForLoadState(context.Context, string) error { return nil }
func (f *stubPage) Evaluate(context.Context, string, ...any) (any, error) {
	return true, nil
}
func (f *stubPage) Screenshot(context.Context) ([]byte, error) { return []byte{0xff}, nil }
func (f *stubPage) URL(context.Context) string                 { return "https://example.test" }
func (f *stubPage) Title(context.Context) (string, error)      { return "Example", nil }
func (f *stubPage) Click(_ context.Context, locator string) error {
	f.actions = append(f.actions, "click "+locator)
	return nil
}
func (f *stubPage) Fill(_ context.Context, locator, value string) error {
	f.actions = append(f.actions, "fill "+locator+" "+value)
	return nil
}
func (f *stubPage) Type(context.Context, string, string) error  { return nil }
func (f *stubPage) Press(context.Context, string, string) error { return nil }
func (f *stubPage) Check(context.Context, string) error         { return nil }
func (f *stubPage) Uncheck(context.Context, string) error       { return nil }
func (f *stubPage) SelectOption(context.Context, string, ...string) error {
	return nil
}
func (f *stubPage) Hover(context.Context, string) error          { return nil }
func (f *stubPage) Focus(context.Context, string) error          { return nil }
func (f *stubPage) ScrollIntoView(context.Context, string) error { return nil }
func (f *stubPage) ProcessDom(_ context.Context, seenChunks []int) (*dom.Snapshot, error) {
	f.seenHistory = append(f.seenHistory, append([]int(nil), seenChunks...))
	idx := f.domCalls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.domCalls++
	snap := *f.snapshots[idx]
	return &snap, nil
}
func (f *stubPage) ProcessAllOfDom(ctx context.Context) (*dom.Snapshot, error) {
	return f.ProcessDom(ctx, nil)
}
func (f *stubPage) WaitForDomSettle(context.Context) error   { return nil }
func (f *stubPage) DebugDom(context.Context, []string) error { return nil }
func (f *stubPage) CleanupDebug(context.Context) error       { return nil }
func (f *stubPage) Close() error                             { return nil }

type scriptedBackend struct {
	payloads []string
	errAt    map[int]error
	requests []*llm.Request
}

func (s *scriptedBackend) CreateChatCompletion(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	call := len(s.requests)
	if err, ok := s.errAt[call]; ok {
		return nil, err
	}
	idx := call - 1
	if idx >= len(s.payloads) {
		idx = len(s.payloads) - 1
	}
	return &llm.Response{
		Role:   llm.RoleAssistant,
		Blocks: []llm.ContentBlock{{Type: llm.BlockText, Text: s.payloads[idx]}},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:              config.EnvLocal,
		Model:            "gpt-4o",
		EnableCaching:    true,
		InferenceRetries: 5,
		DOMSettleTimeout: 100 * time.Millisecond,
	}
}

func newTestPilot(t *testing.T, page *stubPage, client llm.Client) *Pilot {
	t.Helper()
	p := New(testConfig(),
		WithLogger(zap.NewNop()),
		WithPage(page),
		WithLLMClient(client),
	)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestMethodsBeforeStart(t *testing.T) {
	p := New(testConfig())

	_, err := p.Act(context.Background(), "click")
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = p.Observe(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = p.Extract(context.Background(), "get prices")
	assert.ErrorIs(t, err, ErrNotStarted)

	assert.ErrorIs(t, p.Goto(context.Background(), "https://example.test"), ErrNotStarted)
}

func TestActDelegatesAndSucceeds(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{
		OutputString: `[7] <button label="Login">`,
		Chunks:       1,
		SelectorMap:  map[string]string{"7": "xpath=//button[1]"},
	}}}
	client := &scriptedBackend{payloads: []string{
		`{"steps":[{"method":"click","element":"7","args":[]}],"completed":true}`,
	}}
	p := newTestPilot(t, page, client)

	res, err := p.Act(context.Background(), "click the login button")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"click xpath=//button[1]"}, page.actions)
}

func TestExtractPagesThroughChunksAndMerges(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{
		{OutputString: "row one $5", Chunk: 0, Chunks: 2, SelectorMap: map[string]string{}},
		{OutputString: "row two $9", Chunk: 1, Chunks: 2, SelectorMap: map[string]string{}},
	}}
	client := &scriptedBackend{payloads: []string{
		`{"prices":[5],"store":"first","metadata":{"progress":"one row","completed":false}}`,
		`{"prices":[5,9],"metadata":{"progress":"all rows","completed":true}}`,
	}}
	p := newTestPilot(t, page, client)

	fields, err := p.Extract(context.Background(), "collect all prices", ExtractOptions{
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"prices": map[string]any{"type": "array"}},
		},
	})
	require.NoError(t, err)

	// Exactly one inference call per chunk.
	assert.Len(t, client.requests, 2)
	require.Len(t, page.seenHistory, 2)
	assert.Empty(t, page.seenHistory[0])
	assert.Equal(t, []int{0}, page.seenHistory[1])

	// Later chunks win on conflicting keys, earlier-only keys survive, and
	// the bookkeeping never leaks to the caller.
	assert.Equal(t, []any{5.0, 9.0}, fields["prices"])
	assert.Equal(t, "first", fields["store"])
	assert.NotContains(t, fields, "metadata")

	// The second prompt carries the first chunk's output forward.
	assert.Contains(t, client.requests[1].Messages[1].Content, "one row")
}

func TestExtractStopsEarlyWhenModelReportsCompleted(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{
		{OutputString: "everything on one screen", Chunk: 0, Chunks: 3, SelectorMap: map[string]string{}},
	}}
	client := &scriptedBackend{payloads: []string{
		`{"title":"done","metadata":{"completed":true}}`,
	}}
	p := newTestPilot(t, page, client)

	fields, err := p.Extract(context.Background(), "get the title")
	require.NoError(t, err)
	assert.Len(t, client.requests, 1)
	assert.Equal(t, "done", fields["title"])
}

func TestExtractFailurePurgesCachedResponses(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{
		{OutputString: "chunk a", Chunk: 0, Chunks: 2, SelectorMap: map[string]string{}},
		{OutputString: "chunk b", Chunk: 1, Chunks: 2, SelectorMap: map[string]string{}},
	}}
	backend := &scriptedBackend{
		payloads: []string{`{"prices":[5],"metadata":{"completed":false}}`},
		errAt:    map[int]error{2: errors.New("provider exploded")},
	}
	store := cache.NewMemoryStore()
	caching := llm.NewCachingClient(backend, store, true, zap.NewNop())
	p := newTestPilot(t, page, caching)

	_, err := p.Extract(context.Background(), "collect all prices")
	require.Error(t, err)

	var exErr *ExtractError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "collect all prices", exErr.Instruction)

	// The first chunk's cached response was written, then purged on failure.
	assert.Equal(t, 0, store.Len())
}

func TestExtractIntoDecodesStruct(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{
		{OutputString: "Widget $19.99", Chunks: 1, SelectorMap: map[string]string{}},
	}}
	client := &scriptedBackend{payloads: []string{
		`{"title":"Widget","price":19.99,"metadata":{"completed":true}}`,
	}}
	p := newTestPilot(t, page, client)

	var dest struct {
		Title string  `json:"title"`
		Price float64 `json:"price"`
	}
	require.NoError(t, p.ExtractInto(context.Background(), "get the listing", &dest))
	assert.Equal(t, "Widget", dest.Title)
	assert.InDelta(t, 19.99, dest.Price, 0.001)
}

func TestObserveDropsUnknownElements(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{
		OutputString: `[1] <a label="Docs"> [2] <button label="Search">`,
		Chunks:       1,
		SelectorMap: map[string]string{
			"1": "xpath=//a[1]",
			"2": "xpath=//button[1]",
		},
	}}}
	client := &scriptedBackend{payloads: []string{`{
		"elements": [
			{"elementId": "2", "description": "search button"},
			{"elementId": "42", "description": "invented by the model"}
		]
	}`}}
	p := newTestPilot(t, page, client)

	results, err := p.Observe(context.Background(), ObserveOptions{Instruction: "find the search"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "xpath=//button[1]", results[0].Selector)
	assert.Equal(t, "search button", results[0].Description)
}

func TestObserveRecordsResultsByInstruction(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{
		OutputString: `[1] <a label="Docs">`,
		Chunks:       1,
		SelectorMap:  map[string]string{"1": "xpath=//a[1]"},
	}}}
	client := &scriptedBackend{payloads: []string{
		`{"elements":[{"elementId":"1","description":"docs link"}]}`,
	}}
	p := newTestPilot(t, page, client)

	_, err := p.Observe(context.Background(), ObserveOptions{Instruction: "find the docs link"})
	require.NoError(t, err)

	recorded := p.Observations("find the docs link")
	require.Len(t, recorded, 1)
	assert.Equal(t, "docs link", recorded[0].Description)

	assert.Empty(t, p.Observations("some other instruction"))
}

func TestObserveFailureIsTyped(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{
		OutputString: "page",
		Chunks:       1,
		SelectorMap:  map[string]string{},
	}}}
	client := &scriptedBackend{errAt: map[int]error{1: fmt.Errorf("provider exploded")}}
	p := newTestPilot(t, page, client)

	_, err := p.Observe(context.Background())
	var obsErr *ObserveError
	require.ErrorAs(t, err, &obsErr)
	assert.NotEmpty(t, obsErr.RequestID)
}

func TestActFeedsLogMirror(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{
		OutputString: `[7] <button label="Login">`,
		Chunks:       1,
		SelectorMap:  map[string]string{"7": "xpath=//button[1]"},
	}}}
	client := &scriptedBackend{payloads: []string{
		`{"steps":[{"method":"click","element":"7","args":[]}],"completed":true}`,
	}}

	entries := make(chan logging.Entry, 4)
	p := New(testConfig(),
		WithLogger(zap.NewNop()),
		WithPage(page),
		WithLLMClient(client),
		WithLogMirror(func(_ context.Context, e logging.Entry) { entries <- e }),
	)
	require.NoError(t, p.Start(context.Background()))

	_, err := p.Act(context.Background(), "click the login button")
	require.NoError(t, err)

	select {
	case e := <-entries:
		assert.Equal(t, "act", e.Category)
		assert.Equal(t, "info", e.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror entry never delivered")
	}
}

func TestGotoDelegates(t *testing.T) {
	page := &stubPage{snapshots: []*dom.Snapshot{{Chunks: 1, SelectorMap: map[string]string{}}}}
	p := newTestPilot(t, page, &scriptedBackend{payloads: []string{`{}`}})

	require.NoError(t, p.Goto(context.Background(), "https://example.test/login"))
	assert.Equal(t, []string{"goto https://example.test/login"}, page.actions)
}
