// Package browserpilot drives a real browser through natural-language
// instructions. Act executes an instruction, Observe reports actionable
// elements, and Extract pulls structured data off the page; all three go
// through one model-inference pipeline with response caching.
package browserpilot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot/internal/browser"
	"github.com/browserpilot/browserpilot/internal/cache"
	"github.com/browserpilot/browserpilot/internal/config"
	"github.com/browserpilot/browserpilot/internal/handler"
	"github.com/browserpilot/browserpilot/internal/inference"
	"github.com/browserpilot/browserpilot/internal/llm"
	"github.com/browserpilot/browserpilot/internal/logging"
	"github.com/browserpilot/browserpilot/internal/schema"
	"github.com/browserpilot/browserpilot/internal/session"
)

// Pilot is the top-level pipeline. One Pilot owns one page.
type Pilot struct {
	cfg     *config.Config
	logger  *zap.Logger
	manager *browser.Manager
	page    browser.Page
	client  llm.Client
	caching *llm.CachingClient
	act     *handler.Handler
	mirror  *logging.Mirror
	gen     atomic.Uint64

	started  bool
	debugURL string

	mu           sync.Mutex
	observations map[string][]ObserveResult
}

// Option configures a Pilot before Start.
type Option func(*Pilot)

// WithLogger replaces the default logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pilot) { p.logger = l }
}

// WithPage injects an already-running page, skipping browser startup. Mainly
// for tests and embedders that manage the browser themselves.
func WithPage(page browser.Page) Option {
	return func(p *Pilot) { p.page = page }
}

// WithLLMClient injects a model client, skipping provider construction.
func WithLLMClient(c llm.Client) Option {
	return func(p *Pilot) { p.client = c }
}

// WithLogMirror forwards pipeline events to an external sink (e.g. the
// hosted session viewer). Delivery is best effort and never blocks a call.
func WithLogMirror(sink logging.Sink) Option {
	return func(p *Pilot) { p.mirror = logging.NewMirror(sink, p.logger) }
}

// New builds a Pilot from resolved configuration. Nothing starts until
// Start is called.
func New(cfg *config.Config, opts ...Option) *Pilot {
	p := &Pilot{
		cfg:          cfg,
		logger:       zap.NewNop(),
		observations: make(map[string][]ObserveResult),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches (or attaches to) the browser and wires the inference
// pipeline.
func (p *Pilot) Start(ctx context.Context) error {
	if p.started {
		return nil
	}

	if p.page == nil {
		if err := p.startBrowser(ctx); err != nil {
			return err
		}
	}

	if p.client == nil {
		inner, err := p.buildProviderClient()
		if err != nil {
			return err
		}
		p.caching = llm.NewCachingClient(inner, p.buildCacheStore(), p.cfg.EnableCaching, p.logger,
			llm.WithSchemaRetries(p.cfg.InferenceRetries))
		p.client = p.caching
	} else if cc, ok := p.client.(*llm.CachingClient); ok {
		p.caching = cc
	}

	controls := handler.PageControls{
		WaitForSettle: func(ctx context.Context) error {
			return browser.WaitForSettledDom(ctx, p.page, p.cfg.DOMSettleTimeout, p.logger)
		},
	}
	// Highlighting repaints the page, so it only runs in debug sessions.
	if p.cfg.Verbose {
		controls.StartDebug = func(ctx context.Context, locators []string) {
			if err := p.page.DebugDom(ctx, locators); err != nil {
				p.logger.Debug("debug highlight failed", zap.Error(err))
			}
		}
		controls.CleanupDebug = func(ctx context.Context) {
			if err := p.page.CleanupDebug(ctx); err != nil {
				p.logger.Debug("debug cleanup failed", zap.Error(err))
			}
		}
	}
	p.act = handler.New(p.page, p.client, controls, p.logger)

	p.started = true
	return nil
}

func (p *Pilot) startBrowser(ctx context.Context) error {
	switch p.cfg.Env {
	case config.EnvRemote:
		provider, err := session.NewProvider(p.cfg.BrowserbaseAPIKey, p.cfg.BrowserbaseProjectID, p.logger)
		if err != nil {
			return err
		}
		var sess *session.Session
		if p.cfg.BrowserbaseSessionID != "" {
			sess, err = provider.ResumeSession(ctx, p.cfg.BrowserbaseSessionID)
		} else {
			sess, err = provider.CreateSession(ctx)
		}
		if err != nil {
			return err
		}
		if u, err := provider.DebugURL(ctx, sess.ID); err == nil {
			p.debugURL = u
			p.logger.Info("session live view", zap.String("url", u))
		}
		m, err := browser.ConnectRemote(sess.ConnectURL, p.logger)
		if err != nil {
			return err
		}
		p.manager = m
	default:
		m, err := browser.NewManager(p.cfg.Headless, p.logger)
		if err != nil {
			return err
		}
		p.manager = m
	}
	p.page = p.manager.Page()
	return nil
}

func (p *Pilot) buildProviderClient() (llm.Client, error) {
	apiKey, err := p.cfg.APIKeyFor(p.cfg.Model)
	if err != nil {
		return nil, err
	}
	if llm.ProviderFor(p.cfg.Model) == "anthropic" {
		return llm.NewAnthropicClient(apiKey, p.logger)
	}
	return llm.NewOpenAIClient(apiKey, p.logger)
}

func (p *Pilot) buildCacheStore() cache.Store {
	if p.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: p.cfg.RedisAddr})
		return cache.NewRedisStore(client, 24*time.Hour)
	}
	return cache.NewMemoryStore()
}

// DebugURL returns the hosted session's live-view link, when running remote.
func (p *Pilot) DebugURL() string { return p.debugURL }

// Goto navigates the page.
func (p *Pilot) Goto(ctx context.Context, url string) error {
	if !p.started {
		return ErrNotStarted
	}
	return p.page.Goto(ctx, url)
}

// Act runs one natural-language action instruction. Failures come back as a
// typed result, never an error, so callers can branch on Success.
func (p *Pilot) Act(ctx context.Context, action string, opts ...ActOptions) (ActResult, error) {
	if !p.started {
		return ActResult{Action: action}, ErrNotStarted
	}
	opt := firstOr(opts, ActOptions{})
	requestID := uuid.NewString()

	res := p.act.Act(ctx, handler.Request{
		Action:    action,
		Model:     p.model(opt.Model),
		Variables: opt.Variables,
		Vision:    handler.VisionMode(visionOr(opt.Vision)),
		Verify:    opt.Verify,
		RequestID: requestID,
	})

	if !res.Success {
		p.purge(ctx, requestID)
	}
	p.mirrorEntry(ctx, "act", res.Message, res.Success)
	return ActResult{Success: res.Success, Message: res.Message, Action: res.Action}, nil
}

// Observe reports actionable elements on the current page. Results are also
// recorded in memory keyed by the instruction, so later calls with the same
// instruction can be correlated.
func (p *Pilot) Observe(ctx context.Context, opts ...ObserveOptions) ([]ObserveResult, error) {
	if !p.started {
		return nil, ErrNotStarted
	}
	opt := firstOr(opts, ObserveOptions{})
	model := p.model(opt.Model)
	requestID := uuid.NewString()

	if err := browser.WaitForSettledDom(ctx, p.page, p.cfg.DOMSettleTimeout, p.logger); err != nil {
		return nil, &ObserveError{Instruction: opt.Instruction, RequestID: requestID, Err: err}
	}

	snap, err := p.page.ProcessAllOfDom(ctx)
	if err != nil {
		return nil, &ObserveError{Instruction: opt.Instruction, RequestID: requestID, Err: err}
	}
	snap.Generation = p.gen.Add(1)

	var screenshot []byte
	if opt.Vision == VisionOn && llm.SupportsVision(model) {
		if screenshot, err = p.page.Screenshot(ctx); err != nil {
			p.logger.Warn("observe screenshot failed", zap.Error(err))
			screenshot = nil
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, inference.BuildObserve(inference.ObserveParams{
		Instruction: opt.Instruction,
		DOMText:     snap.OutputString,
		Model:       model,
		RequestID:   requestID,
		Screenshot:  screenshot,
	}))
	if err != nil {
		p.purge(ctx, requestID)
		return nil, &ObserveError{Instruction: opt.Instruction, RequestID: requestID, Err: err}
	}
	elements, err := inference.ParseObserve(resp)
	if err != nil {
		p.purge(ctx, requestID)
		return nil, &ObserveError{Instruction: opt.Instruction, RequestID: requestID, Err: err}
	}

	// Ids the model invented are dropped; only elements the snapshot can
	// resolve are reported.
	results := make([]ObserveResult, 0, len(elements))
	for _, el := range elements {
		selector, err := snap.Resolve(el.ElementID, snap.Generation)
		if err != nil {
			p.logger.Warn("observation referenced unknown element, dropping",
				zap.String("element", el.ElementID))
			continue
		}
		results = append(results, ObserveResult{Selector: selector, Description: el.Description})
	}

	p.recordObservations(opt.Instruction, results)
	p.mirrorEntry(ctx, "observe", fmt.Sprintf("%d elements reported", len(results)), true)
	return results, nil
}

// Extract pulls structured data off the page, paging through DOM chunks
// until the model reports completion. Chunk results merge last-write-wins.
func (p *Pilot) Extract(ctx context.Context, instruction string, opts ...ExtractOptions) (map[string]any, error) {
	if !p.started {
		return nil, ErrNotStarted
	}
	opt := firstOr(opts, ExtractOptions{})
	model := p.model(opt.Model)
	requestID := uuid.NewString()

	fieldSchema, err := schema.Describe(opt.Schema)
	if err != nil {
		return nil, &ExtractError{Instruction: instruction, RequestID: requestID, Err: err}
	}

	fail := func(err error) (map[string]any, error) {
		p.purge(ctx, requestID)
		return nil, &ExtractError{Instruction: instruction, RequestID: requestID, Err: err}
	}

	content := map[string]any{}
	progress := ""
	var chunksSeen []int

	for {
		if err := browser.WaitForSettledDom(ctx, p.page, p.cfg.DOMSettleTimeout, p.logger); err != nil {
			return fail(err)
		}
		snap, err := p.page.ProcessDom(ctx, chunksSeen)
		if err != nil {
			return fail(err)
		}

		resp, err := p.client.CreateChatCompletion(ctx, inference.BuildExtract(inference.ExtractParams{
			Instruction:     instruction,
			Progress:        progress,
			PreviousContent: content,
			DOMText:         snap.OutputString,
			Schema:          fieldSchema,
			Chunk:           snap.Chunk,
			Chunks:          snap.Chunks,
			ChunksSeen:      len(chunksSeen),
			Model:           model,
			RequestID:       requestID,
		}))
		if err != nil {
			return fail(err)
		}
		fields, meta, err := inference.ParseExtract(resp)
		if err != nil {
			return fail(err)
		}

		for k, v := range fields {
			content[k] = v
		}
		progress = meta.Progress

		chunksSeen = append(chunksSeen, snap.Chunk)
		if meta.Completed || snap.Remaining(chunksSeen) == 0 {
			break
		}
	}

	p.mirrorEntry(ctx, "extract", fmt.Sprintf("%d fields after %d chunks", len(content), len(chunksSeen)), true)
	return content, nil
}

// ExtractInto runs Extract and decodes the merged fields into dest.
func (p *Pilot) ExtractInto(ctx context.Context, instruction string, dest any, opts ...ExtractOptions) error {
	opt := firstOr(opts, ExtractOptions{})
	if opt.Schema == nil {
		opt.Schema = dest
	}
	fields, err := p.Extract(ctx, instruction, opt)
	if err != nil {
		return err
	}
	return schema.DecodeInto(fields, dest)
}

// Observations returns the recorded results for an instruction, if any.
func (p *Pilot) Observations(instruction string) []ObserveResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ObserveResult(nil), p.observations[instructionKey(instruction)]...)
}

// Close shuts the browser down. Safe to call multiple times.
func (p *Pilot) Close() error {
	p.started = false
	if p.manager != nil {
		m := p.manager
		p.manager = nil
		return m.Close()
	}
	return nil
}

func (p *Pilot) model(override string) string {
	if override != "" {
		return override
	}
	return p.cfg.Model
}

func (p *Pilot) mirrorEntry(ctx context.Context, category, message string, ok bool) {
	level := "info"
	if !ok {
		level = "error"
	}
	p.mirror.Send(ctx, logging.Entry{Category: category, Message: message, Level: level})
}

func (p *Pilot) purge(ctx context.Context, requestID string) {
	if p.caching == nil {
		return
	}
	if err := p.caching.PurgeRequest(ctx, requestID); err != nil {
		p.logger.Warn("cache purge failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (p *Pilot) recordObservations(instruction string, results []ObserveResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observations[instructionKey(instruction)] = append([]ObserveResult(nil), results...)
}

func instructionKey(instruction string) string {
	sum := sha256.Sum256([]byte(instruction))
	return hex.EncodeToString(sum[:])
}

func visionOr(v VisionMode) string {
	if v == "" {
		return string(VisionOff)
	}
	return string(v)
}

func firstOr[T any](opts []T, fallback T) T {
	if len(opts) > 0 {
		return opts[0]
	}
	return fallback
}
