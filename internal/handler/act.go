// Package handler runs the act state machine: one action instruction is
// planned against a DOM snapshot, each planned step is resolved to a concrete
// locator and executed, and the loop re-plans from a fresh snapshot whenever
// a reference goes stale or a step fails. Callers always get a typed result;
// internal faults never escape as raw errors.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot/internal/browser"
	"github.com/browserpilot/browserpilot/internal/dom"
	"github.com/browserpilot/browserpilot/internal/inference"
	"github.com/browserpilot/browserpilot/internal/llm"
)

// VisionMode selects how screenshots participate in planning.
type VisionMode string

const (
	VisionOff      VisionMode = "off"
	VisionOn       VisionMode = "on"
	VisionFallback VisionMode = "fallback"
)

// Methods the model is allowed to request. Anything else is rejected before
// execution.
var allowedMethods = map[string]struct{}{
	"click":          {},
	"fill":           {},
	"type":           {},
	"press":          {},
	"check":          {},
	"uncheck":        {},
	"selectOption":   {},
	"hover":          {},
	"focus":          {},
	"scrollIntoView": {},
	"goto":           {},
}

// PageControls are callbacks borrowed from the orchestrator; the handler
// never owns the page lifecycle.
type PageControls struct {
	WaitForSettle func(ctx context.Context) error
	StartDebug    func(ctx context.Context, locators []string)
	CleanupDebug  func(ctx context.Context)
}

// Request is one action instruction plus its execution options.
type Request struct {
	Action    string
	Model     string
	Variables map[string]string
	Vision    VisionMode
	Verify    bool
	RequestID string
}

// Result is the typed outcome returned to the caller.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// Handler drives act requests against one page.
type Handler struct {
	page      browser.Page
	client    llm.Client
	controls  PageControls
	logger    *zap.Logger
	maxRounds int
	gen       atomic.Uint64
}

type Option func(*Handler)

// WithMaxRounds bounds how many plan/execute rounds one instruction may take.
func WithMaxRounds(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxRounds = n
		}
	}
}

func New(page browser.Page, client llm.Client, controls PageControls, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		page:      page,
		client:    client,
		controls:  controls,
		logger:    logger.Named("act"),
		maxRounds: 10,
	}
	if h.controls.WaitForSettle == nil {
		h.controls.WaitForSettle = func(context.Context) error { return nil }
	}
	if h.controls.StartDebug == nil {
		h.controls.StartDebug = func(context.Context, []string) {}
	}
	if h.controls.CleanupDebug == nil {
		h.controls.CleanupDebug = func(context.Context) {}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Act runs one instruction to completion or typed failure.
func (h *Handler) Act(ctx context.Context, req Request) (res Result) {
	res = Result{Action: req.Action}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("act panicked", zap.Any("panic", r))
			res = Result{Success: false, Message: fmt.Sprintf("internal error: %v", r), Action: req.Action}
		}
	}()

	if strings.TrimSpace(req.Action) == "" {
		res.Message = "empty action instruction"
		return res
	}

	useVision := false
	switch req.Vision {
	case VisionOn, VisionFallback:
		if llm.SupportsVision(req.Model) {
			useVision = req.Vision == VisionOn
		} else {
			h.logger.Warn("vision requested but model is not vision capable, using text DOM",
				zap.String("model", req.Model))
		}
	}

	var (
		chunksSeen        []int
		previousSelectors []string
		executed          []string
		forceRefresh      bool
	)

	for round := 0; round < h.maxRounds; round++ {
		if err := h.controls.WaitForSettle(ctx); err != nil {
			res.Message = fmt.Sprintf("wait for settled dom: %v", err)
			return res
		}

		snap, err := h.page.ProcessDom(ctx, chunksSeen)
		if err != nil {
			res.Message = fmt.Sprintf("dom serialization: %v", err)
			return res
		}
		snap.Generation = h.gen.Add(1)

		var screenshot []byte
		if useVision {
			screenshot, err = h.page.Screenshot(ctx)
			if err != nil {
				h.logger.Warn("screenshot failed, planning from text", zap.Error(err))
				screenshot = nil
			}
		}

		plan, err := h.plan(ctx, req, snap, previousSelectors, executed, screenshot, forceRefresh)
		forceRefresh = false
		if err != nil {
			res.Message = fmt.Sprintf("planning: %v", err)
			return res
		}

		h.logger.Debug("planning round",
			zap.Int("round", round),
			zap.Int("steps", len(plan.Steps)),
			zap.Bool("completed", plan.Completed),
			zap.Int("chunk", snap.Chunk),
			zap.Int("chunks", snap.Chunks))

		if len(plan.Steps) == 0 {
			if plan.Completed {
				if ok, msg := h.maybeVerify(ctx, req, executed); !ok {
					previousSelectors = appendUnique(previousSelectors, "verification failed: "+msg)
					forceRefresh = true
					continue
				}
				res.Success = true
				res.Message = "action completed"
				return res
			}
			// Nothing actionable here; page through unseen chunks before
			// giving up.
			chunksSeen = appendChunk(chunksSeen, snap.Chunk)
			if snap.Remaining(chunksSeen) > 0 {
				continue
			}
			res.Message = "no actionable step found for instruction"
			return res
		}

		replan := false
		for _, step := range plan.Steps {
			if _, ok := allowedMethods[step.Method]; !ok {
				h.logger.Warn("model proposed disallowed method", zap.String("method", step.Method))
				previousSelectors = appendUnique(previousSelectors,
					fmt.Sprintf("disallowed method %q", step.Method))
				forceRefresh = true
				replan = true
				break
			}

			locator := ""
			if step.Method != "goto" {
				locator, err = snap.Resolve(step.ElementID, snap.Generation)
				if err != nil {
					var stale *dom.StaleIDError
					if errors.As(err, &stale) {
						h.logger.Info("stale element reference, re-planning",
							zap.String("element", step.ElementID))
						previousSelectors = appendUnique(previousSelectors,
							fmt.Sprintf("element id %s (not present)", step.ElementID))
						forceRefresh = true
						replan = true
						break
					}
					res.Message = fmt.Sprintf("resolve element: %v", err)
					return res
				}
			}

			args := substituteVariables(step.Args, req.Variables)

			h.controls.StartDebug(ctx, []string{locator})
			execErr := h.execute(ctx, step.Method, locator, args)
			h.controls.CleanupDebug(ctx)

			if execErr != nil {
				h.logger.Warn("step execution failed, re-planning",
					zap.String("method", step.Method),
					zap.String("locator", locator),
					zap.Error(execErr))
				previousSelectors = appendUnique(previousSelectors, locator)
				forceRefresh = true
				replan = true
				break
			}

			// History keeps the raw template args so substituted secrets
			// never appear in prompts or logs.
			executed = append(executed, fmt.Sprintf("%s %s %v", step.Method, locator, step.Args))
			h.logger.Info("step executed",
				zap.String("method", step.Method),
				zap.String("locator", locator))
		}
		if replan {
			continue
		}

		if plan.Completed {
			if ok, msg := h.maybeVerify(ctx, req, executed); !ok {
				previousSelectors = appendUnique(previousSelectors, "verification failed: "+msg)
				forceRefresh = true
				continue
			}
			res.Success = true
			res.Message = "action completed"
			return res
		}
	}

	res.Message = fmt.Sprintf("action not completed within %d planning rounds", h.maxRounds)
	return res
}

func (h *Handler) plan(ctx context.Context, req Request, snap *dom.Snapshot, previousSelectors, executed []string, screenshot []byte, forceRefresh bool) (*inference.ActPlan, error) {
	keys := make([]string, 0, len(req.Variables))
	for k := range req.Variables {
		keys = append(keys, k)
	}
	llmReq := inference.BuildAct(inference.ActParams{
		Instruction:       req.Action,
		DOMText:           snap.OutputString,
		StepsExecuted:     executed,
		PreviousSelectors: previousSelectors,
		VariableKeys:      keys,
		Chunk:             snap.Chunk,
		Chunks:            snap.Chunks,
		Model:             req.Model,
		RequestID:         req.RequestID,
		Screenshot:        screenshot,
		ForceRefresh:      forceRefresh,
	})
	resp, err := h.client.CreateChatCompletion(ctx, llmReq)
	if err != nil {
		return nil, err
	}
	return inference.ParseAct(resp)
}

// maybeVerify re-observes the page to confirm the action's visible effect.
// Verification errors are logged and treated as confirmation; they must not
// turn a completed action into a failure.
func (h *Handler) maybeVerify(ctx context.Context, req Request, executed []string) (bool, string) {
	if !req.Verify && req.Vision != VisionFallback {
		return true, ""
	}

	snap, err := h.page.ProcessAllOfDom(ctx)
	if err != nil {
		h.logger.Warn("verification snapshot failed", zap.Error(err))
		return true, ""
	}

	var screenshot []byte
	if (req.Vision == VisionOn || req.Vision == VisionFallback) && llm.SupportsVision(req.Model) {
		screenshot, _ = h.page.Screenshot(ctx)
	}

	resp, err := h.client.CreateChatCompletion(ctx, inference.BuildVerify(inference.VerifyParams{
		Instruction:   req.Action,
		StepsExecuted: executed,
		DOMText:       snap.OutputString,
		Model:         req.Model,
		RequestID:     req.RequestID,
		Screenshot:    screenshot,
	}))
	if err != nil {
		h.logger.Warn("verification call failed", zap.Error(err))
		return true, ""
	}
	v, err := inference.ParseVerify(resp)
	if err != nil {
		h.logger.Warn("verification parse failed", zap.Error(err))
		return true, ""
	}
	if !v.Completed {
		h.logger.Info("verification rejected completion", zap.String("reason", v.Reason))
	}
	return v.Completed, v.Reason
}

func (h *Handler) execute(ctx context.Context, method, locator string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch method {
	case "click":
		return h.page.Click(ctx, locator)
	case "fill":
		return h.page.Fill(ctx, locator, arg(0))
	case "type":
		return h.page.Type(ctx, locator, arg(0))
	case "press":
		return h.page.Press(ctx, locator, arg(0))
	case "check":
		return h.page.Check(ctx, locator)
	case "uncheck":
		return h.page.Uncheck(ctx, locator)
	case "selectOption":
		return h.page.SelectOption(ctx, locator, args...)
	case "hover":
		return h.page.Hover(ctx, locator)
	case "focus":
		return h.page.Focus(ctx, locator)
	case "scrollIntoView":
		return h.page.ScrollIntoView(ctx, locator)
	case "goto":
		return h.page.Goto(ctx, arg(0))
	default:
		return fmt.Errorf("unknown method %q", method)
	}
}

// substituteVariables expands %name% placeholders right before execution.
// The substituted values are never logged or fed back into prompts.
func substituteVariables(args []string, variables map[string]string) []string {
	if len(variables) == 0 || len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		for k, v := range variables {
			a = strings.ReplaceAll(a, "%"+k+"%", v)
		}
		out[i] = a
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}

func appendChunk(seen []int, chunk int) []int {
	for _, c := range seen {
		if c == chunk {
			return seen
		}
	}
	return append(seen, chunk)
}
