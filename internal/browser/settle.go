package browser

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WaitForSettledDom blocks until the DOM looks unlikely to mutate further,
// racing four conditions and proceeding on whichever resolves first:
//
//  1. the in-page mutation-quiet signal,
//  2. the page load-state,
//  3. presence of a root element,
//  4. the timeout.
//
// The timeout is non-fatal: it is logged and the page is treated as settled
// enough.
func WaitForSettledDom(ctx context.Context, page Page, timeout time.Duration, logger *zap.Logger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan string, 3)
	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		if err := page.WaitForDomSettle(raceCtx); err == nil {
			done <- "dom-settle"
		}
	}()
	go func() {
		if err := page.WaitForLoadState(raceCtx, LoadStateDomcontentloaded); err == nil {
			done <- "load-state"
		}
	}()
	go func() {
		for raceCtx.Err() == nil {
			res, err := page.Evaluate(raceCtx, `!!document.body`)
			if err == nil {
				if ok, _ := res.(bool); ok {
					done <- "root-element"
					return
				}
			}
			select {
			case <-time.After(100 * time.Millisecond):
			case <-raceCtx.Done():
				return
			}
		}
	}()

	select {
	case source := <-done:
		logger.Debug("dom settled", zap.String("source", source))
		return nil
	case <-time.After(timeout):
		logger.Warn("dom settle timed out, continuing", zap.Duration("timeout", timeout))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
