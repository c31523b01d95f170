package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/browserpilot/browserpilot/internal/cache"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultSchemaRetries bounds how often a malformed structured response is
// re-requested before giving up. A cost cap, not a correctness guarantee.
const DefaultSchemaRetries = 5

// CachingClient wraps a backend with the response cache, a retry loop for
// malformed structured output, and single-flight collapsing of identical
// concurrent calls. It is the only Client the rest of the pipeline sees.
type CachingClient struct {
	inner   Client
	store   cache.Store
	enabled bool
	retries int
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger
}

type CachingOption func(*CachingClient)

// WithSchemaRetries overrides the structured-output retry bound.
func WithSchemaRetries(n int) CachingOption {
	return func(c *CachingClient) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRateLimit throttles outgoing provider calls.
func WithRateLimit(rps float64, burst int) CachingOption {
	return func(c *CachingClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewCachingClient(inner Client, store cache.Store, enabled bool, logger *zap.Logger, opts ...CachingOption) *CachingClient {
	c := &CachingClient{
		inner:   inner,
		store:   store,
		enabled: enabled && store != nil,
		retries: DefaultSchemaRetries,
		logger:  logger.Named("llm_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachingClient) CreateChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	fp := Fingerprint(req)

	if c.enabled && !req.ForceRefresh {
		if raw, ok, err := c.store.Get(ctx, fp); err == nil && ok {
			var resp Response
			if err := jsonit.Unmarshal(raw, &resp); err == nil {
				c.logger.Debug("cache hit", zap.String("fingerprint", fp[:12]))
				return &resp, nil
			}
		} else if err != nil {
			c.logger.Warn("cache read failed", zap.Error(err))
		}
	}

	v, err, _ := c.group.Do(fp, func() (any, error) {
		return c.complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*Response)

	if c.enabled {
		if raw, err := jsonit.Marshal(resp); err == nil {
			if err := c.store.Set(ctx, fp, req.RequestID, raw); err != nil {
				c.logger.Warn("cache write failed", zap.Error(err))
			}
		}
	}
	return resp, nil
}

// complete performs the provider call with the retry policy: transient rate
// limits back off exponentially, malformed structured output is re-requested
// up to the retry bound.
func (c *CachingClient) complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.inner.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if isRateLimited(err) {
				delay := time.Duration(3*(1<<attempt)) * time.Second
				c.logger.Warn("rate limited, backing off",
					zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, err
		}

		if req.ResponseSchema != nil {
			if _, serr := resp.Structured(); serr != nil {
				lastErr = serr
				c.logger.Warn("malformed structured output, retrying",
					zap.Int("attempt", attempt+1), zap.Error(serr))
				continue
			}
		}
		return resp, nil
	}
	return nil, &SchemaRetryError{Attempts: c.retries, Last: lastErr}
}

// PurgeRequest removes every cache entry written under a request id.
func (c *CachingClient) PurgeRequest(ctx context.Context, requestID string) error {
	if !c.enabled {
		return nil
	}
	return c.store.PurgeRequest(ctx, requestID)
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

// fingerprintEnvelope pins down exactly which request inputs participate in
// content addressing. Anything not listed here (request id, refresh flag,
// image bytes) deliberately does not affect the key.
type fingerprintEnvelope struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature float32        `json:"temperature"`
	HasImage    bool           `json:"hasImage"`
	Schema      map[string]any `json:"schema,omitempty"`
	Tools       []Tool         `json:"tools,omitempty"`
}

// Fingerprint computes the deterministic cache key of a request.
func Fingerprint(req *Request) string {
	env := fingerprintEnvelope{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		HasImage:    req.Image != nil,
		Schema:      req.ResponseSchema,
		Tools:       req.Tools,
	}
	raw, err := jsonit.Marshal(env)
	if err != nil {
		// Marshal of plain structs and maps cannot realistically fail;
		// fall back to an uncacheable key if it somehow does.
		return "unfingerprintable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
