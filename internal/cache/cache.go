// Package cache is a content-addressed store for structured model responses.
//
// Keys are request fingerprints computed by the LLM client; values are the
// normalized response bytes. Entries are never mutated: they are inserted,
// read, or deleted through the requestID index. The requestID index exists so
// a failed multi-step run can purge exactly the entries it wrote without
// touching unrelated requests that share the fingerprint space.
package cache

import "context"

// Store is the response cache contract.
type Store interface {
	// Get returns the cached value for a fingerprint, if present.
	Get(ctx context.Context, fingerprint string) ([]byte, bool, error)
	// Set stores a value under a fingerprint and records the fingerprint
	// against the request id for later targeted invalidation. Writing the
	// same fingerprint twice is allowed; the value is a pure function of
	// the key, so last write wins.
	Set(ctx context.Context, fingerprint, requestID string, value []byte) error
	// PurgeRequest removes every entry recorded under the request id.
	PurgeRequest(ctx context.Context, requestID string) error
}
