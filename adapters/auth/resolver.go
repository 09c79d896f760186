// Package auth resolves presented API keys to caller identities.
//
// Two kinds of credentials are accepted: static keys from the config
// file (plaintext or bcrypt digest) and issued keys minted by the CLI
// and persisted in the key store. Successful verifications are cached
// for a short TTL so the bcrypt cost is paid once per key, not once
// per request.
package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/artpar/llmgate/domain/key"
	"github.com/artpar/llmgate/ports"
)

// StaticKey is one credential from the configuration file. Exactly one
// of Key or Digest should be set.
type StaticKey struct {
	Name   string
	Key    string // plaintext
	Digest string // bcrypt digest of the plaintext
}

// Config configures the resolver.
type Config struct {
	Static   []StaticKey
	CacheTTL time.Duration // default: 60s
}

type cacheEntry struct {
	identity key.Identity
	expires  time.Time
}

// Resolver is the ports.KeyResolver implementation backed by static
// configuration plus the issued key store.
type Resolver struct {
	static   []StaticKey
	store    ports.KeyStore // nil when issued keys are disabled
	hasher   ports.Hasher
	clock    ports.Clock
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a resolver. store may be nil when only static
// keys are configured.
func NewResolver(cfg Config, store ports.KeyStore, hasher ports.Hasher, clk ports.Clock) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	return &Resolver{
		static:   cfg.Static,
		store:    store,
		hasher:   hasher,
		clock:    clk,
		cacheTTL: cfg.CacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// Resolve returns the identity behind a presented key, or
// ports.ErrKeyNotFound. Unknown, malformed and revoked keys are
// deliberately indistinguishable to the caller.
//
// Revoking an issued key takes effect once its cache entry expires,
// one CacheTTL after the last successful use at worst.
func (r *Resolver) Resolve(ctx context.Context, presented string) (key.Identity, error) {
	if presented == "" {
		return key.Identity{}, ports.ErrKeyNotFound
	}

	now := r.clock.Now()
	if id, ok := r.cached(presented, now); ok {
		return id, nil
	}

	// Static plaintext keys compare in constant time.
	for _, s := range r.static {
		if s.Key != "" && subtle.ConstantTimeCompare([]byte(s.Key), []byte(presented)) == 1 {
			return key.Identity{Name: s.Name}, nil
		}
	}

	for _, s := range r.static {
		if s.Digest != "" && r.hasher.Compare([]byte(s.Digest), presented) {
			id := key.Identity{Name: s.Name}
			r.remember(presented, id, now)
			return id, nil
		}
	}

	if r.store == nil {
		return key.Identity{}, ports.ErrKeyNotFound
	}

	prefix, ok := key.ValidateFormat(presented)
	if !ok {
		return key.Identity{}, ports.ErrKeyNotFound
	}

	candidates, err := r.store.Get(ctx, prefix)
	if err != nil {
		return key.Identity{}, err
	}
	for _, k := range candidates {
		if key.Validate(presented, k) != nil {
			continue
		}
		id := key.Identity{Name: k.Name, IssuedID: k.ID}
		r.remember(presented, id, now)
		// Best effort; a failed timestamp update must not fail auth.
		_ = r.store.UpdateLastUsed(ctx, k.ID, now)
		return id, nil
	}

	return key.Identity{}, ports.ErrKeyNotFound
}

func (r *Resolver) cached(presented string, now time.Time) (key.Identity, bool) {
	r.mu.RLock()
	e, ok := r.cache[presented]
	r.mu.RUnlock()
	if !ok || now.After(e.expires) {
		return key.Identity{}, false
	}
	return e.identity, true
}

func (r *Resolver) remember(presented string, id key.Identity, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop expired entries while we hold the lock. The cache only ever
	// holds keys that verified once, so it stays small.
	for k, e := range r.cache {
		if now.After(e.expires) {
			delete(r.cache, k)
		}
	}
	r.cache[presented] = cacheEntry{identity: id, expires: now.Add(r.cacheTTL)}
}

// Ensure interface compliance.
var _ ports.KeyResolver = (*Resolver)(nil)
