// File: internal/identity/resolver.go
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/threadweaver/internal/config"
)

var (
	// ErrNoMatchingIdentity means no remaining identity has the attribute.
	ErrNoMatchingIdentity = errors.New("no identity with required attribute")
	// ErrAttributeResolution means an identity's attribute could not be read.
	ErrAttributeResolution = errors.New("attribute resolution failed")
	errEmptyAttribute      = errors.New("empty attribute value")
)

// AttributeSource returns the stored attributes of an identity.
type AttributeSource interface {
	AttributesOf(ctx context.Context, id string) (map[string]string, error)
}

// DefaultAliases folds common spellings onto canonical attribute values.
func DefaultAliases() map[string]string {
	return map[string]string{
		"male":     "Male",
		"m":        "Male",
		"man":      "Male",
		"чоловік":  "Male",
		"чоловіча": "Male",
		"female":   "Female",
		"f":        "Female",
		"woman":    "Female",
		"жінка":    "Female",
		"жіноча":   "Female",
	}
}

// Probe records one identity checked during selection.
type Probe struct {
	Identity  string
	Attribute string
	Matched   bool
	Err       error
}

// Resolver looks up identity attributes with pacing, retries and a cache.
type Resolver struct {
	logger      *zap.Logger
	source      AttributeSource
	key         string
	aliases     map[string]string
	limiter     *rate.Limiter
	cache       *lru.Cache[string, string]
	maxAttempts int
	retryDelay  time.Duration
}

// NewResolver builds a resolver. Configured aliases extend the defaults.
func NewResolver(logger *zap.Logger, source AttributeSource, cfg config.ResolverConfig, requestsPerSecond float64) (*Resolver, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribute cache: %w", err)
	}

	aliases := DefaultAliases()
	for k, v := range cfg.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	key := cfg.AttributeKey
	if key == "" {
		key = "gender"
	}

	return &Resolver{
		logger:      logger.Named("resolver"),
		source:      source,
		key:         key,
		aliases:     aliases,
		limiter:     rate.NewLimiter(limit, 1),
		cache:       cache,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// Canonical maps raw through the alias table. Unknown values are returned
// trimmed and otherwise unchanged.
func (r *Resolver) Canonical(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if v, ok := r.aliases[strings.ToLower(trimmed)]; ok {
		return v
	}
	return trimmed
}

// Resolve returns the canonical attribute of id. Empty answers are retried up
// to the configured attempts; source errors are returned at once since the
// source retries its own transport failures.
func (r *Resolver) Resolve(ctx context.Context, id string) (string, error) {
	if v, ok := r.cache.Get(id); ok {
		return v, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
		attrs, err := r.source.AttributesOf(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w for %s: %v", ErrAttributeResolution, id, err)
		}
		if raw := strings.TrimSpace(attrs[r.key]); raw != "" {
			value := r.Canonical(raw)
			r.cache.Add(id, value)
			return value, nil
		}

		lastErr = errEmptyAttribute
		r.logger.Debug("Attribute empty; retrying.",
			zap.String("identity", id), zap.Int("attempt", attempt), zap.Int("max_attempts", r.maxAttempts))
		if attempt < r.maxAttempts && r.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
	}
	return "", fmt.Errorf("%w for %s after %d attempts: %v", ErrAttributeResolution, id, r.maxAttempts, lastErr)
}

// Select returns the first identity in pool whose attribute equals required.
// Identities whose attribute cannot be read are skipped. The pool is not
// modified.
func (r *Resolver) Select(ctx context.Context, pool *Pool, required string) (string, []Probe, error) {
	want := r.Canonical(required)
	var probes []Probe
	for _, id := range pool.Identities() {
		if err := ctx.Err(); err != nil {
			return "", probes, err
		}
		got, err := r.Resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return "", probes, ctx.Err()
			}
			r.logger.Warn("Skipping identity with unreadable attribute.", zap.String("identity", id), zap.Error(err))
			probes = append(probes, Probe{Identity: id, Err: err})
			continue
		}
		matched := strings.EqualFold(got, want)
		probes = append(probes, Probe{Identity: id, Attribute: got, Matched: matched})
		if matched {
			return id, probes, nil
		}
	}
	return "", probes, fmt.Errorf("%w %q among %d identities", ErrNoMatchingIdentity, want, pool.Len())
}
