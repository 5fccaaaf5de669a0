package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/auction/pkg/secrets"
)

// Resolver resolves per-identity profiles from a secrets provider,
// caching results locally to reduce API calls. It is generic over the
// resolved type T.
//
// Secret naming convention: {env}/{identity}/{scope}
type Resolver[T any] struct {
	logger   *zap.Logger
	env      string
	scope    string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
}

// NewResolver constructs a generic per-identity resolver.
func NewResolver[T any](
	logger *zap.Logger,
	env string,
	scope string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		env:      env,
		scope:    scope,
		provider: provider,
		cache:    cache,
	}
}

func (r *Resolver[T]) cacheKey(identity string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s", identity, r.scope))
}

// SecretName builds the secrets manager key for an identity.
func (r *Resolver[T]) SecretName(identity string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, identity, r.scope))
}

// Resolve fetches or returns the cached T for identity.
// parse extracts T from the raw secret map and should validate required fields.
func (r *Resolver[T]) Resolve(ctx context.Context, identity string, parse func(map[string]string) (T, error)) (T, error) {
	var zero T
	if identity == "" || strings.Contains(identity, "/") {
		return zero, fmt.Errorf("resolve profile: invalid identity %q", identity)
	}

	key := r.cacheKey(identity)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	name := r.SecretName(identity)
	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return zero, fmt.Errorf("resolve profile for %q: %w", identity, err)
	}

	v, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, v)
	r.logger.Debug("secrets.profile_resolved",
		zap.String("identity", identity),
		zap.String("scope", r.scope))
	return v, nil
}

// Invalidate drops the cached profile for identity (e.g. after rotation).
func (r *Resolver[T]) Invalidate(identity string) {
	r.cache.Bust(r.cacheKey(identity))
}

// DiscoverIdentities lists every identity with a secret under "{env}/" ending in "/{scope}".
func (r *Resolver[T]) DiscoverIdentities(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(r.env + "/")
	suffix := "/" + strings.ToLower(r.scope)

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover identities: %w", err)
	}

	var ids []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if id != "" && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}

	r.logger.Info("secrets.identities_discovered",
		zap.Int("count", len(ids)),
		zap.Strings("identities", ids))
	return ids, nil
}
