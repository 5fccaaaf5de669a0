package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/internal/metrics"
	"github.com/Checker-Finance/auction/pkg/model"
)

// Scope is the last path segment of creator profile secrets.
const Scope = "auction"

// CreatorProfile is the per-identity record stored at {env}/{identity}/auction.
type CreatorProfile struct {
	Identity    model.Identity
	CanCreate   bool
	DisplayName string
}

// ParseCreatorProfile reads a profile from a flat secret map.
func ParseCreatorProfile(m map[string]string) (CreatorProfile, error) {
	raw, ok := m["can_create"]
	if !ok {
		return CreatorProfile{}, errors.New("missing can_create")
	}
	can, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return CreatorProfile{}, fmt.Errorf("invalid can_create %q: %w", raw, err)
	}
	return CreatorProfile{
		Identity:    model.Identity(m["identity"]),
		CanCreate:   can,
		DisplayName: m["display_name"],
	}, nil
}

// CreatorPolicy authorizes listing creation from secrets-backed profiles.
// Any lookup failure denies.
type CreatorPolicy struct {
	resolver *Resolver[CreatorProfile]
	logger   *zap.Logger
}

var _ auction.CreatePolicy = (*CreatorPolicy)(nil)

func NewCreatorPolicy(resolver *Resolver[CreatorProfile], logger *zap.Logger) *CreatorPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreatorPolicy{resolver: resolver, logger: logger}
}

func (p *CreatorPolicy) MayCreate(ctx context.Context, caller model.Identity) bool {
	if caller.IsNone() {
		return false
	}
	profile, err := p.resolver.Resolve(ctx, caller.String(), ParseCreatorProfile)
	if err != nil {
		metrics.IncError("creator_policy", "resolve_failed")
		p.logger.Warn("secrets.creator_denied",
			zap.String("caller", caller.String()),
			zap.Error(err))
		return false
	}
	if profile.Identity != model.None && !strings.EqualFold(profile.Identity.String(), caller.String()) {
		p.logger.Warn("secrets.creator_identity_mismatch",
			zap.String("caller", caller.String()),
			zap.String("profile", profile.Identity.String()))
		return false
	}
	return profile.CanCreate
}

// Warm resolves every discovered profile so first requests hit the cache.
func (p *CreatorPolicy) Warm(ctx context.Context) (int, error) {
	ids, err := p.resolver.DiscoverIdentities(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := p.resolver.Resolve(ctx, id, ParseCreatorProfile); err != nil {
			p.logger.Warn("secrets.warm_failed", zap.String("identity", id), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
