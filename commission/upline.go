package commission

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// UPLINE RESOLVER - Seller + sponsorship chain, depth capped
// =============================================================================

// ChainLink is one recipient slot. Level 0 is the seller.
type ChainLink struct {
	ID    ProfileID
	Name  string
	Level int
}

type Chain []ChainLink

func (c Chain) IDs() []ProfileID {
	ids := make([]ProfileID, len(c))
	for i, l := range c {
		ids[i] = l.ID
	}
	return ids
}

func (c Chain) Seller() (ChainLink, bool) {
	if len(c) == 0 {
		return ChainLink{}, false
	}
	return c[0], true
}

// Resolver walks upline pointers. The store does not enforce acyclic
// sponsorship, so the walk tracks visited ids.
type Resolver struct {
	Profiles ProfileGetter
	Log      *zap.Logger
}

func NewResolver(profiles ProfileGetter, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Profiles: profiles, Log: log.Named("commission.resolver")}
}

// Resolve returns at most maxDepth+1 links. A missing profile ends the chain
// early; only genuine store failures are returned as errors. A missing
// seller yields an empty chain.
func (r *Resolver) Resolve(ctx context.Context, sellerID ProfileID, maxDepth int) (Chain, error) {
	var chain Chain
	visited := make(map[ProfileID]bool, maxDepth+1)

	next := sellerID
	for level := 0; level <= maxDepth && next != ""; level++ {
		if visited[next] {
			r.Log.Warn("sponsorship cycle detected",
				zap.String("seller_id", string(sellerID)),
				zap.String("repeated_id", string(next)),
				zap.Int("level", level))
			break
		}
		visited[next] = true

		profile, err := r.Profiles.GetProfile(ctx, next)
		if err != nil {
			if IsNotFound(err) {
				r.Log.Info("chain ended at missing profile",
					zap.String("seller_id", string(sellerID)),
					zap.String("profile_id", string(next)),
					zap.Int("level", level))
				break
			}
			return nil, storeErr("resolve chain", err)
		}

		chain = append(chain, ChainLink{ID: profile.ID, Name: profile.Name, Level: level})
		next = profile.Upline()
	}
	return chain, nil
}
