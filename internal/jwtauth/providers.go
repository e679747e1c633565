package jwtauth

import (
	"context"
	"fmt"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"golang.org/x/sync/errgroup"
)

// selectProvider picks the key set that should have signed a token from
// iss.
//
// Issuer-derived endpoints pair one-to-one with issuers. Explicit endpoints
// are matched on the issuer their discovery documents advertise: exactly
// one match is used, several are ambiguous and rejected. With no match a
// lone endpoint is used as is.
func (a *Authenticator) selectProvider(ctx context.Context, iss string) (*metadata.KeySet, error) {
	eps := a.cfg.DiscoveryURLs

	if a.cfg.DerivedDiscovery {
		for i, want := range a.cfg.Issuers {
			if want == iss {
				return a.resolve(ctx, eps[i])
			}
		}
		return nil, fmt.Errorf("%w: no provider for issuer %q", ErrSignatureInvalid, iss)
	}

	if len(eps) == 1 {
		return a.resolve(ctx, eps[0])
	}

	sets := make([]*metadata.KeySet, len(eps))
	errs := make([]error, len(eps))
	var g errgroup.Group
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			sets[i], errs[i] = a.resolver.Resolve(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	var matches []*metadata.KeySet
	var firstErr error
	for i, ks := range sets {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		if ks.Issuer == iss {
			matches = append(matches, ks)
		}
	}
	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		return nil, fmt.Errorf("%w: %d providers advertise issuer %q", ErrSignatureInvalid, len(matches), iss)
	case firstErr != nil:
		return nil, wrapResolveErr(firstErr)
	default:
		return nil, fmt.Errorf("%w: no provider advertises issuer %q", ErrSignatureInvalid, iss)
	}
}

func (a *Authenticator) resolve(ctx context.Context, endpoint string) (*metadata.KeySet, error) {
	ks, err := a.resolver.Resolve(ctx, endpoint)
	if err != nil {
		return nil, wrapResolveErr(err)
	}
	return ks, nil
}
