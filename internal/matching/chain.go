package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/provider"
	"danmu/internal/services"
)

// ErrUnknownProvider is returned when an explicit provider is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Step identifies which stage of the chain produced an attempt.
type Step int

const (
	StepExplicit Step = iota
	StepStored
	StepSearch
)

func (s Step) String() string {
	switch s {
	case StepExplicit:
		return "explicit"
	case StepStored:
		return "stored"
	case StepSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Request describes one item's matching run.
type Request struct {
	Item *library.Item
	// ProviderID and ID form an explicit match when both are set. ProviderID
	// may be a provider name or key.
	ProviderID string
	ID         string
	// Force skips stored ids.
	Force bool
	// AllowSearch enables the search step.
	AllowSearch bool
	// SearchItem overrides the item used for search (e.g. a season searched by
	// its series name).
	SearchItem *library.Item
	// Only restricts stored and search steps to one provider.
	Only provider.Provider
}

// Attempt tries one (provider, id) pair and reports whether it succeeded.
// A false result with nil error moves the chain to the next candidate.
type Attempt func(ctx context.Context, p provider.Provider, id string, step Step) (bool, error)

// Result names the pair that succeeded.
type Result struct {
	Provider provider.Provider
	ID       string
	Step     Step
}

// Chain is the ordered provider fallback.
type Chain struct {
	registry *provider.Registry
	matcher  *Matcher
	logger   *slog.Logger
}

// NewChain builds a chain over the registry's priority order.
func NewChain(registry *provider.Registry, matcher *Matcher, logger *slog.Logger) *Chain {
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Chain{
		registry: registry,
		matcher:  matcher,
		logger:   logging.NewComponentLogger(logger, "matching"),
	}
}

// Matcher exposes the chain's matcher.
func (c *Chain) Matcher() *Matcher { return c.matcher }

// Providers returns the registered providers in priority order.
func (c *Chain) Providers() []provider.Provider { return c.registry.All() }

// Resolve looks a provider up by name or key.
func (c *Chain) Resolve(nameOrKey string) (provider.Provider, error) {
	p, ok := c.registry.Lookup(nameOrKey)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "matching", "resolve provider",
			fmt.Sprintf("provider %q is not registered", nameOrKey), ErrUnknownProvider)
	}
	return p, nil
}

// Run walks explicit, stored and search steps until attempt succeeds. It
// returns (nil, nil) when nothing matched. A rate-limit error from any step
// ends the run and is returned.
func (c *Chain) Run(ctx context.Context, req Request, attempt Attempt) (*Result, error) {
	if req.Item == nil {
		return nil, nil
	}
	logger := logging.WithContext(ctx, c.logger)

	if strings.TrimSpace(req.ProviderID) != "" && strings.TrimSpace(req.ID) != "" {
		p, err := c.Resolve(req.ProviderID)
		if err != nil {
			return nil, err
		}
		ok, err := attempt(services.WithProvider(ctx, p.Name()), p, req.ID, StepExplicit)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Result{Provider: p, ID: req.ID, Step: StepExplicit}, nil
		}
		return nil, nil
	}

	providers := c.registry.All()
	if req.Only != nil {
		providers = []provider.Provider{req.Only}
	}

	if !req.Force {
		for _, p := range providers {
			id := req.Item.ProviderID(p.Key())
			if id == "" {
				continue
			}
			ok, err := attempt(services.WithProvider(ctx, p.Name()), p, id, StepStored)
			if done, result, err := c.settle(logger, p, id, StepStored, ok, err); done {
				return result, err
			}
		}
	}

	if !req.AllowSearch {
		return nil, nil
	}
	searchItem := req.SearchItem
	if searchItem == nil {
		searchItem = req.Item
	}
	for _, p := range providers {
		id, err := c.matcher.ResolveMediaID(services.WithProvider(ctx, p.Name()), p, searchItem)
		if err != nil {
			if provider.IsRateLimited(err) {
				return nil, err
			}
			logging.WarnWithContext(logger, "provider search failed", "provider_search_failed",
				logging.String(logging.FieldProvider, p.Name()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to next provider"),
				logging.String(logging.FieldErrorHint, "check provider connectivity"),
			)
			continue
		}
		if id == "" {
			logger.Info("no search match",
				logging.Args(append(logging.DecisionAttrs("provider_search", "no_match", "no candidate accepted"),
					logging.String(logging.FieldProvider, p.Name()))...)...)
			continue
		}
		ok, err := attempt(services.WithProvider(ctx, p.Name()), p, id, StepSearch)
		if done, result, err := c.settle(logger, p, id, StepSearch, ok, err); done {
			return result, err
		}
	}
	return nil, nil
}

// settle interprets one attempt outcome. done reports whether the run ends.
func (c *Chain) settle(logger *slog.Logger, p provider.Provider, id string, step Step, ok bool, err error) (bool, *Result, error) {
	if err != nil {
		if provider.IsRateLimited(err) {
			return true, nil, err
		}
		logging.WarnWithContext(logger, "provider attempt failed", "provider_attempt_failed",
			logging.String(logging.FieldProvider, p.Name()),
			logging.String("provider_item_id", id),
			logging.String("step", step.String()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "falling back to next provider"),
		)
		return false, nil, nil
	}
	if ok {
		return true, &Result{Provider: p, ID: id, Step: step}, nil
	}
	return false, nil, nil
}
