package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/matching"
	"danmu/internal/provider"
	"danmu/internal/services"
)

// Query is one search request. Provider restricts the search to one provider
// name or key.
type Query struct {
	Keyword  string
	Kind     library.Kind
	Year     int
	Provider string
}

// Result is one ranked candidate.
type Result struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	provider.Candidate
	Score    float64 `json:"score"`
	Distance int     `json:"distance"`
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason,omitempty"`
}

// Failure records a provider that could not be searched.
type Failure struct {
	Provider  string `json:"provider"`
	Error     string `json:"error"`
	Throttled bool   `json:"throttled,omitempty"`
}

// Response is the merged outcome of one query.
type Response struct {
	Keyword  string    `json:"keyword"`
	Results  []Result  `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
}

// Service searches providers in the chain's priority order.
type Service struct {
	chain  *matching.Chain
	logger *slog.Logger
}

// NewService constructs a search service over chain.
func NewService(chain *matching.Chain, logger *slog.Logger) *Service {
	return &Service{chain: chain, logger: logging.NewComponentLogger(logger, "search")}
}

// Search queries every selected provider. Individual provider failures are
// reported in the response; an error is returned only for invalid queries or
// when every provider failed.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	keyword := matching.NormalizeTitle(q.Keyword)
	if keyword == "" {
		return nil, services.Wrap(services.ErrValidation, "search", "parse query", "keyword is required", nil)
	}
	providers := s.chain.Providers()
	if strings.TrimSpace(q.Provider) != "" {
		p, err := s.chain.Resolve(q.Provider)
		if err != nil {
			return nil, err
		}
		providers = []provider.Provider{p}
	}
	if len(providers) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "search", "select providers", "no providers registered", nil)
	}

	logger := logging.WithContext(ctx, s.logger).With(logging.String("keyword", keyword))
	item := &library.Item{Name: keyword, Kind: q.Kind, Year: q.Year}
	found := make([][]provider.Candidate, len(providers))
	errs := make([]error, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			candidates, err := p.Search(gctx, item.Clone())
			if err != nil {
				errs[i] = err
				return nil
			}
			found[i] = candidates
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{Keyword: keyword, Results: []Result{}}
	matcher := s.chain.Matcher()
	for i, p := range providers {
		if err := errs[i]; err != nil {
			throttled := provider.IsRateLimited(err)
			resp.Failures = append(resp.Failures, Failure{Provider: p.Name(), Error: err.Error(), Throttled: throttled})
			logging.WarnWithContext(logger, "provider search failed", "provider_search_failed",
				logging.String(logging.FieldProvider, p.Name()),
				logging.Error(err),
				logging.Bool("throttled", throttled),
				logging.String(logging.FieldImpact, "results omit this provider"),
			)
			continue
		}
		for _, c := range found[i] {
			accepted, reason := matcher.Accept(keyword, q.Year, c)
			resp.Results = append(resp.Results, Result{
				Provider:  p.Name(),
				Key:       p.Key(),
				Candidate: c,
				Score:     matcher.Score(keyword, c),
				Distance:  fuzzy.RankMatchNormalizedFold(keyword, matching.NormalizeTitle(c.Name)),
				Accepted:  accepted,
				Reason:    reason,
			})
		}
	}
	if len(resp.Failures) == len(providers) {
		return nil, services.Wrap(services.ErrExternalTool, "search", "query providers",
			"every provider failed", errors.Join(errs...))
	}
	rank(resp.Results)
	logger.Debug("search complete", logging.Int("results", len(resp.Results)), logging.Int("failures", len(resp.Failures)))
	return resp, nil
}

// rank orders accepted candidates first, then fuzzy matches by distance
// (lower is closer), then similarity. Ties keep provider priority order.
func rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Accepted != b.Accepted {
			return a.Accepted
		}
		if (a.Distance < 0) != (b.Distance < 0) {
			return a.Distance >= 0
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Score > b.Score
	})
}
