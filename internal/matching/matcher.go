package matching

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/provider"
)

// DefaultThreshold is the minimum accepted similarity.
const DefaultThreshold = 0.7

// Scorer returns a similarity in [0, 1].
type Scorer func(a, b string) float64

var (
	chineseSeasonPattern = regexp.MustCompile(`\s*第.季`)
	seasonPattern        = regexp.MustCompile(`(?i)\s*\bseason\s*\d+\b`)
	shortSeasonPattern   = regexp.MustCompile(`(?i)\s*\bS\d{1,2}\b`)
	spacePattern         = regexp.MustCompile(`\s+`)
)

// NormalizeTitle folds full-width characters, removes season qualifiers and
// collapses whitespace.
func NormalizeTitle(title string) string {
	folded := width.Fold.String(norm.NFKC.String(title))
	folded = chineseSeasonPattern.ReplaceAllString(folded, "")
	folded = seasonPattern.ReplaceAllString(folded, "")
	folded = shortSeasonPattern.ReplaceAllString(folded, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(folded, " "))
}

// JaroWinkler is the default scorer.
func JaroWinkler(a, b string) float64 {
	return strutil.Similarity(a, b, metrics.NewJaroWinkler())
}

// Matcher resolves media ids through provider search.
type Matcher struct {
	threshold float64
	scorer    Scorer
	logger    *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithScorer replaces the similarity function.
func WithScorer(scorer Scorer) Option {
	return func(m *Matcher) {
		if scorer != nil {
			m.scorer = scorer
		}
	}
}

// WithThreshold sets the minimum accepted similarity. Non-positive values
// keep the default.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithLogger sets the matcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMatcher constructs a matcher with Jaro-Winkler scoring and the default
// threshold unless overridden.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{threshold: DefaultThreshold, scorer: JaroWinkler, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "matching")
	return m
}

// Threshold reports the configured similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Score returns the similarity between a normalized title and a candidate.
func (m *Matcher) Score(title string, c provider.Candidate) float64 {
	return m.scorer(title, NormalizeTitle(c.Name))
}

// Accept reports whether a candidate matches title and year.
func (m *Matcher) Accept(title string, year int, c provider.Candidate) (bool, string) {
	if m.Score(title, c) < m.threshold {
		return false, "similarity below threshold"
	}
	if year > 0 && c.Year > 0 && year != c.Year {
		return false, "year mismatch"
	}
	return true, ""
}

// ResolveMediaID searches p with the item's normalized title and returns the
// first acceptable candidate id, or "" when none qualifies.
func (m *Matcher) ResolveMediaID(ctx context.Context, p provider.Provider, item *library.Item) (string, error) {
	if item == nil || p == nil {
		return "", nil
	}
	title := NormalizeTitle(item.Name)
	if title == "" {
		return "", nil
	}
	query := item.Clone()
	query.Name = title

	candidates, err := p.Search(ctx, query)
	if err != nil {
		return "", err
	}
	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldProvider, p.Name()))
	for _, c := range candidates {
		ok, reason := m.Accept(title, item.Year, c)
		if !ok {
			logger.Info("candidate rejected",
				logging.Args(append(logging.DecisionAttrs("candidate_match", "rejected", reason),
					logging.String("candidate", c.Name),
					logging.String("candidate_id", c.ID),
					logging.Int("candidate_year", c.Year),
					logging.Int("item_year", item.Year),
				)...)...,
			)
			continue
		}
		logger.Debug("candidate accepted", logging.String("candidate_id", c.ID), logging.String("candidate", c.Name))
		return c.ID, nil
	}
	return "", nil
}

// AlignEpisode returns the episode at 1-based index, or false when the index
// falls outside the list.
func AlignEpisode(media *provider.Media, index int) (provider.Episode, bool) {
	if media == nil || index < 1 || index > len(media.Episodes) {
		return provider.Episode{}, false
	}
	return media.Episodes[index-1], true
}
