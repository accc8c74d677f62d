// Package iqiyi is the iQIYI comment provider.
//
// Search uses the suggest endpoint. Link ids are resolved to numeric tv and
// album ids by scraping play pages with goquery. Comments are zlib-compressed
// XML files split into five-minute segments.
package iqiyi

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"danmu/internal/config"
	"danmu/internal/danmaku"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/provider"
	"danmu/internal/services"
)

const (
	// Name is the configuration name of this provider.
	Name = "iqiyi"
	// Key is the provider-id key stored on library items.
	Key = "IqiyiID"

	searchTTL     = 5 * time.Minute
	mediaTTL      = 30 * time.Minute
	idTTL         = 30 * time.Minute
	chatServer    = "cmts.iqiyi.com"
	movieChannel  = "电影"
	maxSegments   = 60
	albumPageSize = 200
)

var (
	tvIDPattern    = regexp.MustCompile(`"tvId"\s*:\s*"?(\d+)`)
	albumIDPattern = regexp.MustCompile(`"albumId"\s*:\s*"?(\d+)`)
	linkIDPattern  = regexp.MustCompile(`/[va]_(\w+)\.html`)
)

// Provider talks to iQIYI.
type Provider struct {
	baseURL    string
	searchURL  string
	pageURL    string
	commentURL string
	client     *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter

	searchCache *ttlcache.Cache[string, []suggestion]
	mediaCache  *ttlcache.Cache[string, *provider.Media]
	idCache     *ttlcache.Cache[string, string]
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithLimit overrides request pacing.
func WithLimit(limit rate.Limit) Option {
	return func(p *Provider) {
		p.limiter = rate.NewLimiter(limit, 1)
	}
}

func newCache[V any](ttl time.Duration) *ttlcache.Cache[string, V] {
	return ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
}

// New constructs the provider from its settings block.
func New(settings config.Provider, opts ...Option) *Provider {
	timeout := time.Duration(settings.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Provider{
		baseURL:     strings.TrimRight(settings.BaseURL, "/"),
		searchURL:   strings.TrimRight(settings.SearchURL, "/"),
		pageURL:     strings.TrimRight(settings.PageURL, "/"),
		commentURL:  strings.TrimRight(settings.CommentURL, "/"),
		client:      &http.Client{Timeout: timeout},
		logger:      logging.NewNop(),
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		searchCache: newCache[[]suggestion](searchTTL),
		mediaCache:  newCache[*provider.Media](mediaTTL),
		idCache:     newCache[string](idTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "provider."+Name)
	return p
}

func (p *Provider) Name() string { return Name }
func (p *Provider) Key() string  { return Key }

type suggestion struct {
	Name       string `json:"name"`
	Link       string `json:"link"`
	Year       int    `json:"year"`
	Channel    string `json:"cname"`
	VideoCount int    `json:"video_count"`
}

func (s suggestion) linkID() string {
	if m := linkIDPattern.FindStringSubmatch(s.Link); len(m) == 2 {
		return m[1]
	}
	return ""
}

// Search queries the suggest endpoint by item name. Movies only match the
// movie channel and everything else excludes it.
func (p *Provider) Search(ctx context.Context, item *library.Item) ([]provider.Candidate, error) {
	if item == nil || strings.TrimSpace(item.Name) == "" {
		return nil, nil
	}
	keyword := strings.TrimSpace(item.Name)
	suggestions, err := p.suggest(ctx, keyword)
	if err != nil {
		return nil, err
	}
	isMovie := item.Kind == library.KindMovie
	var out []provider.Candidate
	for _, s := range suggestions {
		if isMovie != (s.Channel == movieChannel) {
			continue
		}
		id := s.linkID()
		if id == "" {
			continue
		}
		out = append(out, provider.Candidate{
			ID:           id,
			Name:         s.Name,
			Category:     s.Channel,
			Year:         s.Year,
			EpisodeCount: s.VideoCount,
		})
	}
	return out, nil
}

func (p *Provider) suggest(ctx context.Context, keyword string) ([]suggestion, error) {
	cacheKey := "search_" + keyword
	if cached := p.searchCache.Get(cacheKey); cached != nil {
		return cached.Value(), nil
	}
	query := url.Values{}
	query.Set("if", "mobile")
	query.Set("key", keyword)
	body, err := p.get(ctx, p.searchURL+"/?"+query.Encode())
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []suggestion `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode iqiyi suggest: %w", err)
	}
	p.searchCache.Set(cacheKey, resp.Data, ttlcache.DefaultTTL)
	return resp.Data, nil
}

type albumList struct {
	Data struct {
		EpisodeList []struct {
			TvID    int64  `json:"tvId"`
			Name    string `json:"name"`
			Order   int    `json:"order"`
			PlayURL string `json:"playUrl"`
		} `json:"epsodelist"`
	} `json:"data"`
}

// GetMedia resolves a link id. Series ids point at album pages whose episode
// list becomes Media.Episodes; movie ids point at a single play page.
func (p *Provider) GetMedia(ctx context.Context, item *library.Item, id string) (*provider.Media, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	isMovie := item != nil && item.Kind == library.KindMovie
	cacheKey := fmt.Sprintf("media_%s_%t", id, isMovie)
	if cached := p.mediaCache.Get(cacheKey); cached != nil {
		return cached.Value(), nil
	}

	var media *provider.Media
	if isMovie {
		tvID, err := p.resolveID(ctx, "v_"+id, tvIDPattern)
		if err != nil || tvID == "" {
			return nil, err
		}
		media = &provider.Media{ID: id, CommentID: tvID, Episodes: []provider.Episode{{ID: id, CommentID: tvID}}}
	} else {
		albumID, err := p.resolveID(ctx, "a_"+id, albumIDPattern)
		if err != nil || albumID == "" {
			return nil, err
		}
		query := url.Values{}
		query.Set("aid", albumID)
		query.Set("page", "1")
		query.Set("size", strconv.Itoa(albumPageSize))
		body, err := p.get(ctx, p.baseURL+"/albums/album/avlistinfo?"+query.Encode())
		if err != nil {
			return nil, err
		}
		var list albumList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode iqiyi album list: %w", err)
		}
		media = &provider.Media{ID: id}
		for _, ep := range list.Data.EpisodeList {
			linkID := ""
			if m := linkIDPattern.FindStringSubmatch(ep.PlayURL); len(m) == 2 {
				linkID = m[1]
			}
			media.Episodes = append(media.Episodes, provider.Episode{
				ID:        linkID,
				CommentID: strconv.FormatInt(ep.TvID, 10),
				Title:     ep.Name,
			})
		}
	}
	if len(media.Episodes) == 0 {
		p.logger.Info("iqiyi media has no episodes", logging.String("link_id", id))
		return nil, nil
	}
	p.mediaCache.Set(cacheKey, media, ttlcache.DefaultTTL)
	return media, nil
}

// GetEpisode resolves a video link id to its numeric tv id.
func (p *Provider) GetEpisode(ctx context.Context, _ *library.Item, id string) (*provider.Episode, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	tvID, err := p.resolveID(ctx, "v_"+id, tvIDPattern)
	if err != nil || tvID == "" {
		return nil, err
	}
	return &provider.Episode{ID: id, CommentID: tvID}, nil
}

// resolveID scrapes a play page for a numeric id, checking the player data
// attributes first and falling back to inline script state.
func (p *Provider) resolveID(ctx context.Context, page string, pattern *regexp.Regexp) (string, error) {
	if cached := p.idCache.Get(page); cached != nil {
		return cached.Value(), nil
	}
	body, err := p.get(ctx, p.pageURL+"/"+page+".html")
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse iqiyi page %s: %w", page, err)
	}

	attr := "data-player-tvid"
	if pattern == albumIDPattern {
		attr = "data-player-albumid"
	}
	id := ""
	if value, ok := doc.Find("[" + attr + "]").First().Attr(attr); ok {
		id = strings.TrimSpace(value)
	}
	if id == "" {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := pattern.FindStringSubmatch(s.Text()); len(m) == 2 {
				id = m[1]
				return false
			}
			return true
		})
	}
	if id == "" {
		p.logger.Info("iqiyi page carries no id", logging.String("page", page))
		return "", nil
	}
	p.idCache.Set(page, id, ttlcache.DefaultTTL)
	return id, nil
}

type bulletDocument struct {
	Entries []struct {
		Bullets []bullet `xml:"list>bulletInfo"`
	} `xml:"data>entry"`
}

type bullet struct {
	ContentID string `xml:"contentId"`
	Content   string `xml:"content"`
	ShowTime  int    `xml:"showTime"`
	Color     string `xml:"color"`
	UID       string `xml:"userInfo>uid"`
}

// GetComments downloads five-minute segments until the service reports no
// more.
func (p *Provider) GetComments(ctx context.Context, commentID string) (*danmaku.Payload, error) {
	tvID := strings.TrimSpace(commentID)
	if len(tvID) < 4 {
		return nil, nil
	}
	chatID, _ := strconv.ParseInt(tvID, 10, 64)
	payload := &danmaku.Payload{ChatServer: chatServer, ChatID: chatID}
	for segment := 1; segment <= maxSegments; segment++ {
		bullets, err := p.segment(ctx, tvID, segment)
		if errors.Is(err, services.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(bullets) == 0 {
			break
		}
		for _, b := range bullets {
			payload.Comments = append(payload.Comments, toComment(b))
		}
	}
	return payload, nil
}

func (p *Provider) segment(ctx context.Context, tvID string, n int) ([]bullet, error) {
	n4, n2 := tvID[len(tvID)-4:len(tvID)-2], tvID[len(tvID)-2:]
	segmentURL := fmt.Sprintf("%s/bullet/%s/%s/%s_300_%d.z", p.commentURL, n4, n2, tvID, n)
	body, err := p.get(ctx, segmentURL)
	if err != nil {
		return nil, err
	}
	reader, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open iqiyi segment %d: %w", n, err)
	}
	defer reader.Close()
	var doc bulletDocument
	if err := xml.NewDecoder(reader).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode iqiyi segment %d: %w", n, err)
	}
	var out []bullet
	for _, entry := range doc.Entries {
		out = append(out, entry.Bullets...)
	}
	return out, nil
}

func toComment(b bullet) danmaku.Comment {
	id, _ := strconv.ParseInt(b.ContentID, 10, 64)
	c := danmaku.Comment{
		Progress: b.ShowTime * 1000,
		Mode:     danmaku.ModeScroll,
		FontSize: danmaku.DefaultFontSize,
		Color:    danmaku.DefaultColor,
		MidHash:  "[iqiyi]" + b.UID,
		ID:       id,
		Content:  b.Content,
	}
	if color, err := strconv.ParseUint(b.Color, 16, 32); err == nil {
		c.Color = uint32(color)
	}
	return c
}

func (p *Provider) get(ctx context.Context, target string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build iqiyi request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iqiyi request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := provider.CheckResponse(Name, resp); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read iqiyi response %s: %w", req.URL.Path, err)
	}
	return body, nil
}
