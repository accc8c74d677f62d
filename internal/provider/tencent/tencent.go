// Package tencent is the Tencent Video comment provider.
//
// Search and episode listing go through the pbaccess JSON endpoints; comments
// are fetched from the barrage service in 30 second segments. Search results
// are cached for five minutes and media listings for thirty.
package tencent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"danmu/internal/config"
	"danmu/internal/danmaku"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/provider"
)

const (
	// Name is the configuration name of this provider.
	Name = "tencent"
	// Key is the provider-id key stored on library items.
	Key = "TencentID"

	searchTTL          = 5 * time.Minute
	mediaTTL           = 30 * time.Minute
	commentsPerSegment = 100
	chatServer         = "dm.video.qq.com"
	movieCategory      = "电影"
	referer            = "https://v.qq.com/"
)

// Provider talks to Tencent Video.
type Provider struct {
	baseURL    string
	commentURL string
	client     *http.Client
	logger     *slog.Logger

	searchLimiter  *rate.Limiter
	segmentLimiter *rate.Limiter

	searchCache *ttlcache.Cache[string, []provider.Candidate]
	mediaCache  *ttlcache.Cache[string, *provider.Media]
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

// WithLimits overrides request pacing. Tests use rate.Inf.
func WithLimits(search, segment rate.Limit) Option {
	return func(p *Provider) {
		p.searchLimiter = rate.NewLimiter(search, 1)
		p.segmentLimiter = rate.NewLimiter(segment, 1)
	}
}

// New constructs the provider from its settings block.
func New(settings config.Provider, opts ...Option) *Provider {
	timeout := time.Duration(settings.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Provider{
		baseURL:        strings.TrimRight(settings.BaseURL, "/"),
		commentURL:     strings.TrimRight(settings.CommentURL, "/"),
		client:         &http.Client{Timeout: timeout},
		logger:         logging.NewNop(),
		searchLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		segmentLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		searchCache: ttlcache.New[string, []provider.Candidate](
			ttlcache.WithTTL[string, []provider.Candidate](searchTTL),
			ttlcache.WithDisableTouchOnHit[string, []provider.Candidate](),
		),
		mediaCache: ttlcache.New[string, *provider.Media](
			ttlcache.WithTTL[string, *provider.Media](mediaTTL),
			ttlcache.WithDisableTouchOnHit[string, *provider.Media](),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "provider."+Name)
	return p
}

func (p *Provider) Name() string { return Name }
func (p *Provider) Key() string  { return Key }

type searchRequest struct {
	Query    string `json:"query"`
	PageNum  int    `json:"pagenum"`
	PageSize int    `json:"pagesize"`
}

type searchResponse struct {
	Data struct {
		NormalList struct {
			ItemList []struct {
				Doc struct {
					ID string `json:"id"`
				} `json:"doc"`
				VideoInfo struct {
					Title        string `json:"title"`
					Year         int    `json:"year"`
					TypeName     string `json:"typeName"`
					EpisodeSites []struct {
						TotalEpisode int `json:"totalEpisode"`
					} `json:"episodeSites"`
				} `json:"videoInfo"`
			} `json:"itemList"`
		} `json:"normalList"`
	} `json:"data"`
}

// Search queries by item name. Movies only match movie results and series
// only match non-movie results.
func (p *Provider) Search(ctx context.Context, item *library.Item) ([]provider.Candidate, error) {
	if item == nil || strings.TrimSpace(item.Name) == "" {
		return nil, nil
	}
	keyword := strings.TrimSpace(item.Name)
	cacheKey := "search_" + keyword

	var all []provider.Candidate
	if cached := p.searchCache.Get(cacheKey); cached != nil {
		all = cached.Value()
	} else {
		if err := p.searchLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		var resp searchResponse
		url := p.baseURL + "/trpc.videosearch.mobile_search.HttpMobileRecall/MbSearchHttp"
		if err := p.postJSON(ctx, url, searchRequest{Query: keyword, PageSize: 20}, &resp); err != nil {
			return nil, err
		}
		for _, entry := range resp.Data.NormalList.ItemList {
			info := entry.VideoInfo
			if entry.Doc.ID == "" || info.Year == 0 {
				continue
			}
			candidate := provider.Candidate{
				ID:       entry.Doc.ID,
				Name:     info.Title,
				Category: info.TypeName,
				Year:     info.Year,
			}
			if len(info.EpisodeSites) > 0 {
				candidate.EpisodeCount = info.EpisodeSites[0].TotalEpisode
			}
			all = append(all, candidate)
		}
		p.searchCache.Set(cacheKey, all, ttlcache.DefaultTTL)
	}

	isMovie := item.Kind == library.KindMovie
	out := make([]provider.Candidate, 0, len(all))
	for _, c := range all {
		if isMovie != (c.Category == movieCategory) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type pageRequest struct {
	PageParams pageParams `json:"page_params"`
	HasCache   int        `json:"has_cache"`
}

type pageParams struct {
	ReqFrom        string `json:"req_from"`
	PageType       string `json:"page_type"`
	PageID         string `json:"page_id"`
	IDType         string `json:"id_type"`
	PageSize       string `json:"page_size"`
	CID            string `json:"cid"`
	PageContext    string `json:"page_context"`
	DetailPageType string `json:"detail_page_type"`
}

type pageResponse struct {
	Data struct {
		ModuleListDatas []struct {
			ModuleDatas []struct {
				ItemDataLists struct {
					ItemDatas []struct {
						ItemParams episodeParams `json:"item_params"`
					} `json:"item_datas"`
				} `json:"item_data_lists"`
				ModuleParams struct {
					Tabs string `json:"tabs"`
				} `json:"module_params"`
			} `json:"module_datas"`
		} `json:"module_list_datas"`
	} `json:"data"`
}

type episodeParams struct {
	VID       string `json:"vid"`
	Title     string `json:"title"`
	PlayTitle string `json:"play_title"`
	IsTrailer string `json:"is_trailer"`
}

type pageTab struct {
	PageContext string `json:"page_context"`
}

// GetMedia lists the episodes of a cover id. Trailers are excluded. For movies
// CommentID is the first episode's vid.
func (p *Provider) GetMedia(ctx context.Context, item *library.Item, id string) (*provider.Media, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	cacheKey := "media_" + id
	if cached := p.mediaCache.Get(cacheKey); cached != nil {
		return withMovieComment(cached.Value(), item), nil
	}

	episodes, tabs, err := p.fetchPage(ctx, id, "")
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(tabs); i++ {
		more, _, err := p.fetchPage(ctx, id, tabs[i].PageContext)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, more...)
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	media := &provider.Media{ID: id, Episodes: episodes}
	p.mediaCache.Set(cacheKey, media, ttlcache.DefaultTTL)
	return withMovieComment(media, item), nil
}

func withMovieComment(media *provider.Media, item *library.Item) *provider.Media {
	if media == nil || item == nil || item.Kind != library.KindMovie || len(media.Episodes) == 0 {
		return media
	}
	clone := *media
	clone.CommentID = media.Episodes[0].CommentID
	return &clone
}

func (p *Provider) fetchPage(ctx context.Context, id, pageContext string) ([]provider.Episode, []pageTab, error) {
	params := pageParams{
		ReqFrom:        "web_mobile",
		PageType:       "detail_operation",
		PageID:         "vsite_episode_list",
		IDType:         "1",
		PageSize:       "100",
		CID:            id,
		PageContext:    pageContext,
		DetailPageType: "1",
	}
	if pageContext != "" {
		params.PageSize = ""
	}
	url := p.baseURL + "/trpc.universal_backend_service.page_server_rpc.PageServer/GetPageData?video_appid=3000010&vplatform=2"
	var resp pageResponse
	if err := p.postJSON(ctx, url, pageRequest{PageParams: params, HasCache: 1}, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.Data.ModuleListDatas) == 0 || len(resp.Data.ModuleListDatas[0].ModuleDatas) == 0 {
		return nil, nil, nil
	}
	module := resp.Data.ModuleListDatas[0].ModuleDatas[0]

	var episodes []provider.Episode
	for _, data := range module.ItemDataLists.ItemDatas {
		ep := data.ItemParams
		if ep.VID == "" || ep.IsTrailer == "1" {
			continue
		}
		title := ep.PlayTitle
		if title == "" {
			title = ep.Title
		}
		episodes = append(episodes, provider.Episode{ID: ep.VID, CommentID: ep.VID, Title: title})
	}

	var tabs []pageTab
	if raw := strings.TrimSpace(module.ModuleParams.Tabs); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tabs); err != nil {
			p.logger.Debug("ignoring unparseable episode tabs", logging.String("cid", id), logging.Error(err))
		}
	}
	return episodes, tabs, nil
}

// GetEpisode resolves a vid; on Tencent the vid doubles as the comment id.
func (p *Provider) GetEpisode(_ context.Context, _ *library.Item, id string) (*provider.Episode, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return &provider.Episode{ID: id, CommentID: id}, nil
}

type barrageBase struct {
	SegmentStart string `json:"segment_start"`
	SegmentSpan  string `json:"segment_span"`
	SegmentIndex map[string]struct {
		SegmentName string `json:"segment_name"`
	} `json:"segment_index"`
}

type barrageSegment struct {
	BarrageList []barrage `json:"barrage_list"`
}

type barrage struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	TimeOffset   string `json:"time_offset"`
	CreateTime   string `json:"create_time"`
	ContentStyle string `json:"content_style"`
	VUID         string `json:"vuid"`
}

type contentStyle struct {
	Color    string `json:"color"`
	Position int    `json:"position"`
}

// GetComments downloads every barrage segment of vid, keeping at most 100
// evenly spaced comments per segment.
func (p *Provider) GetComments(ctx context.Context, commentID string) (*danmaku.Payload, error) {
	vid := strings.TrimSpace(commentID)
	if vid == "" {
		return nil, nil
	}
	var base barrageBase
	if err := p.getJSON(ctx, p.commentURL+"/barrage/base/"+vid, &base); err != nil {
		return nil, err
	}

	payload := &danmaku.Payload{ChatServer: chatServer}
	start, _ := strconv.ParseInt(base.SegmentStart, 10, 64)
	span, _ := strconv.ParseInt(base.SegmentSpan, 10, 64)
	for offset := start; span > 0; offset += span {
		segment, ok := base.SegmentIndex[strconv.FormatInt(offset, 10)]
		if !ok {
			break
		}
		var resp barrageSegment
		if err := p.getJSON(ctx, p.commentURL+"/barrage/segment/"+vid+"/"+segment.SegmentName, &resp); err != nil {
			return nil, err
		}
		for _, b := range sample(resp.BarrageList, commentsPerSegment) {
			payload.Comments = append(payload.Comments, toComment(b))
		}
		if err := p.segmentLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func toComment(b barrage) danmaku.Comment {
	offset, _ := strconv.Atoi(b.TimeOffset)
	id, _ := strconv.ParseInt(b.ID, 10, 64)
	created, _ := strconv.ParseInt(b.CreateTime, 10, 64)
	c := danmaku.Comment{
		Progress:  offset,
		Mode:      danmaku.ModeScroll,
		FontSize:  danmaku.DefaultFontSize,
		Color:     danmaku.DefaultColor,
		CreatedAt: created,
		MidHash:   "[tencent]" + b.VUID,
		ID:        id,
		Content:   b.Content,
	}
	if b.ContentStyle != "" {
		var style contentStyle
		if err := json.Unmarshal([]byte(b.ContentStyle), &style); err == nil {
			if color, err := strconv.ParseUint(strings.TrimPrefix(style.Color, "#"), 16, 32); err == nil {
				c.Color = uint32(color)
			}
			if style.Position == 2 {
				c.Mode = danmaku.ModeTop
			}
		}
	}
	return c
}

// sample keeps at most limit elements spread evenly across list.
func sample[T any](list []T, limit int) []T {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	out := make([]T, 0, limit)
	step := float64(len(list)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, list[int(float64(i)*step)])
	}
	return out
}

func (p *Provider) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode tencent request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build tencent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build tencent request: %w", err)
	}
	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	req.Header.Set("Referer", referer)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("tencent request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := provider.CheckResponse(Name, resp); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tencent response %s: %w", req.URL.Path, err)
	}
	return nil
}
