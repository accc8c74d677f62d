package tencent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/time/rate"

	"danmu/internal/config"
	"danmu/internal/library"
	"danmu/internal/provider"
)

type fakeSite struct {
	searches  atomic.Int32
	pages     atomic.Int32
	throttled bool
}

func (f *fakeSite) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != referer {
			t.Errorf("missing referer on %s", r.URL.Path)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/MbSearchHttp"):
			f.searches.Add(1)
			if f.throttled {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"normalList":{"itemList":[
				{"doc":{"id":"mzc001"},"videoInfo":{"title":"Show","year":2021,"typeName":"电视剧","episodeSites":[{"totalEpisode":3}]}},
				{"doc":{"id":"mzc002"},"videoInfo":{"title":"Show Movie","year":2022,"typeName":"电影"}},
				{"doc":{"id":"mzc003"},"videoInfo":{"title":"No Year","year":0,"typeName":"电视剧"}}
			]}}}`))
		case strings.HasSuffix(r.URL.Path, "/GetPageData"):
			n := f.pages.Add(1)
			if n == 1 {
				_, _ = w.Write([]byte(`{"data":{"module_list_datas":[{"module_datas":[{
					"item_data_lists":{"item_datas":[
						{"item_params":{"vid":"v1","play_title":"1"}},
						{"item_params":{"vid":"tr","is_trailer":"1"}},
						{"item_params":{"vid":"v2","play_title":"2"}}
					]},
					"module_params":{"tabs":"[{\"page_context\":\"a\"},{\"page_context\":\"b\"}]"}
				}]}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"module_list_datas":[{"module_datas":[{
				"item_data_lists":{"item_datas":[{"item_params":{"vid":"v3","play_title":"3"}}]}
			}]}]}}`))
		case r.URL.Path == "/barrage/base/v1":
			_, _ = w.Write([]byte(`{"segment_start":"0","segment_span":"30000","segment_index":{
				"0":{"segment_name":"0/30000"},"30000":{"segment_name":"30000/60000"}}}`))
		case strings.HasPrefix(r.URL.Path, "/barrage/segment/v1/"):
			offset := 0
			if strings.HasSuffix(r.URL.Path, "60000") {
				offset = 30000
			}
			var items []string
			for i := 0; i < 150; i++ {
				items = append(items, fmt.Sprintf(`{"id":"%d","content":"c%d","time_offset":"%d","vuid":"u","content_style":"{\"color\":\"ff0000\",\"position\":2}"}`, offset+i, i, offset+i))
			}
			_, _ = w.Write([]byte(`{"barrage_list":[` + strings.Join(items, ",") + `]}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestProvider(t *testing.T, site *fakeSite) *Provider {
	t.Helper()
	server := httptest.NewServer(site.handler(t))
	t.Cleanup(server.Close)
	settings := config.Provider{Enabled: true, BaseURL: server.URL, CommentURL: server.URL, RequestTimeout: 5}
	return New(settings, WithHTTPClient(server.Client()), WithLimits(rate.Inf, rate.Inf))
}

func TestSearchFiltersByKindAndCaches(t *testing.T) {
	site := &fakeSite{}
	p := newTestProvider(t, site)
	ctx := context.Background()

	series, err := p.Search(ctx, &library.Item{Name: "Show", Kind: library.KindSeason})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(series) != 1 || series[0].ID != "mzc001" || series[0].EpisodeCount != 3 {
		t.Fatalf("unexpected series candidates %+v", series)
	}

	movies, err := p.Search(ctx, &library.Item{Name: "Show", Kind: library.KindMovie})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(movies) != 1 || movies[0].ID != "mzc002" {
		t.Fatalf("unexpected movie candidates %+v", movies)
	}
	if got := site.searches.Load(); got != 1 {
		t.Fatalf("expected cached search, got %d requests", got)
	}
}

func TestSearchThrottled(t *testing.T) {
	p := newTestProvider(t, &fakeSite{throttled: true})
	_, err := p.Search(context.Background(), &library.Item{Name: "Show", Kind: library.KindSeries})
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGetMediaFollowsTabsAndSkipsTrailers(t *testing.T) {
	site := &fakeSite{}
	p := newTestProvider(t, site)
	ctx := context.Background()

	media, err := p.GetMedia(ctx, &library.Item{Kind: library.KindSeason}, "mzc001")
	if err != nil {
		t.Fatalf("GetMedia returned error: %v", err)
	}
	if media == nil || len(media.Episodes) != 3 {
		t.Fatalf("unexpected media %+v", media)
	}
	for i, want := range []string{"v1", "v2", "v3"} {
		if media.Episodes[i].CommentID != want {
			t.Fatalf("episode %d = %q, want %q", i, media.Episodes[i].CommentID, want)
		}
	}
	if media.CommentID != "" {
		t.Fatalf("season media must not carry a comment id, got %q", media.CommentID)
	}

	movie, err := p.GetMedia(ctx, &library.Item{Kind: library.KindMovie}, "mzc001")
	if err != nil {
		t.Fatalf("GetMedia returned error: %v", err)
	}
	if movie.CommentID != "v1" {
		t.Fatalf("expected movie comment id from first episode, got %q", movie.CommentID)
	}
	if got := site.pages.Load(); got != 2 {
		t.Fatalf("expected cached media listing, got %d page requests", got)
	}
}

func TestGetCommentsSamplesSegments(t *testing.T) {
	p := newTestProvider(t, &fakeSite{})
	payload, err := p.GetComments(context.Background(), "v1")
	if err != nil {
		t.Fatalf("GetComments returned error: %v", err)
	}
	if payload.Len() != 2*commentsPerSegment {
		t.Fatalf("expected %d comments, got %d", 2*commentsPerSegment, payload.Len())
	}
	first := payload.Comments[0]
	if first.Color != 0xff0000 || first.Mode != 5 || first.MidHash != "[tencent]u" {
		t.Fatalf("unexpected comment %+v", first)
	}
	if payload.ChatServer != chatServer {
		t.Fatalf("unexpected chat server %q", payload.ChatServer)
	}
}

func TestGetEpisodeUsesVid(t *testing.T) {
	p := New(config.Provider{})
	ep, err := p.GetEpisode(context.Background(), nil, " v9 ")
	if err != nil || ep.ID != "v9" || ep.CommentID != "v9" {
		t.Fatalf("unexpected episode %+v err=%v", ep, err)
	}
	if ep, _ := p.GetEpisode(context.Background(), nil, ""); ep != nil {
		t.Fatalf("expected nil episode for empty id, got %+v", ep)
	}
}

func TestSample(t *testing.T) {
	list := make([]int, 10)
	for i := range list {
		list[i] = i
	}
	got := sample(list, 5)
	if len(got) != 5 || got[0] != 0 || got[4] != 8 {
		t.Fatalf("unexpected sample %v", got)
	}
	if len(sample(list, 20)) != 10 {
		t.Fatal("expected short list to pass through")
	}
}
