package acquire_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"danmu/internal/acquire"
	"danmu/internal/artifact"
	"danmu/internal/config"
	"danmu/internal/events"
	"danmu/internal/fileutil"
	"danmu/internal/guard"
	"danmu/internal/library"
	"danmu/internal/matching"
	"danmu/internal/provider"
	"danmu/internal/testsupport"
)

type harness struct {
	store  *testsupport.MemoryStore
	guard  *guard.Guard
	orch   *acquire.Orchestrator
	queue  *recordingQueue
	notify *recordingNotifier
}

type recordingQueue struct {
	mu     sync.Mutex
	events []events.Event
}

func (q *recordingQueue) Enqueue(ev events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

type recordingNotifier struct {
	mu         sync.Mutex
	downloaded []string
	throttled  []string
}

func (n *recordingNotifier) NotifyDownloaded(_ context.Context, itemName, provider string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downloaded = append(n.downloaded, itemName+"/"+provider)
	return nil
}

func (n *recordingNotifier) NotifyThrottled(_ context.Context, provider, itemName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.throttled = append(n.throttled, provider+"/"+itemName)
	return nil
}

func newHarness(t *testing.T, store *testsupport.MemoryStore, opts acquire.Options, providers ...provider.Provider) *harness {
	t.Helper()
	reg, err := provider.NewRegistry(providers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h := &harness{
		store:  store,
		guard:  guard.New(0),
		queue:  &recordingQueue{},
		notify: &recordingNotifier{},
	}
	orch, err := acquire.New(acquire.Dependencies{
		Store:     store,
		Chain:     matching.NewChain(reg, matching.NewMatcher(), nil),
		Guard:     h.guard,
		Artifacts: artifact.NewWriter(config.Download{}, nil),
		Notifier:  h.notify,
		Queue:     h.queue,
	}, opts)
	if err != nil {
		t.Fatalf("acquire.New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) run(t *testing.T, bucket events.Bucket, evs ...events.Event) {
	t.Helper()
	if err := h.orch.HandleBucket(context.Background(), bucket, evs); err != nil {
		t.Fatalf("HandleBucket(%s): %v", bucket, err)
	}
}

func movieItem(t *testing.T, id, name string, year int) *library.Item {
	return &library.Item{
		ID:   id,
		Kind: library.KindMovie,
		Name: name,
		Year: year,
		Path: filepath.Join(t.TempDir(), name+".mkv"),
	}
}

func artifactExists(t *testing.T, item *library.Item, key string) bool {
	t.Helper()
	path, ok := artifact.XMLPath(item, key)
	if !ok {
		t.Fatalf("item %s has no artifact path", item.ID)
	}
	return fileutil.Exists(path)
}

// seasonFixture is a two-episode season with one special under series "Show".
func seasonFixture(t *testing.T) (*library.Item, []*library.Item) {
	dir := t.TempDir()
	season := &library.Item{
		ID: "s1", Kind: library.KindSeason, Name: "Season 1", Year: 2020,
		IndexNumber: 1, SeriesID: "show", SeriesName: "Show",
	}
	episodes := []*library.Item{
		{ID: "e1", Kind: library.KindEpisode, Name: "Pilot", IndexNumber: 1, ParentIndexNumber: 1, SeasonID: "s1", SeriesID: "show", Path: filepath.Join(dir, "e1.mkv")},
		{ID: "e2", Kind: library.KindEpisode, Name: "Second", IndexNumber: 2, ParentIndexNumber: 1, SeasonID: "s1", SeriesID: "show", Path: filepath.Join(dir, "e2.mkv")},
		{ID: "sp", Kind: library.KindEpisode, Name: "Special", IndexNumber: 1, ParentIndexNumber: 0, SeasonID: "s1", SeriesID: "show", Path: filepath.Join(dir, "sp.mkv")},
	}
	return season, episodes
}

func scriptSeason(t *testing.T, p *testsupport.FakeProvider) {
	p.Candidates["Show"] = []provider.Candidate{{ID: "m100", Name: "Show", Year: 2020}}
	p.Media["m100"] = &provider.Media{ID: "m100", Episodes: []provider.Episode{
		{ID: "ep1", CommentID: "c1"},
		{ID: "ep2", CommentID: "c2"},
	}}
	p.Comments["c1"] = testsupport.Payload(t, 2048)
	p.Comments["c2"] = testsupport.Payload(t, 2048)
}

func TestExplicitMovieDownloadCommitsOnce(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["42"] = &provider.Episode{ID: "42", CommentID: "c42"}
	x.Comments["c42"] = testsupport.Payload(t, 2048)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieForce, events.Event{
		Item: item, Type: events.TypeForce, ProviderID: "xsite", ID: "42", Refresh: true, Force: true,
	})

	if !artifactExists(t, item, "XID") {
		t.Fatal("expected artifact to be written")
	}
	if got := h.store.Commits("m1"); got != 1 {
		t.Fatalf("expected one commit, got %d", got)
	}
	if got := h.store.Item("m1").ProviderID("XID"); got != "42" {
		t.Fatalf("expected committed id 42, got %q", got)
	}
	if !h.guard.Held(guard.Key("m1", "c42")) {
		t.Fatal("expected dedup key held after download")
	}
	if got := h.orch.Stats().Downloads; got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
	if len(h.notify.downloaded) != 1 || h.notify.downloaded[0] != "Arrival/xsite" {
		t.Fatalf("unexpected download notifications %v", h.notify.downloaded)
	}
}

func TestExplicitEpisodeDownloadCommitsOnce(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["42"] = &provider.Episode{ID: "42", CommentID: "c42"}
	x.Comments["c42"] = testsupport.Payload(t, 2048)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketEpisodeForce, events.Event{
		Item: episodes[0], Type: events.TypeForce, ProviderID: "xsite", ID: "42", Refresh: true, Force: true,
	})

	if got := x.Calls("GetEpisode"); got != 1 {
		t.Fatalf("expected one GetEpisode call, got %d", got)
	}
	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
	if got := x.Calls("Search"); got != 0 {
		t.Fatalf("explicit refresh must not search, got %d", got)
	}
	if !artifactExists(t, episodes[0], "XID") {
		t.Fatal("expected episode artifact")
	}
	if got := store.Commits("e1"); got != 1 {
		t.Fatalf("expected one commit, got %d", got)
	}
	if got := store.Item("e1").ProviderID("XID"); got != "42" {
		t.Fatalf("expected committed id 42, got %q", got)
	}
}

func TestSmallPayloadDiscarded(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["42"] = &provider.Episode{ID: "42", CommentID: "c42"}
	x.Comments["c42"] = testsupport.Payload(t, 0)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieForce, events.Event{
		Item: item, Type: events.TypeForce, ProviderID: "xsite", ID: "42", Refresh: true, Force: true,
	})

	if artifactExists(t, item, "XID") {
		t.Fatal("payload below the floor must not be written")
	}
	if got := h.store.TotalCommits(); got != 0 {
		t.Fatalf("expected no commits, got %d", got)
	}
	if h.guard.Held(guard.Key("m1", "c42")) {
		t.Fatal("dedup key must be released after a discarded payload")
	}
}

func TestMovieSearchLinksMediaID(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Candidates["Arrival"] = []provider.Candidate{
		{ID: "wrong-year", Name: "Arrival", Year: 1996},
		{ID: "v1", Name: "Arrival", Year: 2016},
	}
	x.Media["v1"] = &provider.Media{ID: "v1", CommentID: "c1"}
	x.Comments["c1"] = testsupport.Payload(t, 2048)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieAdd, events.New(item, events.TypeAdd))

	if got := h.store.Item("m1").ProviderID("XID"); got != "v1" {
		t.Fatalf("expected searched media id committed, got %q", got)
	}
	if !artifactExists(t, item, "XID") {
		t.Fatal("expected artifact to be written")
	}
}

func TestMovieSearchLinksEpisodeIDForLaterRuns(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Candidates["Arrival"] = []provider.Candidate{{ID: "cover", Name: "Arrival", Year: 2016}}
	x.Media["cover"] = &provider.Media{ID: "cover", CommentID: "c1", Episodes: []provider.Episode{{ID: "vid1", CommentID: "c1"}}}
	x.Episodes["vid1"] = &provider.Episode{ID: "vid1", CommentID: "c1"}
	x.Comments["c1"] = testsupport.Payload(t, 2048)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieAdd, events.New(item, events.TypeAdd))
	if got := h.store.Item("m1").ProviderID("XID"); got != "vid1" {
		t.Fatalf("expected episode id committed, got %q", got)
	}

	h.run(t, events.BucketMovieAdd, events.New(h.store.Item("m1"), events.TypeAdd))
	if got := x.Calls("Search"); got != 1 {
		t.Fatalf("stored id must resolve without searching again, searches=%d", got)
	}
	if got := x.Calls("GetEpisode"); got != 1 {
		t.Fatalf("expected stored id resolved through GetEpisode, got %d", got)
	}
}

func TestMovieExistingArtifactSkippedWithoutRefresh(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	item.SetProviderID("XID", "42")
	path, _ := artifact.XMLPath(item, "XID")
	testsupport.WriteFile(t, path, []byte("<i></i>"))
	x := testsupport.NewFakeProvider("xsite", "XID")
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieUpdate, events.Event{Item: item, Type: events.TypeUpdate})

	if got := x.TotalCalls(); got != 0 {
		t.Fatalf("expected no provider calls, got %d", got)
	}
	if got := h.orch.Stats().Skipped; got != 1 {
		t.Fatalf("expected one skip, got %d", got)
	}
	if got := h.store.TotalCommits(); got != 0 {
		t.Fatalf("unchanged id must not be committed, got %d commits", got)
	}
}

func TestRateLimitAbortsFallbackAndNextBatchRecovers(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	item.SetProviderID("AlphaID", "a1")
	item.SetProviderID("BetaID", "b1")
	a := testsupport.NewFakeProvider("alpha", "AlphaID")
	b := testsupport.NewFakeProvider("beta", "BetaID")
	a.EpisodeErr = &provider.RateLimitError{Provider: "alpha"}
	a.Episodes["a1"] = &provider.Episode{ID: "a1", CommentID: "ca"}
	a.Comments["ca"] = testsupport.Payload(t, 2048)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, a, b)

	h.run(t, events.BucketMovieAdd, events.New(item, events.TypeAdd))

	if got := b.TotalCalls(); got != 0 {
		t.Fatalf("throttled item must not reach later providers, beta calls=%d", got)
	}
	if got := h.orch.Stats().Throttled; got != 1 {
		t.Fatalf("expected one throttled item, got %d", got)
	}
	if len(h.notify.throttled) != 1 || h.notify.throttled[0] != "alpha/Arrival" {
		t.Fatalf("unexpected throttle notifications %v", h.notify.throttled)
	}

	a.SetErrors(nil, nil, nil, nil)
	h.run(t, events.BucketMovieAdd, events.New(item, events.TypeAdd))

	if !artifactExists(t, item, "AlphaID") {
		t.Fatal("expected the next batch to download")
	}
	if got := b.TotalCalls(); got != 0 {
		t.Fatalf("beta must stay unused once alpha succeeds, calls=%d", got)
	}
}

func TestConcurrentDuplicateDownloadsOnce(t *testing.T) {
	item := movieItem(t, "m1", "Arrival", 2016)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["42"] = &provider.Episode{ID: "42", CommentID: "c42"}
	x.Comments["c42"] = testsupport.Payload(t, 2048)
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	ev := events.Event{Item: item, Type: events.TypeForce, ProviderID: "xsite", ID: "42", Refresh: true, Force: true}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.HandleBucket(context.Background(), events.BucketMovieForce, []events.Event{ev})
		}()
	}
	wg.Wait()

	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("expected a single comment download, got %d", got)
	}
	stats := h.orch.Stats()
	if stats.Downloads != 1 || stats.Skipped != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEventsWithoutNameSkipped(t *testing.T) {
	item := movieItem(t, "m1", "  ", 0)
	x := testsupport.NewFakeProvider("xsite", "XID")
	h := newHarness(t, testsupport.NewMemoryStore(item), acquire.Options{}, x)

	h.run(t, events.BucketMovieAdd, events.New(item, events.TypeAdd), events.Event{Type: events.TypeAdd})

	if got := x.TotalCalls(); got != 0 {
		t.Fatalf("expected no provider calls, got %d", got)
	}
}

func TestSeasonAddLinksWithoutDownloading(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketSeasonAdd, events.New(season, events.TypeAdd))

	if got := store.Item("s1").ProviderID("XID"); got != "m100" {
		t.Fatalf("expected season linked to m100, got %q", got)
	}
	if got := store.Item("e1").ProviderID("XID"); got != "ep1" {
		t.Fatalf("expected e1 linked to ep1, got %q", got)
	}
	if got := store.Item("e2").ProviderID("XID"); got != "ep2" {
		t.Fatalf("expected e2 linked to ep2, got %q", got)
	}
	if got := store.Item("sp").ProviderID("XID"); got != "" {
		t.Fatalf("specials must not be linked, got %q", got)
	}
	if got := x.Calls("GetComments"); got != 0 {
		t.Fatalf("season add must not download, got %d", got)
	}
	for _, id := range []string{"s1", "e1", "e2"} {
		if got := store.Commits(id); got != 1 {
			t.Fatalf("expected one commit for %s, got %d", id, got)
		}
	}
}

func TestEpisodeAddSeesIdsLinkedBySeasonAdd(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketSeasonAdd, events.New(season, events.TypeAdd))
	// The episode event carries the snapshot taken before the season linked.
	h.run(t, events.BucketEpisodeAdd, events.New(episodes[0], events.TypeAdd))

	if got := x.Calls("Search"); got != 1 {
		t.Fatalf("episode add must reuse the season link, searches=%d", got)
	}
	if !artifactExists(t, episodes[0], "XID") {
		t.Fatal("expected episode artifact")
	}
	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
}

func TestSeasonUpdateDownloadsMissingEpisodes(t *testing.T) {
	season, episodes := seasonFixture(t)
	season.SetProviderID("XID", "m100")
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	path, _ := artifact.XMLPath(episodes[0], "XID")
	testsupport.WriteFile(t, path, []byte("<i></i>"))
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketSeasonUpdate, events.Event{Item: season, Type: events.TypeUpdate})

	if got := x.Calls("Search"); got != 0 {
		t.Fatalf("season update must not search, got %d", got)
	}
	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("only the missing episode downloads, got %d", got)
	}
	if !artifactExists(t, episodes[1], "XID") {
		t.Fatal("expected e2 artifact")
	}
	if artifactExists(t, episodes[2], "XID") {
		t.Fatal("special must be excluded")
	}
	if store.Commits("s1") != 0 {
		t.Fatal("season id was already stored and must not be recommitted")
	}
}

func TestSeasonUpdateWithoutIdDoesNotSearch(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketSeasonUpdate, events.Event{Item: season, Type: events.TypeUpdate})

	if got := x.TotalCalls(); got != 0 {
		t.Fatalf("expected no provider calls, got %d", got)
	}
}

func TestSeasonStrictEpisodeCount(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	x.Media["m100"].Episodes = append(x.Media["m100"].Episodes, provider.Episode{ID: "ep3", CommentID: "c3"})
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{EpisodeCountSame: true}, x)

	h.run(t, events.BucketSeasonAdd, events.New(season, events.TypeAdd))

	if got := store.TotalCommits(); got != 0 {
		t.Fatalf("count mismatch must not link anything, got %d commits", got)
	}

	lenient := newHarness(t, store, acquire.Options{}, x)
	lenient.run(t, events.BucketSeasonAdd, events.New(season, events.TypeAdd))
	if got := store.Item("s1").ProviderID("XID"); got != "m100" {
		t.Fatalf("lenient mode should link, got %q", got)
	}
}

func TestEpisodeAllRefreshesWholeSeason(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketEpisodeForce, events.Event{
		Item: episodes[0], Type: events.TypeForce, ProviderID: "XID", ID: "m100",
		Refresh: true, Force: true, All: true,
	})

	if got := x.Calls("GetComments"); got != 2 {
		t.Fatalf("expected both regular episodes downloaded, got %d", got)
	}
	if got := store.Item("s1").ProviderID("XID"); got != "m100" {
		t.Fatalf("expected season linked, got %q", got)
	}
}

func TestEpisodeMissingSeasonSkipped(t *testing.T) {
	episode := &library.Item{ID: "e9", Kind: library.KindEpisode, Name: "Orphan", IndexNumber: 1, ParentIndexNumber: 1, SeasonID: "gone", Path: filepath.Join(t.TempDir(), "e9.mkv")}
	x := testsupport.NewFakeProvider("xsite", "XID")
	h := newHarness(t, testsupport.NewMemoryStore(episode), acquire.Options{}, x)

	h.run(t, events.BucketEpisodeAdd, events.New(episode, events.TypeAdd))

	if got := x.TotalCalls(); got != 0 {
		t.Fatalf("expected no provider calls, got %d", got)
	}
	if got := h.orch.Stats().Failures; got != 0 {
		t.Fatalf("a missing season is not a failure, got %d", got)
	}
}

func TestEpisodeStaleIdFallsBackToSeason(t *testing.T) {
	season, episodes := seasonFixture(t)
	season.SetProviderID("XID", "m100")
	episodes[0].SetProviderID("XID", "stale")
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	h.run(t, events.BucketEpisodeUpdate, events.Event{Item: episodes[0], Type: events.TypeUpdate, Refresh: true})

	if got := x.Calls("GetEpisode"); got != 1 {
		t.Fatalf("stored episode id should be tried once, got %d", got)
	}
	if got := store.Item("e1").ProviderID("XID"); got != "ep1" {
		t.Fatalf("expected realigned id ep1, got %q", got)
	}
}

func TestShowUpdateFansOutSeasons(t *testing.T) {
	show := &library.Item{ID: "show", Kind: library.KindSeries, Name: "Show"}
	s1 := &library.Item{ID: "s1", Kind: library.KindSeason, Name: "Season 1", SeriesID: "show", IndexNumber: 1}
	s2 := &library.Item{ID: "s2", Kind: library.KindSeason, Name: "Season 2", SeriesID: "show", IndexNumber: 2}
	x := testsupport.NewFakeProvider("xsite", "XID")
	h := newHarness(t, testsupport.NewMemoryStore(show, s1, s2), acquire.Options{}, x)

	h.run(t, events.BucketShowAdd, events.New(show, events.TypeAdd))
	if len(h.queue.events) != 0 {
		t.Fatalf("series add must not fan out, got %d events", len(h.queue.events))
	}

	h.run(t, events.BucketShowUpdate, events.Event{Item: show, Type: events.TypeUpdate})
	if len(h.queue.events) != 2 {
		t.Fatalf("expected two season updates, got %d", len(h.queue.events))
	}
	for i, want := range []string{"s1", "s2"} {
		ev := h.queue.events[i]
		if ev.ItemID() != want || ev.Type != events.TypeUpdate || ev.Refresh {
			t.Fatalf("unexpected fan-out event %d: %+v", i, ev)
		}
	}
}

func TestCommentFailureCountsAndContinues(t *testing.T) {
	first := movieItem(t, "m1", "Arrival", 2016)
	second := movieItem(t, "m2", "Sicario", 2015)
	first.SetProviderID("XID", "1")
	second.SetProviderID("XID", "2")
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["1"] = &provider.Episode{ID: "1", CommentID: "c1"}
	x.Episodes["2"] = &provider.Episode{ID: "2", CommentID: "c2"}
	x.CommentsErr = errors.New("boom")
	h := newHarness(t, testsupport.NewMemoryStore(first, second), acquire.Options{}, x)

	h.run(t, events.BucketMovieUpdate,
		events.Event{Item: first, Type: events.TypeUpdate, Refresh: true},
		events.Event{Item: second, Type: events.TypeUpdate, Refresh: true},
	)

	if got := x.Calls("GetComments"); got != 2 {
		t.Fatalf("a failed item must not stop the bucket, got %d downloads", got)
	}
	if h.guard.Held(guard.Key("m1", "c1")) {
		t.Fatal("failed download must release its dedup key")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := acquire.New(acquire.Dependencies{}, acquire.Options{}); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestDispatchedBatchLinksSeasonBeforeEpisode(t *testing.T) {
	season, episodes := seasonFixture(t)
	x := testsupport.NewFakeProvider("xsite", "XID")
	scriptSeason(t, x)
	store := testsupport.NewMemoryStore(append([]*library.Item{season}, episodes...)...)
	h := newHarness(t, store, acquire.Options{}, x)

	correlator := events.NewCorrelator(time.Minute)
	dispatcher := events.NewDispatcher(events.NewClassifier(store, correlator, nil), h.orch, nil)
	// Episode events arrive first; bucket order still runs the season first.
	dispatcher.Dispatch(context.Background(), []events.Event{
		events.New(episodes[0], events.TypeAdd),
		events.New(season, events.TypeAdd),
		{Item: episodes[0], Type: events.TypeUpdate},
		{Item: season, Type: events.TypeUpdate},
	})

	if got := x.Calls("Search"); got != 1 {
		t.Fatalf("expected a single season search, got %d", got)
	}
	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
	if got := store.Item("s1").ProviderID("XID"); got != "m100" {
		t.Fatalf("expected season linked to m100, got %q", got)
	}
	if got := store.Item("e1").ProviderID("XID"); got != "ep1" {
		t.Fatalf("expected e1 linked to ep1, got %q", got)
	}
	if !artifactExists(t, episodes[0], "XID") {
		t.Fatal("expected episode artifact")
	}
	if got := correlator.Len(); got != 0 {
		t.Fatalf("expected no pending adds, got %d", got)
	}
}
