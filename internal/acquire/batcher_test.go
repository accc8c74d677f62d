package acquire_test

import (
	"context"
	"errors"
	"testing"

	"danmu/internal/acquire"
	"danmu/internal/library"
	"danmu/internal/testsupport"
)

func TestBatcherQueueIgnoresNoops(t *testing.T) {
	item := &library.Item{ID: "m1", ProviderIDs: map[string]string{"XID": "1"}}
	store := testsupport.NewMemoryStore(item)
	b := acquire.NewBatcher(store, nil)

	b.Queue(item, "XID", "1")
	b.Queue(item, "XID", "")
	b.Queue(nil, "XID", "2")
	if b.Len() != 0 {
		t.Fatalf("expected nothing pending, got %d", b.Len())
	}
	if got := b.Flush(context.Background()); got != 0 {
		t.Fatalf("expected empty flush, got %d", got)
	}
	if store.TotalCommits() != 0 {
		t.Fatal("empty flush must not commit")
	}
}

func TestBatcherOverlayAndSingleCommit(t *testing.T) {
	season := &library.Item{ID: "s1", Kind: library.KindSeason}
	episode := &library.Item{ID: "e1", Kind: library.KindEpisode}
	store := testsupport.NewMemoryStore(season, episode)
	b := acquire.NewBatcher(store, nil)

	b.Queue(season.Clone(), "XID", "m100")
	b.Queue(episode.Clone(), "XID", "ep1")
	b.Queue(season.Clone(), "YID", "y7")

	fresh := store.Item("s1")
	if fresh.ProviderID("XID") != "" {
		t.Fatal("queue must not write through to the store")
	}
	b.Overlay(fresh)
	if fresh.ProviderID("XID") != "m100" || fresh.ProviderID("YID") != "y7" {
		t.Fatalf("overlay missing pending ids: %v", fresh.ProviderIDs)
	}

	if got := b.Flush(context.Background()); got != 2 {
		t.Fatalf("expected two items committed, got %d", got)
	}
	if store.Commits("s1") != 1 || store.Commits("e1") != 1 {
		t.Fatalf("expected one commit per item, got s1=%d e1=%d", store.Commits("s1"), store.Commits("e1"))
	}
	stored := store.Item("s1")
	if stored.ProviderID("XID") != "m100" || stored.ProviderID("YID") != "y7" {
		t.Fatalf("unexpected stored ids %v", stored.ProviderIDs)
	}
	if b.Len() != 0 {
		t.Fatal("flush must reset the batcher")
	}
}

func TestBatcherFlushPreservesConcurrentChanges(t *testing.T) {
	item := &library.Item{ID: "m1", Kind: library.KindMovie}
	store := testsupport.NewMemoryStore(item)
	b := acquire.NewBatcher(store, nil)

	b.Queue(item.Clone(), "XID", "1")
	changed := store.Item("m1")
	changed.Name = "Renamed"
	changed.SetProviderID("ImdbID", "tt1")
	store.Put(changed)

	b.Flush(context.Background())

	stored := store.Item("m1")
	if stored.Name != "Renamed" || stored.ProviderID("ImdbID") != "tt1" || stored.ProviderID("XID") != "1" {
		t.Fatalf("flush lost store state: %+v", stored)
	}
}

func TestBatcherFlushContinuesAfterFailures(t *testing.T) {
	store := testsupport.NewMemoryStore(&library.Item{ID: "m1"})
	b := acquire.NewBatcher(store, nil)

	b.Queue(&library.Item{ID: "gone"}, "XID", "1")
	b.Queue(&library.Item{ID: "m1"}, "XID", "2")
	if got := b.Flush(context.Background()); got != 1 {
		t.Fatalf("expected the surviving item committed, got %d", got)
	}

	store.CommitErr = errors.New("store offline")
	b.Queue(&library.Item{ID: "m1"}, "XID", "3")
	if got := b.Flush(context.Background()); got != 0 {
		t.Fatalf("expected no commits while the store fails, got %d", got)
	}
	if b.Len() != 0 {
		t.Fatal("failed flush must still reset the batcher")
	}
}
