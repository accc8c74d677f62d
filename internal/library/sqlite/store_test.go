package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"danmu/internal/library"
	"danmu/internal/library/sqlite"
)

func openStore(t *testing.T, disabled ...string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "library.db"), disabled)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndGetItem(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	item := &library.Item{
		ID: "ep1", Kind: library.KindEpisode, Name: "Pilot", Year: 2021,
		IndexNumber: 1, ParentIndexNumber: 1, SeriesID: "show", SeasonID: "s1",
		SeriesName: "Show", Path: "/media/show/S01E01.mkv", LibraryName: "TV",
		ProviderIDs: map[string]string{"TencentID": "v1", "IqiyiID": ""},
	}
	if err := store.Upsert(ctx, item); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	got, err := store.GetItem(ctx, "ep1")
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if got.Kind != library.KindEpisode || got.Name != "Pilot" || got.SeasonID != "s1" || got.IndexNumber != 1 {
		t.Fatalf("unexpected item %+v", got)
	}
	if got.ProviderID("TencentID") != "v1" {
		t.Fatalf("unexpected provider ids %v", got.ProviderIDs)
	}
	if _, ok := got.ProviderIDs["IqiyiID"]; ok {
		t.Fatal("expected empty provider id to be skipped")
	}
}

func TestGetItemNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.GetItem(context.Background(), "missing")
	if !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChildrenOrdered(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	for _, item := range []*library.Item{
		{ID: "s1", Kind: library.KindSeason, Name: "Season 1", IndexNumber: 1, SeriesID: "show"},
		{ID: "e2", Kind: library.KindEpisode, Name: "b", IndexNumber: 2, ParentIndexNumber: 1, SeasonID: "s1"},
		{ID: "e1", Kind: library.KindEpisode, Name: "a", IndexNumber: 1, ParentIndexNumber: 1, SeasonID: "s1",
			ProviderIDs: map[string]string{"TencentID": "x"}},
		{ID: "sp", Kind: library.KindEpisode, Name: "special", IndexNumber: 1, SeasonID: "s1"},
	} {
		if err := store.Upsert(ctx, item); err != nil {
			t.Fatalf("Upsert(%s) returned error: %v", item.ID, err)
		}
	}

	episodes, err := store.Children(ctx, "s1", library.KindEpisode)
	if err != nil {
		t.Fatalf("Children returned error: %v", err)
	}
	var order []string
	for _, ep := range episodes {
		order = append(order, ep.ID)
	}
	if len(order) != 3 || order[0] != "sp" || order[1] != "e1" || order[2] != "e2" {
		t.Fatalf("unexpected episode order %v", order)
	}
	if episodes[1].ProviderID("TencentID") != "x" {
		t.Fatalf("expected provider ids on children, got %v", episodes[1].ProviderIDs)
	}

	seasons, err := store.Children(ctx, "show", library.KindSeason)
	if err != nil || len(seasons) != 1 {
		t.Fatalf("unexpected seasons %v err=%v", seasons, err)
	}
}

func TestCommitMergesProviderIDs(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.Upsert(ctx, &library.Item{ID: "m1", Kind: library.KindMovie, Name: "Movie",
		ProviderIDs: map[string]string{"IqiyiID": "old"}}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if err := store.Commit(ctx, &library.Item{ID: "m1", ProviderIDs: map[string]string{"TencentID": "new"}}); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	got, err := store.GetItem(ctx, "m1")
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if got.ProviderID("TencentID") != "new" || got.ProviderID("IqiyiID") != "old" {
		t.Fatalf("unexpected provider ids %v", got.ProviderIDs)
	}
	if got.Name != "Movie" {
		t.Fatalf("commit overwrote metadata: %+v", got)
	}

	if err := store.Commit(ctx, &library.Item{ID: "ghost"}); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestLibraryOptionsDisabled(t *testing.T) {
	store := openStore(t, "Anime")
	opts, err := store.LibraryOptions(context.Background(), &library.Item{LibraryName: "anime"})
	if err != nil {
		t.Fatalf("LibraryOptions returned error: %v", err)
	}
	if !opts.Disabled {
		t.Fatal("expected library to be disabled")
	}
	opts, _ = store.LibraryOptions(context.Background(), &library.Item{LibraryName: "Movies"})
	if opts.Disabled {
		t.Fatal("expected library to be enabled")
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	store, err := sqlite.Open(path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	_ = store.Close()
	store, err = sqlite.Open(path, nil)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	_ = store.Close()
}
