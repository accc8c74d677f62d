package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"danmu/internal/config"
	"danmu/internal/library"
	"danmu/internal/services"
)

const episodeDoc = `{"Id":"ep1","Name":"Pilot","Type":"Episode","IndexNumber":1,"ParentIndexNumber":1,
"SeriesId":"show","SeasonId":"s1","SeriesName":"Show","Path":"/tv/Show/S01E01.mkv",
"ProviderIds":{"Tmdb":"99","TencentID":"v1"},"Overview":"keep me"}`

func newTestServer(t *testing.T, posted *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get("X-Emby-Token"); token != "token-123" {
			t.Fatalf("unexpected token: %q", token)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/Items" && r.URL.Query().Get("Ids") == "ep1":
			_, _ = w.Write([]byte(`{"Items":[` + episodeDoc + `]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/Items" && r.URL.Query().Get("Ids") != "":
			_, _ = w.Write([]byte(`{"Items":[]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/Items" && r.URL.Query().Get("ParentId") == "s1":
			if r.URL.Query().Get("IncludeItemTypes") != "Episode" {
				t.Fatalf("unexpected item types %q", r.URL.Query().Get("IncludeItemTypes"))
			}
			_, _ = w.Write([]byte(`{"Items":[{"Id":"ep1","Type":"Episode","IndexNumber":1},{"Id":"ep2","Type":"Episode","IndexNumber":2,"LocationType":"Virtual"}]}`))
		case r.URL.Path == "/Items/ep1/Ancestors":
			_, _ = w.Write([]byte(`[{"Id":"s1","Type":"Season"},{"Id":"lib-tv","Name":"TV","Type":"CollectionFolder"}]`))
		case r.URL.Path == "/Library/VirtualFolders":
			_, _ = w.Write([]byte(`[{"Name":"TV","ItemId":"lib-tv","LibraryOptions":{"DisabledSubtitleFetchers":["Danmu"]}}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/Items/ep1":
			if err := json.NewDecoder(r.Body).Decode(posted); err != nil {
				t.Fatalf("decode posted body: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestGetItemMapsFields(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()
	store := NewStore(server.URL, "token-123", "Danmu", server.Client())

	item, err := store.GetItem(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if item.Kind != library.KindEpisode || item.SeasonID != "s1" || item.IndexNumber != 1 {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.ProviderID("TencentID") != "v1" || item.LibraryName != "TV" {
		t.Fatalf("unexpected provider ids or library %v %q", item.ProviderIDs, item.LibraryName)
	}

	if _, err := store.GetItem(context.Background(), "missing"); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChildrenMarksVirtual(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()
	store := NewStore(server.URL, "token-123", "Danmu", server.Client())

	children, err := store.Children(context.Background(), "s1", library.KindEpisode)
	if err != nil {
		t.Fatalf("Children returned error: %v", err)
	}
	if len(children) != 2 || children[0].Virtual || !children[1].Virtual {
		t.Fatalf("unexpected children %+v", children)
	}
}

func TestLibraryOptionsDisabledFetcher(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()

	store := NewStore(server.URL, "token-123", "Danmu", server.Client())
	opts, err := store.LibraryOptions(context.Background(), &library.Item{ID: "ep1"})
	if err != nil {
		t.Fatalf("LibraryOptions returned error: %v", err)
	}
	if !opts.Disabled || opts.Name != "TV" {
		t.Fatalf("unexpected options %+v", opts)
	}

	other := NewStore(server.URL, "token-123", "Other", server.Client())
	opts, err = other.LibraryOptions(context.Background(), &library.Item{ID: "ep1"})
	if err != nil || opts.Disabled {
		t.Fatalf("expected enabled library, got %+v err=%v", opts, err)
	}
}

func TestCommitPreservesDocument(t *testing.T) {
	var posted map[string]any
	server := newTestServer(t, &posted)
	defer server.Close()
	store := NewStore(server.URL, "token-123", "Danmu", server.Client())

	item := &library.Item{ID: "ep1", ProviderIDs: map[string]string{"IqiyiID": "q9", "TencentID": ""}}
	if err := store.Commit(context.Background(), item); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if posted["Overview"] != "keep me" {
		t.Fatalf("expected untouched fields to round-trip, got %v", posted)
	}
	ids, _ := posted["ProviderIds"].(map[string]any)
	if ids["IqiyiID"] != "q9" || ids["TencentID"] != "v1" || ids["Tmdb"] != "99" {
		t.Fatalf("unexpected merged provider ids %v", ids)
	}
}

func TestNewConfiguredStoreRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Library.Backend = config.BackendJellyfin
	if _, err := NewConfiguredStore(&cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	cfg.Library.URL = "http://jellyfin.local/"
	cfg.Library.APIKey = "key"
	store, err := NewConfiguredStore(&cfg)
	if err != nil {
		t.Fatalf("NewConfiguredStore returned error: %v", err)
	}
	if store.baseURL != "http://jellyfin.local" {
		t.Fatalf("unexpected base url %q", store.baseURL)
	}
}
