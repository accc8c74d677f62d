package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"danmu/internal/config"
	"danmu/internal/library"
	"danmu/internal/services"
)

const itemFields = "ProviderIds,Path,ProductionYear,ParentId,SeriesName"

// HTTPDoer describes the HTTP client used by the Jellyfin store.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Store reads and commits library items through the Jellyfin API.
type Store struct {
	baseURL     string
	apiKey      string
	fetcherName string
	client      HTTPDoer
}

var _ library.Store = (*Store)(nil)

// NewConfiguredStore builds a store from the [library] section.
func NewConfiguredStore(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("jellyfin store: %w", services.ErrConfiguration)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Library.URL), "/")
	apiKey := strings.TrimSpace(cfg.Library.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "library", "configure jellyfin", "library.url and library.api_key are required", nil)
	}
	timeout := time.Duration(cfg.Library.RequestTimeout) * time.Second
	return NewStore(baseURL, apiKey, cfg.Library.FetcherName, &http.Client{Timeout: timeout}), nil
}

// NewStore constructs a store with an explicit HTTP client.
func NewStore(baseURL, apiKey, fetcherName string, client HTTPDoer) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      strings.TrimSpace(apiKey),
		fetcherName: strings.TrimSpace(fetcherName),
		client:      client,
	}
}

type itemDTO struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"`
	ProductionYear    int               `json:"ProductionYear"`
	IndexNumber       int               `json:"IndexNumber"`
	ParentIndexNumber int               `json:"ParentIndexNumber"`
	SeriesID          string            `json:"SeriesId"`
	SeasonID          string            `json:"SeasonId"`
	SeriesName        string            `json:"SeriesName"`
	Path              string            `json:"Path"`
	LocationType      string            `json:"LocationType"`
	IsVirtual         bool              `json:"IsVirtualItem"`
	ProviderIDs       map[string]string `json:"ProviderIds"`
}

func (d itemDTO) toItem() *library.Item {
	item := &library.Item{
		ID:                d.ID,
		Kind:              library.ParseKind(d.Type),
		Name:              d.Name,
		Year:              d.ProductionYear,
		IndexNumber:       d.IndexNumber,
		ParentIndexNumber: d.ParentIndexNumber,
		SeriesID:          d.SeriesID,
		SeasonID:          d.SeasonID,
		SeriesName:        d.SeriesName,
		Path:              d.Path,
		Virtual:           d.IsVirtual || strings.EqualFold(d.LocationType, "Virtual"),
	}
	for key, value := range d.ProviderIDs {
		item.SetProviderID(key, value)
	}
	return item
}

type itemsResponse struct {
	Items []json.RawMessage `json:"Items"`
}

type virtualFolder struct {
	Name           string `json:"Name"`
	ItemID         string `json:"ItemId"`
	LibraryOptions struct {
		DisabledSubtitleFetchers []string `json:"DisabledSubtitleFetchers"`
	} `json:"LibraryOptions"`
}

type ancestor struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
	Type string `json:"Type"`
}

// GetItem loads one item. Missing items return library.ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (*library.Item, error) {
	raw, err := s.rawItem(ctx, id)
	if err != nil {
		return nil, err
	}
	var dto itemDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "library", "decode item", "Invalid Jellyfin item document", err)
	}
	item := dto.toItem()
	if name, err := s.libraryName(ctx, id); err == nil {
		item.LibraryName = name
	}
	return item, nil
}

// Children lists seasons of a series or episodes of a season in index order.
func (s *Store) Children(ctx context.Context, parentID string, kind library.Kind) ([]*library.Item, error) {
	query := url.Values{}
	query.Set("ParentId", parentID)
	query.Set("IncludeItemTypes", kind.String())
	query.Set("Fields", itemFields)
	query.Set("SortBy", "ParentIndexNumber,IndexNumber,SortName")
	query.Set("Recursive", "true")

	var resp itemsResponse
	if err := s.getJSON(ctx, "/Items?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	items := make([]*library.Item, 0, len(resp.Items))
	for _, raw := range resp.Items {
		var dto itemDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "library", "decode children", "Invalid Jellyfin item document", err)
		}
		items = append(items, dto.toItem())
	}
	return items, nil
}

// LibraryOptions resolves the collection folder that contains item and
// reports whether its subtitle fetchers exclude this fetcher.
func (s *Store) LibraryOptions(ctx context.Context, item *library.Item) (library.Options, error) {
	if item == nil {
		return library.Options{}, nil
	}
	var ancestors []ancestor
	if err := s.getJSON(ctx, "/Items/"+url.PathEscape(item.ID)+"/Ancestors", &ancestors); err != nil {
		return library.Options{}, err
	}
	var folders []virtualFolder
	if err := s.getJSON(ctx, "/Library/VirtualFolders", &folders); err != nil {
		return library.Options{}, err
	}
	for _, folder := range folders {
		for _, anc := range ancestors {
			if folder.ItemID == "" || !strings.EqualFold(folder.ItemID, anc.ID) {
				continue
			}
			opts := library.Options{Name: folder.Name}
			for _, fetcher := range folder.LibraryOptions.DisabledSubtitleFetchers {
				if s.fetcherName != "" && strings.EqualFold(fetcher, s.fetcherName) {
					opts.Disabled = true
				}
			}
			return opts, nil
		}
	}
	return library.Options{Name: item.LibraryName}, nil
}

// Commit merges item's provider ids into the server document and posts it
// back.
func (s *Store) Commit(ctx context.Context, item *library.Item) error {
	if item == nil {
		return fmt.Errorf("commit: nil item")
	}
	raw, err := s.rawItem(ctx, item.ID)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return services.Wrap(services.ErrExternalTool, "library", "decode item", "Invalid Jellyfin item document", err)
	}
	ids, _ := doc["ProviderIds"].(map[string]any)
	if ids == nil {
		ids = make(map[string]any)
	}
	for key, value := range item.ProviderIDs {
		if strings.TrimSpace(value) != "" {
			ids[key] = value
		}
	}
	doc["ProviderIds"] = ids

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/Items/"+url.PathEscape(item.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "library", "commit item", "Jellyfin request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", library.ErrNotFound, item.ID)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalTool, "library", "commit item", fmt.Sprintf("Jellyfin returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (s *Store) rawItem(ctx context.Context, id string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("Ids", id)
	query.Set("Fields", itemFields)
	var resp itemsResponse
	if err := s.getJSON(ctx, "/Items?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", library.ErrNotFound, id)
	}
	return resp.Items[0], nil
}

func (s *Store) libraryName(ctx context.Context, id string) (string, error) {
	var ancestors []ancestor
	if err := s.getJSON(ctx, "/Items/"+url.PathEscape(id)+"/Ancestors", &ancestors); err != nil {
		return "", err
	}
	for _, anc := range ancestors {
		if strings.EqualFold(anc.Type, "CollectionFolder") {
			return anc.Name, nil
		}
	}
	return "", nil
}

func (s *Store) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build jellyfin request: %w", err)
	}
	req.Header.Set("X-Emby-Token", s.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *Store) getJSON(ctx context.Context, path string, out any) error {
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "library", "jellyfin request", "Jellyfin request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", library.ErrNotFound, path)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalTool, "library", "jellyfin request", fmt.Sprintf("Jellyfin returned %d for %s", resp.StatusCode, path), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, "library", "decode response", "Invalid Jellyfin response", err)
	}
	return nil
}
