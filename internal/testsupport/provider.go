package testsupport

import (
	"context"
	"sync"

	"danmu/internal/danmaku"
	"danmu/internal/library"
	"danmu/internal/provider"
)

// FakeProvider is a scriptable provider.Provider. Unset maps return nil
// results. Errors set on the fields are returned for every matching call.
type FakeProvider struct {
	ProviderName string
	ProviderKey  string

	mu sync.Mutex

	// Candidates maps search keyword to results.
	Candidates map[string][]provider.Candidate
	Media      map[string]*provider.Media
	Episodes   map[string]*provider.Episode
	Comments   map[string]*danmaku.Payload

	SearchErr   error
	MediaErr    error
	EpisodeErr  error
	CommentsErr error

	// CommentsHook, when set, runs before GetComments returns.
	CommentsHook func(commentID string)

	calls map[string]int
}

var _ provider.Provider = (*FakeProvider)(nil)

// NewFakeProvider constructs an empty scriptable provider.
func NewFakeProvider(name, key string) *FakeProvider {
	return &FakeProvider{
		ProviderName: name,
		ProviderKey:  key,
		Candidates:   make(map[string][]provider.Candidate),
		Media:        make(map[string]*provider.Media),
		Episodes:     make(map[string]*provider.Episode),
		Comments:     make(map[string]*danmaku.Payload),
		calls:        make(map[string]int),
	}
}

func (f *FakeProvider) Name() string { return f.ProviderName }
func (f *FakeProvider) Key() string  { return f.ProviderKey }

func (f *FakeProvider) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

// Calls reports how many times method ("Search", "GetMedia", "GetEpisode",
// "GetComments") was invoked.
func (f *FakeProvider) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls sums calls across every method.
func (f *FakeProvider) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// SetErrors replaces the scripted errors under the provider lock.
func (f *FakeProvider) SetErrors(search, media, episode, comments error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchErr, f.MediaErr, f.EpisodeErr, f.CommentsErr = search, media, episode, comments
}

func (f *FakeProvider) Search(_ context.Context, item *library.Item) ([]provider.Candidate, error) {
	f.record("Search")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return f.Candidates[item.Name], nil
}

func (f *FakeProvider) GetMedia(_ context.Context, _ *library.Item, id string) (*provider.Media, error) {
	f.record("GetMedia")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MediaErr != nil {
		return nil, f.MediaErr
	}
	return f.Media[id], nil
}

func (f *FakeProvider) GetEpisode(_ context.Context, _ *library.Item, id string) (*provider.Episode, error) {
	f.record("GetEpisode")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EpisodeErr != nil {
		return nil, f.EpisodeErr
	}
	return f.Episodes[id], nil
}

func (f *FakeProvider) GetComments(_ context.Context, commentID string) (*danmaku.Payload, error) {
	f.record("GetComments")
	f.mu.Lock()
	hook := f.CommentsHook
	err := f.CommentsErr
	payload := f.Comments[commentID]
	f.mu.Unlock()
	if hook != nil {
		hook(commentID)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
