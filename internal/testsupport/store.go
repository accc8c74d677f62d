package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"danmu/internal/library"
)

// MemoryStore is an in-memory library.Store. It returns clones so callers
// cannot mutate stored state without committing.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]*library.Item
	disabled map[string]bool
	commits  map[string]int
	gets     map[string]int

	// CommitErr, when set, fails every Commit.
	CommitErr error
	// OptionsErr, when set, fails every LibraryOptions call.
	OptionsErr error
}

var (
	_ library.Store    = (*MemoryStore)(nil)
	_ library.Upserter = (*MemoryStore)(nil)
)

// NewMemoryStore seeds a store with items.
func NewMemoryStore(items ...*library.Item) *MemoryStore {
	s := &MemoryStore{
		items:    make(map[string]*library.Item),
		disabled: make(map[string]bool),
		commits:  make(map[string]int),
		gets:     make(map[string]int),
	}
	for _, item := range items {
		s.items[item.ID] = item.Clone()
	}
	return s
}

// DisableLibrary marks a library name as excluded.
func (s *MemoryStore) DisableLibrary(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[name] = true
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (*library.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[id]++
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", library.ErrNotFound, id)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) LibraryOptions(_ context.Context, item *library.Item) (library.Options, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OptionsErr != nil {
		return library.Options{}, s.OptionsErr
	}
	return library.Options{Name: item.LibraryName, Disabled: s.disabled[item.LibraryName]}, nil
}

func (s *MemoryStore) Children(_ context.Context, parentID string, kind library.Kind) ([]*library.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*library.Item
	for _, item := range s.items {
		if item.Kind != kind {
			continue
		}
		switch kind {
		case library.KindSeason:
			if item.SeriesID != parentID {
				continue
			}
		case library.KindEpisode:
			if item.SeasonID != parentID {
				continue
			}
		default:
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentIndexNumber != out[j].ParentIndexNumber {
			return out[i].ParentIndexNumber < out[j].ParentIndexNumber
		}
		if out[i].IndexNumber != out[j].IndexNumber {
			return out[i].IndexNumber < out[j].IndexNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Commit(_ context.Context, item *library.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	existing, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: %s", library.ErrNotFound, item.ID)
	}
	for key, value := range item.ProviderIDs {
		existing.SetProviderID(key, value)
	}
	s.commits[item.ID]++
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, item *library.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[item.ID]; ok {
		merged := item.Clone()
		for key, value := range existing.ProviderIDs {
			if merged.ProviderID(key) == "" {
				merged.SetProviderID(key, value)
			}
		}
		s.items[item.ID] = merged
		return nil
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Put replaces an item without counting a commit.
func (s *MemoryStore) Put(item *library.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
}

// Item returns a clone of the stored item or nil.
func (s *MemoryStore) Item(id string) *library.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Clone()
}

// Commits reports how many times id was committed.
func (s *MemoryStore) Commits(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[id]
}

// TotalCommits reports the number of commits across all items.
func (s *MemoryStore) TotalCommits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.commits {
		total += n
	}
	return total
}

// Gets reports how many times id was read.
func (s *MemoryStore) Gets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}
