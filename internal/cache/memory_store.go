package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

// MemoryStore keeps the most recently used entries in process memory.
type MemoryStore struct {
	entries *lru.Cache
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	v, ok := s.entries.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.entries.Add(key, e)
	return nil
}

func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
