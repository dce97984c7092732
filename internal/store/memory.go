package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tradeloop/paper-engine/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	fills []model.Fill
	ids   map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) InsertFill(_ context.Context, f *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[f.ID]; dup {
		return fmt.Errorf("fill %s already recorded", f.ID)
	}
	s.ids[f.ID] = struct{}{}
	s.fills = append(s.fills, *f)
	return nil
}

func (s *MemoryStore) ListFills(_ context.Context) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Fill, len(s.fills))
	copy(out, s.fills)
	return out, nil
}

func (s *MemoryStore) FillsBySymbol(_ context.Context, symbol string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.Symbol == symbol {
			result = append(result, f)
		}
	}
	return result, nil
}
