package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process implementation of the repository boundaries,
// used by tests and single-node deployments without a database.
type MemoryStore struct {
	mu       sync.Mutex
	pending  map[int64]*PendingGame
	channels map[int64]*Channel
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:  make(map[int64]*PendingGame),
		channels: make(map[int64]*Channel),
	}
}

// PutPendingGame records an invitation, replacing any previous one with the
// same id.
func (s *MemoryStore) PutPendingGame(pg *PendingGame) {
	if pg == nil {
		return
	}
	s.mu.Lock()
	clone := *pg
	s.pending[pg.ID] = &clone
	s.mu.Unlock()
}

// PutChannel records a channel.
func (s *MemoryStore) PutChannel(ch *Channel) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	clone := *ch
	s.channels[ch.ID] = &clone
	s.mu.Unlock()
}

// Find returns the unconsumed pending game with the given id.
func (s *MemoryStore) Find(_ context.Context, id int64) (*PendingGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *pg
	return &clone, nil
}

// Consume removes and returns the pending game exactly once.
func (s *MemoryStore) Consume(_ context.Context, id int64) (*PendingGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.pending, id)
	return pg, nil
}

// FindChannel returns the channel with the given id.
func (s *MemoryStore) FindChannel(_ context.Context, id int64) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ch
	return &clone, nil
}

// ChannelFinder adapts the memory store to the Channels interface.
type ChannelFinder struct{ *MemoryStore }

// Find resolves the channel by id.
func (f ChannelFinder) Find(ctx context.Context, id int64) (*Channel, error) {
	return f.FindChannel(ctx, id)
}
