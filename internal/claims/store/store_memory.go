package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"claimreg/internal/claims/models"
	"claimreg/pkg/domain"
	"claimreg/pkg/platform/sentinel"
)

// InMemory keeps claims in a map guarded by a mutex. It doubles as its own
// transaction manager: RunInTx serialises callers and undoes the writes of a
// failed callback.
type InMemory struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	claims map[string]models.Claim
}

func NewInMemory() *InMemory {
	return &InMemory{claims: make(map[string]models.Claim)}
}

type undoKey struct{}

// undoEntry restores one key to its state before a write.
type undoEntry struct {
	key     string
	prev    models.Claim
	existed bool
}

type undoLog struct {
	entries []undoEntry
}

func (s *InMemory) Get(_ context.Context, key domain.ClaimKey) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[string(key)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c.Key = c.Key.Clone()
	return &c, nil
}

func (s *InMemory) Contains(_ context.Context, key domain.ClaimKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.claims[string(key)]
	return ok, nil
}

// Insert overwrites any existing record under key.
func (s *InMemory) Insert(ctx context.Context, key domain.ClaimKey, owner domain.AccountID, block domain.BlockNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(ctx, string(key))
	s.claims[string(key)] = models.Claim{Key: key.Clone(), Owner: owner, Block: block}
	return nil
}

// Remove deletes key; removing an absent key is a no-op.
func (s *InMemory) Remove(ctx context.Context, key domain.ClaimKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(ctx, string(key))
	delete(s.claims, string(key))
	return nil
}

// List returns every claim ordered by key bytes.
func (s *InMemory) List(_ context.Context) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		c.Key = c.Key.Clone()
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// RunInTx runs fn under the store's writer lock. Writes made by fn are rolled
// back when it returns an error.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(undoKey{}).(*undoLog); nested {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, log)); err != nil {
		s.rollback(log)
		return err
	}
	return nil
}

// record must be called with s.mu held.
func (s *InMemory) record(ctx context.Context, key string) {
	log, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	prev, existed := s.claims[key]
	log.entries = append(log.entries, undoEntry{key: key, prev: prev, existed: existed})
}

func (s *InMemory) rollback(log *undoLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(log.entries) - 1; i >= 0; i-- {
		e := log.entries[i]
		if e.existed {
			s.claims[e.key] = e.prev
		} else {
			delete(s.claims, e.key)
		}
	}
}
