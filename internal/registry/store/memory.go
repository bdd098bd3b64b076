package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"objectmap/internal/registry/models"
	"objectmap/pkg/platform/sentinel"
)

// InMemory is a process-local registry store.
//
// RunInTx serializes writers on txMu and stages changes in a memTx; changes are
// applied only when the callback returns nil. Once a frozen state is committed the
// store publishes an immutable view and reads stop taking locks.
type InMemory struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	state   *models.Registry
	entries map[models.Number]models.Entry

	frozen atomic.Pointer[frozenView]
}

type frozenView struct {
	state   *models.Registry
	ordered []models.Entry
	index   map[models.Number]int
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[models.Number]models.Entry)}
}

// Init creates the registry row if absent. A second Init with the same size is a no-op.
func (s *InMemory) Init(_ context.Context, reg *models.Registry) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		if s.state.Size != reg.Size {
			return fmt.Errorf("registry size %d does not match configured %d: %w", s.state.Size, reg.Size, sentinel.ErrInvalidState)
		}
		return nil
	}
	s.state = reg.Clone()
	return nil
}

func (s *InMemory) LoadState(_ context.Context) (*models.Registry, error) {
	if v := s.frozen.Load(); v != nil {
		return v.state.Clone(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *InMemory) FindEntry(_ context.Context, number models.Number) (*models.Entry, error) {
	if v := s.frozen.Load(); v != nil {
		i, ok := v.index[number]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		e := v.ordered[i]
		return &e, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &e, nil
}

// ListEntries returns up to limit entries with Number >= from, ascending.
func (s *InMemory) ListEntries(_ context.Context, from models.Number, limit int) ([]models.Entry, error) {
	var ordered []models.Entry
	if v := s.frozen.Load(); v != nil {
		ordered = v.ordered
	} else {
		s.mu.RLock()
		ordered = sortedEntries(s.entries)
		s.mu.RUnlock()
	}
	start := sort.Search(len(ordered), func(i int) bool { return ordered[i].Number >= from })
	end := len(ordered)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]models.Entry{}, ordered[start:end]...), nil
}

// RunInTx runs fn with exclusive write access. Staged changes are discarded when fn
// returns an error.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, staged: make(map[models.Number]models.Entry)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *InMemory) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, e := range tx.staged {
		s.entries[n] = e
	}
	if tx.state != nil {
		s.state = tx.state
	}
	if s.state != nil && s.state.Frozen && s.frozen.Load() == nil {
		ordered := sortedEntries(s.entries)
		index := make(map[models.Number]int, len(ordered))
		for i, e := range ordered {
			index[e.Number] = i
		}
		s.frozen.Store(&frozenView{state: s.state.Clone(), ordered: ordered, index: index})
	}
}

// memTx is valid only for the duration of a RunInTx callback; txMu is held.
type memTx struct {
	store  *InMemory
	state  *models.Registry
	staged map[models.Number]models.Entry
}

func (t *memTx) LockState(_ context.Context) (*models.Registry, error) {
	if t.state != nil {
		return t.state.Clone(), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.state == nil {
		return nil, sentinel.ErrNotFound
	}
	return t.store.state.Clone(), nil
}

func (t *memTx) SaveState(_ context.Context, reg *models.Registry) error {
	if reg == nil {
		return fmt.Errorf("save nil registry: %w", sentinel.ErrInvalidState)
	}
	t.state = reg.Clone()
	return nil
}

func (t *memTx) HasEntry(_ context.Context, number models.Number) (bool, error) {
	if _, ok := t.staged[number]; ok {
		return true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.entries[number]
	return ok, nil
}

func (t *memTx) InsertEntry(ctx context.Context, entry models.Entry) error {
	exists, err := t.HasEntry(ctx, entry.Number)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("entry %d: %w", entry.Number, sentinel.ErrAlreadyUsed)
	}
	t.staged[entry.Number] = entry
	return nil
}

func sortedEntries(m map[models.Number]models.Entry) []models.Entry {
	out := make([]models.Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
