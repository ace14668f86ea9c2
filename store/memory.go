package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
)

// MemoryStore implements board.Store and auth.KeyStore in memory.
// The reference implementation: correctness of the conditional update is
// easiest to see here, and tests run against it. Tasks are deep-cloned on
// the way in and out so no caller can mutate the stored row.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*board.Task
	keys    map[string]*auth.Key
	closed  atomic.Bool
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*board.Task),
		keys:    make(map[string]*auth.Key),
		nowFunc: time.Now,
	}
}

// Get retrieves a task by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*board.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, board.ErrNotFound
	}
	return task.Clone(), nil
}

// Insert stores a new task under its id.
func (s *MemoryStore) Insert(ctx context.Context, task *board.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = task.Clone()
	return nil
}

// UpdateWhere applies patch iff the task's status still equals expected.
// The whole compare-and-set happens under one lock acquisition, which is
// what makes it the memory analogue of a conditional row update.
func (s *MemoryStore) UpdateWhere(ctx context.Context, id string, expected board.Status, patch board.Patch) (*board.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, board.ErrNotFound
	}
	if task.Status != expected {
		return nil, board.ErrPreconditionFailed
	}

	applyPatch(task, patch, s.nowFunc())
	return task.Clone(), nil
}

// applyPatch mutates a stored task in place. Shared with nothing; callers
// hold the write lock.
func applyPatch(task *board.Task, patch board.Patch, now time.Time) {
	task.Status = patch.Status

	if patch.Attempts != nil {
		task.Attempts = *patch.Attempts
	}
	if patch.ClaimedBy != nil {
		task.ClaimedBy = *patch.ClaimedBy
	}
	if patch.ClaimedAt != nil {
		v := *patch.ClaimedAt
		task.ClaimedAt = &v
	}
	if patch.ExpiresAt != nil {
		v := *patch.ExpiresAt
		task.ExpiresAt = &v
	}
	if patch.DeliveredAt != nil {
		v := *patch.DeliveredAt
		task.DeliveredAt = &v
	}
	if patch.Result != nil {
		task.Result = append([]byte(nil), patch.Result...)
	}
	if patch.ResultURL != nil {
		task.ResultURL = *patch.ResultURL
	}

	if patch.ClearClaim {
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		task.ExpiresAt = nil
	}
	if patch.ClearDelivery {
		task.DeliveredAt = nil
		task.Result = nil
		task.ResultURL = ""
	}
	if patch.ClearExpiry {
		task.ExpiresAt = nil
	}

	task.UpdatedAt = now
}

// List returns a page of matching tasks, newest first, plus the total
// match count.
func (s *MemoryStore) List(ctx context.Context, filter board.ListFilter) ([]*board.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*board.Task
	for _, task := range s.tasks {
		if !matchesList(task, filter) {
			continue
		}
		matched = append(matched, task)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	if filter.Offset >= total {
		return []*board.Task{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*board.Task, len(matched))
	for i, task := range matched {
		out[i] = task.Clone()
	}
	return out, total, nil
}

func matchesList(task *board.Task, filter board.ListFilter) bool {
	if filter.Status != "" && filter.Status != "all" && string(task.Status) != filter.Status {
		return false
	}
	if filter.RequiresHuman != nil && task.RequiresHuman != *filter.RequiresHuman {
		return false
	}
	return task.HasTag(filter.Tags)
}

// NextOpen returns the oldest open task matching the filter, or nil.
func (s *MemoryStore) NextOpen(ctx context.Context, filter board.WorkFilter) (*board.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *board.Task
	for _, task := range s.tasks {
		if task.Status != board.StatusOpen {
			continue
		}
		if filter.RequiresHuman != nil && task.RequiresHuman != *filter.RequiresHuman {
			continue
		}
		if !task.HasTag(filter.Tags) {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) {
			oldest = task
		}
	}
	return oldest.Clone(), nil
}

// ListExpired returns claimed tasks whose expires_at is at or before now.
func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*board.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*board.Task
	for _, task := range s.tasks {
		if task.Status != board.StatusClaimed || task.ExpiresAt == nil {
			continue
		}
		if task.ExpiresAt.After(now) {
			continue
		}
		stale = append(stale, task.Clone())
		if limit > 0 && len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

// InsertKey stores a minted API key.
func (s *MemoryStore) InsertKey(ctx context.Context, key *auth.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *key
	s.keys[key.Key] = &rec
	return nil
}

// LookupKey resolves a presented API key.
func (s *MemoryStore) LookupKey(ctx context.Context, key string) (*auth.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[key]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	rec := *k
	return &rec, nil
}

// Close releases resources. A memory store has none; Close exists to
// satisfy the interface symmetrically with the SQLite store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Ensure MemoryStore satisfies both contracts.
var (
	_ board.Store   = (*MemoryStore)(nil)
	_ auth.KeyStore = (*MemoryStore)(nil)
)
