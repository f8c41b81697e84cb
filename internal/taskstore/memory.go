package taskstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// MemStore is an in-process Store for tests and single-node deployments that
// do not need durability across restarts.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]*types.Task)}
}

func (s *MemStore) Create(_ context.Context, kind types.TaskKind, owner string, payload json.RawMessage) (types.Task, error) {
	t := types.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Owner:     owner,
		State:     types.StatePending,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	cp := t
	s.tasks[t.ID] = &cp
	s.mu.Unlock()
	return t, nil
}

func (s *MemStore) Get(_ context.Context, id string) (types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.Task{}, notFoundError{id: id}
	}
	return *t, nil
}

func (s *MemStore) Update(_ context.Context, id string, p Patch) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.Task{}, notFoundError{id: id}
	}
	cp := *t
	if err := applyPatch(&cp, p, time.Now()); err != nil {
		return types.Task{}, err
	}
	s.tasks[id] = &cp
	return cp, nil
}

func (s *MemStore) List(_ context.Context, owner string, f Filter) ([]types.Task, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var afterNano int64
	var afterID string
	if f.Cursor != "" {
		var err error
		afterNano, afterID, err = decodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
	}

	s.mu.RLock()
	matched := make([]types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if owner != "" && t.Owner != owner {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.State != "" && t.State != f.State {
			continue
		}
		matched = append(matched, *t)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := make([]types.Task, 0, limit)
	for _, t := range matched {
		if f.Cursor != "" {
			nano := t.CreatedAt.UnixNano()
			if nano > afterNano || (nano == afterNano && t.ID >= afterID) {
				continue
			}
		}
		page = append(page, t)
		if len(page) == limit {
			break
		}
	}

	next := ""
	if len(page) == limit && len(page) < len(matched) {
		last := page[len(page)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, next, nil
}

func (s *MemStore) Delete(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || (owner != "" && t.Owner != owner) {
		return notFoundError{id: id}
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemStore) Close() error { return nil }
