// Package memory is an in-process store.GroupStore. Data lives only as long
// as the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"payup/internal/core"
	"payup/internal/store"
)

type group struct {
	info    core.Group
	records []core.ExpenseRecord
	ids     map[string]struct{}
	plan    *core.Summary
}

type Store struct {
	mu     sync.RWMutex
	groups map[string]*group
}

var _ store.GroupStore = (*Store)(nil)

func New() *Store {
	return &Store{groups: make(map[string]*group)}
}

func (s *Store) CreateGroup(_ context.Context, g core.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.Key]; ok {
		return fmt.Errorf("group %s: %w", g.Key, store.ErrConflict)
	}
	g.Members = append([]core.ParticipantID(nil), g.Members...)
	s.groups[g.Key] = &group{info: g, ids: make(map[string]struct{})}
	return nil
}

func (s *Store) AddMember(_ context.Context, key string, id core.ParticipantID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		return false, fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if g.info.HasMember(id) {
		return false, nil
	}
	g.info.Members = append(g.info.Members, id)
	return true, nil
}

func (s *Store) GetGroup(_ context.Context, key string) (core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	if !ok {
		return core.Group{}, fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	out := g.info
	out.Members = append([]core.ParticipantID(nil), g.info.Members...)
	return out, nil
}

func (s *Store) ListGroupKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.groups))
	for k := range s.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// AppendExpense stores a copy of rec. A non-empty ID may only be used once
// per group.
func (s *Store) AppendExpense(_ context.Context, key string, rec core.ExpenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		return fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if rec.ID != "" {
		if _, dup := g.ids[rec.ID]; dup {
			return fmt.Errorf("expense %s: %w", rec.ID, store.ErrConflict)
		}
		g.ids[rec.ID] = struct{}{}
	}
	g.records = append(g.records, store.CloneRecord(rec))
	return nil
}

func (s *Store) ListExpenses(_ context.Context, key string) ([]core.ExpenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	out := make([]core.ExpenseRecord, len(g.records))
	for i, r := range g.records {
		out[i] = store.CloneRecord(r)
	}
	store.SortRecords(out)
	return out, nil
}

func (s *Store) SavePlan(_ context.Context, sum core.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[sum.GroupKey]
	if !ok {
		return fmt.Errorf("group %s: %w", sum.GroupKey, store.ErrNotFound)
	}
	sum.Balances = sum.Balances.Clone()
	sum.Transfers = append([]core.Transfer(nil), sum.Transfers...)
	g.plan = &sum
	return nil
}

func (s *Store) LatestPlan(_ context.Context, key string) (core.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	if !ok || g.plan == nil {
		return core.Summary{}, fmt.Errorf("plan for %s: %w", key, store.ErrNotFound)
	}
	out := *g.plan
	out.Balances = out.Balances.Clone()
	out.Transfers = append([]core.Transfer(nil), out.Transfers...)
	return out, nil
}

func (s *Store) Close() error { return nil }
