package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/kvstore"
)

var (
	ErrListNotFound    = errors.New("list not found")
	ErrListExists      = errors.New("list already exists")
	ErrVersionMismatch = errors.New("list version mismatch")
)

// ListRepository maps a list id to its persisted record. Every method is a
// whole-record read-modify-write against the key-value backend.
type ListRepository interface {
	Get(ctx context.Context, id string) (*domain.List, error)
	Create(ctx context.Context, id string, items []domain.Item, owner string) (*domain.List, error)
	// ReplaceItems swaps the item collection and advances LastModified and
	// Version. When expectedVersion is non-nil and differs from the stored
	// version it fails with ErrVersionMismatch without writing.
	ReplaceItems(ctx context.Context, id string, items []domain.Item, expectedVersion *int64) (*domain.List, error)
	// Mutate loads the list, lets fn modify it and saves it, all while
	// holding the list's lock. An error from fn aborts without writing.
	// LastModified and Version are advanced after fn returns.
	Mutate(ctx context.Context, id string, fn func(list *domain.List) error) (*domain.List, error)
	// AddSubscriber is idempotent and a no-op when the list is absent.
	AddSubscriber(ctx context.Context, id, participantID string) error
	// RemoveSubscriber is a no-op when the list or the participant is absent.
	RemoveSubscriber(ctx context.Context, id, participantID string) error
	Delete(ctx context.Context, id string) error
}

type listRepository struct {
	store kvstore.Store
	locks *keyedMutex
	now   func() time.Time
}

func NewListRepository(store kvstore.Store) ListRepository {
	return &listRepository{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

func (r *listRepository) load(ctx context.Context, id string) (*domain.List, error) {
	raw, err := r.store.Get(ctx, id)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}

	var list domain.List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode list %s: %w", id, err)
	}
	if list.Items == nil {
		list.Items = []domain.Item{}
	}
	if list.Subscribers == nil {
		list.Subscribers = []string{}
	}
	return &list, nil
}

func (r *listRepository) save(ctx context.Context, list *domain.List) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode list %s: %w", list.ID, err)
	}
	if err := r.store.Set(ctx, list.ID, raw); err != nil {
		return fmt.Errorf("failed to save list: %w", err)
	}
	return nil
}

func (r *listRepository) Get(ctx context.Context, id string) (*domain.List, error) {
	return r.load(ctx, id)
}

func (r *listRepository) Create(ctx context.Context, id string, items []domain.Item, owner string) (*domain.List, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if _, err := r.load(ctx, id); err == nil {
		return nil, ErrListExists
	} else if !errors.Is(err, ErrListNotFound) {
		return nil, err
	}

	if items == nil {
		items = []domain.Item{}
	}
	now := r.now()
	list := &domain.List{
		ID:           id,
		Owner:        owner,
		Items:        items,
		LastModified: now,
		Version:      1,
		Subscribers:  []string{},
		CreatedAt:    now,
	}
	if owner != "" {
		list.Subscribers = append(list.Subscribers, owner)
	}

	if err := r.save(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *listRepository) ReplaceItems(ctx context.Context, id string, items []domain.Item, expectedVersion *int64) (*domain.List, error) {
	return r.Mutate(ctx, id, func(list *domain.List) error {
		if expectedVersion != nil && *expectedVersion != list.Version {
			return ErrVersionMismatch
		}
		list.Items = items
		return nil
	})
}

func (r *listRepository) Mutate(ctx context.Context, id string, fn func(list *domain.List) error) (*domain.List, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	list, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(list); err != nil {
		return nil, err
	}

	if list.Items == nil {
		list.Items = []domain.Item{}
	}
	list.Touch(r.now())

	if err := r.save(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *listRepository) AddSubscriber(ctx context.Context, id, participantID string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	list, err := r.load(ctx, id)
	if errors.Is(err, ErrListNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if list.HasSubscriber(participantID) {
		return nil
	}

	list.Subscribers = append(list.Subscribers, participantID)
	return r.save(ctx, list)
}

func (r *listRepository) RemoveSubscriber(ctx context.Context, id, participantID string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	list, err := r.load(ctx, id)
	if errors.Is(err, ErrListNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	kept := list.Subscribers[:0]
	removed := false
	for _, s := range list.Subscribers {
		if s == participantID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return nil
	}

	list.Subscribers = kept
	return r.save(ctx, list)
}

func (r *listRepository) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	if _, err := r.load(ctx, id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return nil
}

// keyedMutex serializes read-modify-write cycles on the same list id within
// this process. It is never held across requests.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
