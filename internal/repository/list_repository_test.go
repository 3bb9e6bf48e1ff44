package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(now func() time.Time) *listRepository {
	r := NewListRepository(kvstore.NewMemory()).(*listRepository)
	if now != nil {
		r.now = now
	}
	return r
}

func TestListRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(nil)

	created, err := repo.Create(ctx, "groceries", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, []string{"alice"}, created.Subscribers)
	assert.NotNil(t, created.Items)

	got, err := repo.Get(ctx, "groceries")
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.ID)
	assert.Empty(t, got.Items)

	_, err = repo.Create(ctx, "groceries", nil, "bob")
	assert.ErrorIs(t, err, ErrListExists)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestListRepository_ReplaceItems(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newTestRepo(func() time.Time { return frozen })

	_, err := repo.ReplaceItems(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, ErrListNotFound)

	created, err := repo.Create(ctx, "l", nil, "")
	require.NoError(t, err)

	items := []domain.Item{{ID: "a", Text: "milk", Rank: "a0"}}
	first, err := repo.ReplaceItems(ctx, "l", items, nil)
	require.NoError(t, err)
	assert.True(t, first.LastModified.After(created.LastModified), "lastModified must advance with a frozen clock")
	assert.Equal(t, int64(2), first.Version)

	second, err := repo.ReplaceItems(ctx, "l", items, nil)
	require.NoError(t, err)
	assert.True(t, second.LastModified.After(first.LastModified))

	stale := int64(1)
	_, err = repo.ReplaceItems(ctx, "l", items, &stale)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	current := second.Version
	third, err := repo.ReplaceItems(ctx, "l", nil, &current)
	require.NoError(t, err)
	assert.Empty(t, third.Items)
}

func TestListRepository_MutateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(nil)

	created, err := repo.Create(ctx, "l", []domain.Item{{ID: "a", Rank: "a0"}}, "")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = repo.Mutate(ctx, "l", func(list *domain.List) error {
		list.Items = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "l")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.Equal(t, created.Version, got.Version)
}

func TestListRepository_Subscribers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(nil)

	assert.NoError(t, repo.AddSubscriber(ctx, "absent", "p1"))
	assert.NoError(t, repo.RemoveSubscriber(ctx, "absent", "p1"))

	_, err := repo.Create(ctx, "l", nil, "")
	require.NoError(t, err)

	require.NoError(t, repo.AddSubscriber(ctx, "l", "p1"))
	require.NoError(t, repo.AddSubscriber(ctx, "l", "p1"))
	require.NoError(t, repo.AddSubscriber(ctx, "l", "p2"))

	list, err := repo.Get(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, list.Subscribers)
	assert.Equal(t, int64(1), list.Version, "subscriber bookkeeping does not bump the version")

	require.NoError(t, repo.RemoveSubscriber(ctx, "l", "p1"))
	require.NoError(t, repo.RemoveSubscriber(ctx, "l", "p1"))

	list, err = repo.Get(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, list.Subscribers)
}

func TestListRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(nil)

	assert.ErrorIs(t, repo.Delete(ctx, "l"), ErrListNotFound)

	_, err := repo.Create(ctx, "l", nil, "")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "l"))

	_, err = repo.Get(ctx, "l")
	assert.ErrorIs(t, err, ErrListNotFound)
}

type failingStore struct {
	kvstore.Store
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestListRepository_BackendFailure(t *testing.T) {
	repo := NewListRepository(failingStore{Store: kvstore.NewMemory()})

	_, err := repo.Get(context.Background(), "l")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrListNotFound)

	assert.Error(t, repo.AddSubscriber(context.Background(), "l", "p"))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	assert.Empty(t, k.locks)
}
