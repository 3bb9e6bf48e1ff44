package service

import (
	"context"
	"errors"
	"testing"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/kvstore"
	"shared-list-server/internal/notify"
	"shared-list-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, change notify.Change) error {
	return m.Called(ctx, change).Error(0)
}

func (m *mockBroker) Subscribe(listID string) (<-chan notify.Change, func()) {
	ch := make(chan notify.Change)
	return ch, func() {}
}

func (m *mockBroker) Close() error {
	return nil
}

func TestListService_PublishFailureDoesNotFailWrite(t *testing.T) {
	broker := new(mockBroker)
	broker.On("Publish", mock.Anything, mock.MatchedBy(func(c notify.Change) bool {
		return c.ListID == "l" && c.Version == 1 && !c.Deleted
	})).Return(errors.New("broker down")).Once()

	svc := NewListService(repository.NewListRepository(kvstore.NewMemory()), broker, nil)

	list, err := svc.Apply(context.Background(), "l", "alice", itemOp(t, domain.OpCreate, domain.Item{ID: "a", Text: "milk", Rank: "a0"}))
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)

	broker.AssertExpectations(t)
}

func TestListService_DeletePublishesTombstone(t *testing.T) {
	broker := new(mockBroker)
	broker.On("Publish", mock.Anything, mock.MatchedBy(func(c notify.Change) bool { return !c.Deleted })).Return(nil)
	broker.On("Publish", mock.Anything, mock.MatchedBy(func(c notify.Change) bool { return c.Deleted && c.ListID == "l" })).Return(nil).Once()

	svc := NewListService(repository.NewListRepository(kvstore.NewMemory()), broker, nil)
	_, err := svc.CreateList(context.Background(), &domain.CreateListRequest{ID: "l"}, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteList(context.Background(), "l"))
	broker.AssertExpectations(t)
}
