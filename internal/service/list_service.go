package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/logging"
	"shared-list-server/internal/notify"
	"shared-list-server/internal/repository"

	"github.com/google/uuid"
)

const (
	// DefaultActivityLimit caps RecentActivity when no limit is given.
	DefaultActivityLimit = 50

	// createAttempts bounds how often Apply retries when a create races with
	// another writer creating or deleting the same list.
	createAttempts = 3
)

// ListService is the operation processor. It owns every mutation of a list's
// item collection and announces each successful write on the broker.
type ListService struct {
	repo   repository.ListRepository
	broker notify.Broker
	logger *logging.Logger
	now    func() time.Time
}

func NewListService(repo repository.ListRepository, broker notify.Broker, logger *logging.Logger) *ListService {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ListService{
		repo:   repo,
		broker: broker,
		logger: logger.WithComponent("list_service"),
		now:    time.Now,
	}
}

// Apply validates op and applies it to the list. A create against a missing
// list creates the list holding just that item; any other operation against a
// missing list fails with ErrListNotFound. When op carries an expected version
// that is no longer current, Apply fails with ErrConflict and writes nothing;
// an active item whose rank another active item holds fails with ErrRankTaken.
func (s *ListService) Apply(ctx context.Context, listID, participantID string, op *domain.Operation) (*domain.List, error) {
	m, err := ParseOperation(op, s.now())
	if err != nil {
		return nil, err
	}

	log := s.logger.WithList(listID)
	for attempt := 0; attempt < createAttempts; attempt++ {
		list, err := s.repo.Mutate(ctx, listID, func(list *domain.List) error {
			if op.ExpectedVersion != nil && *op.ExpectedVersion != list.Version {
				return fmt.Errorf("%w: expected %d, current %d", ErrConflict, *op.ExpectedVersion, list.Version)
			}
			if err := m.CheckRank(list.Items); err != nil {
				return err
			}
			list.Items = m.ApplyTo(list.Items)
			return nil
		})
		if err == nil {
			log.Debug("Operation applied",
				"operation", string(m.Type),
				"item_id", m.TargetID,
				"version", list.Version,
			)
			s.publish(ctx, list, false)
			return list, nil
		}
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		if !errors.Is(err, repository.ErrListNotFound) {
			return nil, &PersistenceError{Op: "write", ListID: listID, Err: err}
		}

		if m.Type != domain.OpCreate {
			return nil, ErrListNotFound
		}
		if op.ExpectedVersion != nil && *op.ExpectedVersion != 0 {
			return nil, fmt.Errorf("%w: list does not exist", ErrConflict)
		}
		created, err := s.repo.Create(ctx, listID, m.ApplyTo(nil), participantID)
		if errors.Is(err, repository.ErrListExists) {
			// Another writer created it first; apply on top of theirs.
			continue
		}
		if err != nil {
			return nil, &PersistenceError{Op: "create", ListID: listID, Err: err}
		}
		log.Info("List created by first item", "item_id", m.TargetID, "participant_id", participantID)
		s.publish(ctx, created, false)
		return created, nil
	}

	return nil, &PersistenceError{Op: "create", ListID: listID, Err: errors.New("list appeared and vanished repeatedly")}
}

func (s *ListService) Get(ctx context.Context, listID string) (*domain.List, error) {
	list, err := s.repo.Get(ctx, listID)
	if errors.Is(err, repository.ErrListNotFound) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", ListID: listID, Err: err}
	}
	return list, nil
}

// CreateList creates a list. An empty id gets a generated one.
func (s *ListService) CreateList(ctx context.Context, req *domain.CreateListRequest, owner string) (*domain.List, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	items := domain.CloneItems(req.Items)
	now := s.now()
	for i := range items {
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
		if items[i].UpdatedAt.IsZero() {
			items[i].UpdatedAt = now
		}
	}

	list, err := s.repo.Create(ctx, id, items, owner)
	if errors.Is(err, repository.ErrListExists) {
		return nil, ErrListExists
	}
	if err != nil {
		return nil, &PersistenceError{Op: "create", ListID: id, Err: err}
	}

	s.logger.WithList(id).Info("List created", "owner", owner, "items", len(items))
	s.publish(ctx, list, false)
	return list, nil
}

func (s *ListService) DeleteList(ctx context.Context, listID string) error {
	err := s.repo.Delete(ctx, listID)
	if errors.Is(err, repository.ErrListNotFound) {
		return ErrListNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "delete", ListID: listID, Err: err}
	}

	s.logger.WithList(listID).Info("List deleted")
	s.publish(ctx, &domain.List{ID: listID, LastModified: s.now()}, true)
	return nil
}

// AddSubscriber records participantID as a subscriber. It is idempotent and
// does nothing when the list does not exist.
func (s *ListService) AddSubscriber(ctx context.Context, listID, participantID string) error {
	if err := s.repo.AddSubscriber(ctx, listID, participantID); err != nil {
		return &PersistenceError{Op: "subscribe", ListID: listID, Err: err}
	}
	return nil
}

func (s *ListService) RemoveSubscriber(ctx context.Context, listID, participantID string) error {
	if err := s.repo.RemoveSubscriber(ctx, listID, participantID); err != nil {
		return &PersistenceError{Op: "unsubscribe", ListID: listID, Err: err}
	}
	return nil
}

// RecentActivity derives activity entries from the current item timestamps.
// Only entries strictly after since are returned, newest first, at most limit
// of them (DefaultActivityLimit when limit <= 0).
func (s *ListService) RecentActivity(ctx context.Context, listID string, since time.Time, limit int) ([]domain.Activity, error) {
	list, err := s.Get(ctx, listID)
	if err != nil {
		return nil, err
	}
	return DeriveActivity(list.Items, since, limit), nil
}

func DeriveActivity(items []domain.Item, since time.Time, limit int) []domain.Activity {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	entries := make([]domain.Activity, 0)
	add := func(it domain.Item, kind domain.ActivityKind, at time.Time) {
		if at.After(since) {
			entries = append(entries, domain.Activity{ItemID: it.ID, Text: it.Text, Kind: kind, At: at})
		}
	}

	for _, it := range items {
		add(it, domain.ActivityCreated, it.CreatedAt)
		if it.UpdatedAt.After(it.CreatedAt) && !sameInstant(it.UpdatedAt, it.CompletedAt) && !sameInstant(it.UpdatedAt, it.DeletedAt) {
			add(it, domain.ActivityUpdated, it.UpdatedAt)
		}
		if it.CompletedAt != nil {
			add(it, domain.ActivityCompleted, *it.CompletedAt)
		}
		if it.DeletedAt != nil {
			add(it, domain.ActivityDeleted, *it.DeletedAt)
		}
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].At.After(entries[b].At)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func sameInstant(t time.Time, p *time.Time) bool {
	return p != nil && t.Equal(*p)
}

func (s *ListService) publish(ctx context.Context, list *domain.List, deleted bool) {
	if s.broker == nil {
		return
	}
	change := notify.Change{
		ListID:       list.ID,
		Version:      list.Version,
		LastModified: list.LastModified,
		Deleted:      deleted,
	}
	if err := s.broker.Publish(ctx, change); err != nil {
		s.logger.WithList(list.ID).Warn("Failed to publish change", "error", err)
	}
}
