package service

import (
	"encoding/json"
	"fmt"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/rank"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Mutation is a decoded operation ready to apply to an item collection.
type Mutation struct {
	Type     domain.OperationType
	Item     domain.Item
	TargetID string
}

// ParseOperation decodes op. Unknown operation names yield
// ErrInvalidOperation; malformed data yields ErrInvalidPayload.
func ParseOperation(op *domain.Operation, now time.Time) (*Mutation, error) {
	if op == nil || !op.Operation.Valid() {
		name := ""
		if op != nil {
			name = string(op.Operation)
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, name)
	}

	if op.Operation == domain.OpDelete {
		var p domain.DeletePayload
		if err := json.Unmarshal(op.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &Mutation{Type: domain.OpDelete, TargetID: p.ID}, nil
	}

	var item domain.Item
	if err := json.Unmarshal(op.Data, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if item.Active() && item.Rank == "" {
		return nil, fmt.Errorf("%w: active item %s has no rank", ErrInvalidPayload, item.ID)
	}
	if item.Rank != "" {
		if err := rank.Validate(item.Rank); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	return &Mutation{Type: op.Operation, Item: item, TargetID: item.ID}, nil
}

// CheckRank fails with ErrRankTaken when the mutated item is active and
// another active item in items already holds its rank.
func (m *Mutation) CheckRank(items []domain.Item) error {
	if m.Type == domain.OpDelete || !m.Item.Active() {
		return nil
	}
	for i := range items {
		if items[i].ID != m.TargetID && items[i].Active() && items[i].Rank == m.Item.Rank {
			return fmt.Errorf("%w: %q is used by %s", ErrRankTaken, m.Item.Rank, items[i].ID)
		}
	}
	return nil
}

// ApplyTo returns the next item collection. The input is not modified.
//
// create prepends the item; if an item with the same id is already present
// (a retried create) it is replaced in place instead. update and move
// replace by id and are no-ops when the id is absent. delete removes by id
// and is a no-op when absent.
func (m *Mutation) ApplyTo(items []domain.Item) []domain.Item {
	next := domain.CloneItems(items)
	if next == nil {
		next = []domain.Item{}
	}
	idx := domain.FindItem(next, m.TargetID)

	switch m.Type {
	case domain.OpCreate:
		if idx >= 0 {
			next[idx] = m.Item.Clone()
			return next
		}
		return append([]domain.Item{m.Item.Clone()}, next...)

	case domain.OpUpdate, domain.OpMove:
		if idx >= 0 {
			next[idx] = m.Item.Clone()
		}
		return next

	case domain.OpDelete:
		if idx >= 0 {
			next = append(next[:idx], next[idx+1:]...)
		}
		return next
	}
	return next
}
