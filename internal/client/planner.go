package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/rank"
	"shared-list-server/internal/service"

	"github.com/google/uuid"
)

var ErrUnknownItem = errors.New("unknown item")

// Edit is a planned write: what to enqueue, and the item as it will look.
type Edit struct {
	Operation domain.OperationType
	TargetID  string
	Payload   interface{}
}

func (e Edit) operation() (*domain.Operation, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &domain.Operation{Operation: e.Operation, Data: raw}, nil
}

// Planner builds operations against a cached copy of a list and applies them
// to that copy straight away, so consecutive edits see each other before the
// server has confirmed anything.
type Planner struct {
	items []domain.Item
	gen   *rank.Generator
	now   func() time.Time
}

// NewPlanner starts from items. A nil gen uses deterministic ranks.
func NewPlanner(items []domain.Item, gen *rank.Generator) *Planner {
	if gen == nil {
		gen = rank.NewGenerator(nil)
	}
	return &Planner{
		items: domain.CloneItems(items),
		gen:   gen,
		now:   time.Now,
	}
}

// Items returns the optimistic local state.
func (p *Planner) Items() []domain.Item {
	return domain.CloneItems(p.items)
}

// AddItem creates an item at the top of the display order.
func (p *Planner) AddItem(text string) (Edit, error) {
	active := domain.SortForDisplay(p.items)

	key := p.gen.Initial()
	if len(active) > 0 {
		var err error
		key, err = p.gen.Before(active[0].Rank)
		if err != nil {
			return Edit{}, err
		}
	}

	now := p.now()
	item := domain.Item{
		ID:        uuid.New().String(),
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
		Rank:      key,
	}
	return p.commit(domain.OpCreate, item)
}

// Edit changes an item's text.
func (p *Planner) Edit(id, text string) (Edit, error) {
	item, err := p.find(id)
	if err != nil {
		return Edit{}, err
	}
	item.Text = text
	item.UpdatedAt = p.now()
	return p.commit(domain.OpUpdate, item)
}

// Complete marks an item done.
func (p *Planner) Complete(id string) (Edit, error) {
	item, err := p.find(id)
	if err != nil {
		return Edit{}, err
	}
	now := p.now()
	item.CompletedAt = &now
	item.UpdatedAt = now
	return p.commit(domain.OpUpdate, item)
}

// Reopen clears an item's completion. It goes back to the top of the list.
func (p *Planner) Reopen(id string) (Edit, error) {
	item, err := p.find(id)
	if err != nil {
		return Edit{}, err
	}
	item.CompletedAt = nil
	item.UpdatedAt = p.now()

	active := domain.SortForDisplay(p.items)
	item.Rank = p.gen.Initial()
	if len(active) > 0 {
		if item.Rank, err = p.gen.Before(active[0].Rank); err != nil {
			return Edit{}, err
		}
	}
	return p.commit(domain.OpUpdate, item)
}

// Remove deletes an item.
func (p *Planner) Remove(id string) (Edit, error) {
	if _, err := p.find(id); err != nil {
		return Edit{}, err
	}
	return p.commit(domain.OpDelete, domain.Item{ID: id})
}

// MoveBefore places id directly above neighborID in display order.
func (p *Planner) MoveBefore(id, neighborID string) (Edit, error) {
	return p.move(id, neighborID, false)
}

// MoveAfter places id directly below neighborID in display order.
func (p *Planner) MoveAfter(id, neighborID string) (Edit, error) {
	return p.move(id, neighborID, true)
}

func (p *Planner) move(id, neighborID string, after bool) (Edit, error) {
	if id == neighborID {
		return Edit{}, fmt.Errorf("cannot move %s relative to itself", id)
	}
	item, err := p.find(id)
	if err != nil {
		return Edit{}, err
	}

	// Display order without the moving item.
	var order []domain.Item
	for _, it := range domain.SortForDisplay(p.items) {
		if it.ID != id {
			order = append(order, it)
		}
	}
	pos := -1
	for i := range order {
		if order[i].ID == neighborID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Edit{}, fmt.Errorf("%w: %s", ErrUnknownItem, neighborID)
	}

	var low, high string
	if after {
		low = order[pos].Rank
		if pos+1 < len(order) {
			high = order[pos+1].Rank
		}
	} else {
		high = order[pos].Rank
		if pos > 0 {
			low = order[pos-1].Rank
		}
	}

	key, err := p.gen.Between(low, high)
	if err != nil {
		return Edit{}, err
	}
	item.Rank = key
	item.UpdatedAt = p.now()
	return p.commit(domain.OpMove, item)
}

func (p *Planner) find(id string) (domain.Item, error) {
	idx := domain.FindItem(p.items, id)
	if idx < 0 {
		return domain.Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return p.items[idx].Clone(), nil
}

// commit applies the edit to the local copy with the same rules the server
// uses, then returns it for enqueueing.
func (p *Planner) commit(op domain.OperationType, item domain.Item) (Edit, error) {
	edit := Edit{Operation: op, TargetID: item.ID, Payload: item}
	if op == domain.OpDelete {
		edit.Payload = domain.DeletePayload{ID: item.ID}
	}

	wire, err := edit.operation()
	if err != nil {
		return Edit{}, err
	}
	m, err := service.ParseOperation(wire, p.now())
	if err != nil {
		return Edit{}, err
	}
	if err := m.CheckRank(p.items); err != nil {
		return Edit{}, err
	}
	p.items = m.ApplyTo(p.items)
	return edit, nil
}
