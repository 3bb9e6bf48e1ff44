package domain

import (
	"sort"
	"time"
)

// Item is a single entry of a shared list. Display order among active items
// is ascending Rank.
type Item struct {
	ID          string     `json:"id" validate:"required,max=128"`
	Text        string     `json:"text" validate:"max=4096"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	Rank        string     `json:"rank,omitempty"`
}

// Active reports whether the item is neither completed nor deleted.
func (i *Item) Active() bool {
	return i.CompletedAt == nil && i.DeletedAt == nil
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	c := i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	if i.DeletedAt != nil {
		t := *i.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// CloneItems deep-copies a collection.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// SortForDisplay returns the active items ordered ascending by rank, ties
// broken by id so that every replica renders the same order.
func SortForDisplay(items []Item) []Item {
	active := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Active() {
			active = append(active, it)
		}
	}
	sort.SliceStable(active, func(a, b int) bool {
		if active[a].Rank != active[b].Rank {
			return active[a].Rank < active[b].Rank
		}
		return active[a].ID < active[b].ID
	})
	return active
}

// Completed returns completed, non-deleted items, most recently completed first.
func Completed(items []Item) []Item {
	done := make([]Item, 0)
	for _, it := range items {
		if it.CompletedAt != nil && it.DeletedAt == nil {
			done = append(done, it)
		}
	}
	sort.SliceStable(done, func(a, b int) bool {
		return done[a].CompletedAt.After(*done[b].CompletedAt)
	})
	return done
}

// FindItem returns the index of the item with the given id, or -1.
func FindItem(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
