package client

import (
	"encoding/json"
	"math/rand"
	"testing"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/rank"
	"shared-list-server/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func displayTexts(items []domain.Item) []string {
	var out []string
	for _, it := range domain.SortForDisplay(items) {
		out = append(out, it.Text)
	}
	return out
}

func TestPlanner_AddPutsNewestOnTop(t *testing.T) {
	p := NewPlanner(nil, nil)

	first, err := p.AddItem("milk")
	require.NoError(t, err)
	assert.Equal(t, domain.OpCreate, first.Operation)

	_, err = p.AddItem("eggs")
	require.NoError(t, err)
	_, err = p.AddItem("bread")
	require.NoError(t, err)

	assert.Equal(t, []string{"bread", "eggs", "milk"}, displayTexts(p.Items()))
}

func TestPlanner_Moves(t *testing.T) {
	p := NewPlanner(nil, nil)
	ids := map[string]string{}
	for _, text := range []string{"c", "b", "a"} {
		edit, err := p.AddItem(text)
		require.NoError(t, err)
		ids[text] = edit.TargetID
	}
	require.Equal(t, []string{"a", "b", "c"}, displayTexts(p.Items()))

	edit, err := p.MoveAfter(ids["a"], ids["c"])
	require.NoError(t, err)
	assert.Equal(t, domain.OpMove, edit.Operation)
	assert.Equal(t, []string{"b", "c", "a"}, displayTexts(p.Items()))

	_, err = p.MoveBefore(ids["a"], ids["b"])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, displayTexts(p.Items()))

	_, err = p.MoveBefore(ids["c"], ids["b"])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, displayTexts(p.Items()))

	_, err = p.MoveAfter(ids["a"], ids["a"])
	assert.Error(t, err)
	_, err = p.MoveAfter(ids["a"], "ghost")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestPlanner_CompleteReopenRemove(t *testing.T) {
	p := NewPlanner(nil, nil)
	milk, err := p.AddItem("milk")
	require.NoError(t, err)
	eggs, err := p.AddItem("eggs")
	require.NoError(t, err)

	done, err := p.Complete(milk.TargetID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpUpdate, done.Operation)
	assert.Equal(t, []string{"eggs"}, displayTexts(p.Items()))
	require.Len(t, domain.Completed(p.Items()), 1)

	_, err = p.Reopen(milk.TargetID)
	require.NoError(t, err)
	assert.Equal(t, []string{"milk", "eggs"}, displayTexts(p.Items()))

	_, err = p.Edit(eggs.TargetID, "free-range eggs")
	require.NoError(t, err)

	rm, err := p.Remove(milk.TargetID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpDelete, rm.Operation)
	assert.Equal(t, domain.DeletePayload{ID: milk.TargetID}, rm.Payload)
	assert.Equal(t, []string{"free-range eggs"}, displayTexts(p.Items()))

	_, err = p.Complete("ghost")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestPlanner_EditsAreWireReady(t *testing.T) {
	p := NewPlanner([]domain.Item{{ID: "x", Text: "x", Rank: "a0"}}, nil)
	edit, err := p.AddItem("y")
	require.NoError(t, err)

	op, err := edit.operation()
	require.NoError(t, err)

	var item domain.Item
	require.NoError(t, json.Unmarshal(op.Data, &item))
	assert.Equal(t, edit.TargetID, item.ID)
	assert.Less(t, item.Rank, "a0")
	assert.False(t, item.CreatedAt.IsZero())
}

func TestPlanner_IndependentHeadInsertsStayOrderable(t *testing.T) {
	snapshot := []domain.Item{{ID: "x", Text: "x", Rank: "a0"}}

	alice := NewPlanner(snapshot, rank.NewGenerator(rand.NewSource(1)))
	bob := NewPlanner(snapshot, rank.NewGenerator(rand.NewSource(2)))

	fromAlice, err := alice.AddItem("milk")
	require.NoError(t, err)
	fromBob, err := bob.AddItem("eggs")
	require.NoError(t, err)

	aliceItem := fromAlice.Payload.(domain.Item)
	bobItem := fromBob.Payload.(domain.Item)
	require.NotEqual(t, aliceItem.Rank, bobItem.Rank)

	// Both writes land on the server; a third client can still order them.
	merged := append(domain.CloneItems(snapshot), aliceItem, bobItem)
	carol := NewPlanner(merged, rank.NewGenerator(rand.NewSource(3)))
	_, err = carol.MoveAfter(aliceItem.ID, bobItem.ID)
	require.NoError(t, err)
	_, err = carol.MoveBefore(aliceItem.ID, bobItem.ID)
	require.NoError(t, err)
}

func TestPlanner_RefusesTakenRank(t *testing.T) {
	p := NewPlanner([]domain.Item{{ID: "x", Text: "x", Rank: "a0"}, {ID: "y", Text: "y", Rank: "a1"}}, nil)

	_, err := p.commit(domain.OpMove, domain.Item{ID: "y", Text: "y", Rank: "a0"})
	assert.ErrorIs(t, err, service.ErrRankTaken)
	assert.Equal(t, []string{"x", "y"}, displayTexts(p.Items()))
}
