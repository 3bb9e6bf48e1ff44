package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
		return Change{}
	}
}

func TestLocal_PublishRoutesByList(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	a, cancelA := b.Subscribe("a")
	defer cancelA()
	other, cancelOther := b.Subscribe("b")
	defer cancelOther()

	require.NoError(t, b.Publish(context.Background(), Change{ListID: "a", Version: 2}))

	assert.Equal(t, int64(2), receive(t, a).Version)
	select {
	case c := <-other:
		t.Fatalf("unexpected change for other list: %+v", c)
	default:
	}
}

func TestLocal_FullBufferKeepsNewest(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ch, cancel := b.Subscribe("a")
	defer cancel()

	for v := int64(1); v <= subscriberBuffer+5; v++ {
		require.NoError(t, b.Publish(context.Background(), Change{ListID: "a", Version: v}))
	}

	var last Change
	for i := 0; i < subscriberBuffer; i++ {
		last = receive(t, ch)
	}
	assert.Equal(t, int64(subscriberBuffer+5), last.Version)
}

func TestLocal_CancelClosesChannel(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ch, cancel := b.Subscribe("a")
	assert.Equal(t, 1, b.Subscribers("a"))

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("a"))
}

func TestLocal_Close(t *testing.T) {
	b := NewLocal()
	ch, cancel := b.Subscribe("a")
	defer cancel()

	require.NoError(t, b.Close())
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe("a")
	_, ok = <-late
	assert.False(t, ok)
}
