package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATS_Subject(t *testing.T) {
	b := NewNATSFromConn(nil, "", nil)
	assert.Equal(t, "lists.changes.groceries", b.Subject("groceries"))
	assert.Equal(t, "lists.changes.a_b_c", b.Subject("a.b*c"))
}

func TestNATS_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	b := NewNATSFromConn(conn, "test.lists", nil)
	defer b.Close()

	ch, cancel := b.Subscribe("l1")
	defer cancel()
	require.NoError(t, conn.Flush())

	require.NoError(t, b.Publish(context.Background(), Change{ListID: "l1", Version: 7, LastModified: time.Now()}))

	c := receive(t, ch)
	assert.Equal(t, "l1", c.ListID)
	assert.Equal(t, int64(7), c.Version)
}
