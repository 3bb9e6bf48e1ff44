package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"shared-list-server/internal/logging"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to list ids to form NATS subjects.
const DefaultSubjectPrefix = "lists.changes"

// NATS is a Broker that fans changes out across server processes through
// core NATS subjects "<prefix>.<listID>".
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]chan Change
}

// NewNATS connects to url.
func NewNATS(url, prefix string, logger *logging.Logger) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("shared-list-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSFromConn(conn, prefix, logger), nil
}

func NewNATSFromConn(conn *nats.Conn, prefix string, logger *logging.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &NATS{
		conn:   conn,
		prefix: prefix,
		logger: logger.WithComponent("notify.nats"),
		subs:   make(map[*nats.Subscription]chan Change),
	}
}

// Subject returns the subject changes for listID are published on. Dots and
// wildcards in the id are replaced so an id always maps to a single token.
func (b *NATS) Subject(listID string) string {
	return b.prefix + "." + subjectToken(listID)
}

func subjectToken(listID string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(listID)
}

func (b *NATS) Publish(_ context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.Subject(change.ListID), data)
}

func (b *NATS) Subscribe(listID string) (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	sub, err := b.conn.Subscribe(b.Subject(listID), func(msg *nats.Msg) {
		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			b.logger.Warn("dropping malformed change", "subject", msg.Subject, "error", err)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, live := b.subs[msg.Sub]; live {
			deliver(ch, change)
		}
	})
	if err != nil {
		b.logger.Error("subscribe failed, falling back to polling", "list_id", listID, "error", err)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	b.subs[sub] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug("unsubscribe failed", "list_id", listID, "error", err)
			}
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *NATS) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
