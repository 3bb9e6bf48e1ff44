package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"shared-list-server/internal/logging"
)

var (
	// ErrTooManyConnections is returned by Register when a list already has
	// the maximum number of live streams.
	ErrTooManyConnections = errors.New("too many connections for list")
	ErrHubClosed          = errors.New("hub is not running")
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Conn describes one live streaming connection.
type Conn struct {
	ID            string
	ListID        string
	ParticipantID string
	Transport     string
	ConnectedAt   time.Time
}

type registration struct {
	conn   *Conn
	result chan error
}

// Hub is the presence registry of live streams. Registration and removal are
// serialized through Run; queries read under a lock.
type Hub struct {
	conns          map[string]*Conn
	listIndex      map[string]map[string]bool
	connsMutex     sync.RWMutex
	register       chan *registration
	unregister     chan *Conn
	done           chan struct{}
	stopOnce       sync.Once
	maxConnPerList int
	logger         *logging.Logger
}

// NewHub returns a Hub. maxConnPerList <= 0 means unlimited.
func NewHub(maxConnPerList int, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Hub{
		conns:          make(map[string]*Conn),
		listIndex:      make(map[string]map[string]bool),
		register:       make(chan *registration),
		unregister:     make(chan *Conn),
		done:           make(chan struct{}),
		maxConnPerList: maxConnPerList,
		logger:         logger.WithComponent("hub"),
	}
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case reg := <-h.register:
			reg.result <- h.registerConn(reg.conn)

		case conn := <-h.unregister:
			h.unregisterConn(conn)

		case <-ctx.Done():
			h.logger.Info("Hub stopped", "connections", h.total())
			return
		}
	}
}

// Register adds conn to the registry, refusing it with ErrTooManyConnections
// when its list is at capacity.
func (h *Hub) Register(ctx context.Context, conn *Conn) error {
	reg := &registration{conn: conn, result: make(chan error, 1)}
	select {
	case h.register <- reg:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reg.result
}

// Unregister removes conn. It does not block once the hub has stopped.
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *Hub) registerConn(conn *Conn) error {
	h.connsMutex.Lock()
	defer h.connsMutex.Unlock()

	if h.listIndex[conn.ListID] == nil {
		h.listIndex[conn.ListID] = make(map[string]bool)
	}

	if h.maxConnPerList > 0 && len(h.listIndex[conn.ListID]) >= h.maxConnPerList {
		h.logger.Warn("Max connections reached for list", "list_id", conn.ListID, "max", h.maxConnPerList)
		return ErrTooManyConnections
	}

	h.conns[conn.ID] = conn
	h.listIndex[conn.ListID][conn.ID] = true

	h.logger.Debug("Connection registered",
		"connection_id", conn.ID,
		"list_id", conn.ListID,
		"participant_id", conn.ParticipantID,
		"transport", conn.Transport,
	)
	return nil
}

func (h *Hub) unregisterConn(conn *Conn) {
	h.connsMutex.Lock()
	defer h.connsMutex.Unlock()

	if _, ok := h.conns[conn.ID]; ok {
		delete(h.conns, conn.ID)
		delete(h.listIndex[conn.ListID], conn.ID)

		if len(h.listIndex[conn.ListID]) == 0 {
			delete(h.listIndex, conn.ListID)
		}

		h.logger.Debug("Connection unregistered", "connection_id", conn.ID, "list_id", conn.ListID)
	}
}

// Connections returns the number of live streams on listID.
func (h *Hub) Connections(listID string) int {
	h.connsMutex.RLock()
	defer h.connsMutex.RUnlock()

	return len(h.listIndex[listID])
}

// Participants returns the distinct participant ids streaming listID, sorted.
func (h *Hub) Participants(listID string) []string {
	h.connsMutex.RLock()
	defer h.connsMutex.RUnlock()

	seen := make(map[string]bool)
	out := make([]string, 0)
	for id := range h.listIndex[listID] {
		p := h.conns[id].ParticipantID
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Hub) total() int {
	h.connsMutex.RLock()
	defer h.connsMutex.RUnlock()
	return len(h.conns)
}
