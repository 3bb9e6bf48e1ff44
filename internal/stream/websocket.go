package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"shared-list-server/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrSlowConsumer = errors.New("client send buffer full")
	ErrClientClosed = errors.New("client closed")
)

const sendBuffer = 16

// wsClient is a Sink over a WebSocket connection. A read pump detects the
// peer going away; a write pump owns every write to the connection.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	opts    Options
	logger  *logging.Logger
}

func newWSClient(conn *websocket.Conn, opts Options, logger *logging.Logger) *wsClient {
	return &wsClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		opts:    opts,
		logger:  logger,
	}
}

func (c *wsClient) Send(msg *Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *wsClient) Ping() error {
	msg, err := NewMessage(EventPing, nil)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

func (c *wsClient) Done() <-chan struct{} {
	return c.done
}

func (c *wsClient) finish() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards inbound frames; its only job is noticing the peer leave
// and answering pongs.
func (c *wsClient) readPump() {
	defer c.finish()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.finish()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.finish()
				return
			}

		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued before the close frame.
func (c *wsClient) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// ServeWebSocket upgrades the request and streams listID as JSON envelopes.
func (s *Streamer) ServeWebSocket(w http.ResponseWriter, r *http.Request, listID, participantID string) {
	log := s.logger.WithList(listID).WithParticipant(participantID)

	conn := &Conn{
		ID:            uuid.New().String(),
		ListID:        listID,
		ParticipantID: participantID,
		Transport:     TransportWebSocket,
		ConnectedAt:   time.Now(),
	}
	if status, ok := s.register(r.Context(), conn); !ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer s.unregister(conn)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.opts.ReadBufferSize,
		WriteBufferSize: s.opts.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := newWSClient(ws, s.opts, log)
	go client.writePump()
	go client.readPump()

	if err := s.Serve(r.Context(), listID, participantID, conn.ID, client); err != nil {
		log.Debug("Stream ended with error", "error", err)
	}
	client.finish()
	<-client.stopped
}
