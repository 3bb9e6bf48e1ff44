// Package stream implements the per-list change notification channel: a
// long-lived connection that announces itself, then pushes the list's full
// state on a fixed poll interval (and immediately when the broker reports a
// change), pings on a longer interval, and closes when the list is deleted.
package stream

import (
	"context"
	"errors"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/logging"
	"shared-list-server/internal/notify"
	"shared-list-server/internal/service"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPingInterval = 30 * time.Second

	deregisterTimeout = 5 * time.Second
)

// Source is the list access a streaming session needs.
type Source interface {
	Get(ctx context.Context, listID string) (*domain.List, error)
	AddSubscriber(ctx context.Context, listID, participantID string) error
	RemoveSubscriber(ctx context.Context, listID, participantID string) error
}

// Sink delivers events to one connected client.
type Sink interface {
	Send(msg *Message) error
	// Ping sends an idle keep-alive.
	Ping() error
	// Done is closed when the client has gone away.
	Done() <-chan struct{}
}

type Options struct {
	PollInterval time.Duration
	PingInterval time.Duration

	// WebSocket tuning.
	WriteWait       time.Duration
	PongWait        time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 1024
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

// Streamer runs streaming sessions.
type Streamer struct {
	source Source
	broker notify.Broker
	hub    *Hub
	opts   Options
	logger *logging.Logger
}

// NewStreamer returns a Streamer. broker and hub may be nil; without a broker
// sessions rely on polling alone.
func NewStreamer(source Source, broker notify.Broker, hub *Hub, opts Options, logger *logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Streamer{
		source: source,
		broker: broker,
		hub:    hub,
		opts:   opts.withDefaults(),
		logger: logger.WithComponent("stream"),
	}
}

// Serve runs one session until the client leaves, ctx is cancelled, the list
// is deleted or the sink fails. Subscriber bookkeeping failures are logged
// and never end the session.
func (s *Streamer) Serve(ctx context.Context, listID, participantID, connectionID string, sink Sink) error {
	log := s.logger.WithList(listID).WithParticipant(participantID)

	if err := s.source.AddSubscriber(ctx, listID, participantID); err != nil {
		log.Warn("Failed to register subscriber", "error", err)
	}
	defer s.deregister(listID, participantID, log)

	connected, err := NewMessage(EventConnected, ConnectedPayload{
		ListID:        listID,
		ParticipantID: participantID,
		ConnectionID:  connectionID,
	})
	if err != nil {
		return err
	}
	if err := sink.Send(connected); err != nil {
		return err
	}
	log.Info("Stream connected", "connection_id", connectionID)

	var changes <-chan notify.Change
	if s.broker != nil {
		ch, cancel := s.broker.Subscribe(listID)
		defer cancel()
		changes = ch
	}

	// Tickers drop ticks a slow fetch overruns, so polls never overlap.
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-sink.Done():
			log.Debug("Client went away")
			return nil

		case <-ping.C:
			if err := sink.Ping(); err != nil {
				return err
			}

		case <-poll.C:
			gone, err := s.pushState(ctx, listID, sink, log)
			if gone || err != nil {
				return err
			}

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.Deleted {
				log.Info("List deleted, closing stream")
				return nil
			}
			gone, err := s.pushState(ctx, listID, sink, log)
			if gone || err != nil {
				return err
			}
		}
	}
}

// pushState sends the current list state. gone reports that the list no
// longer exists and the session must end.
func (s *Streamer) pushState(ctx context.Context, listID string, sink Sink, log *logging.Logger) (gone bool, err error) {
	list, err := s.source.Get(ctx, listID)
	if errors.Is(err, service.ErrListNotFound) {
		log.Info("List no longer exists, closing stream")
		return true, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		log.Warn("Failed to fetch list state", "error", err)
		return false, nil
	}

	msg, err := NewMessage(EventState, list.State())
	if err != nil {
		return false, err
	}
	return false, sink.Send(msg)
}

func (s *Streamer) deregister(listID, participantID string, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()

	if err := s.source.RemoveSubscriber(ctx, listID, participantID); err != nil {
		log.Warn("Failed to deregister subscriber", "error", err)
		return
	}
	log.Info("Stream disconnected")
}
