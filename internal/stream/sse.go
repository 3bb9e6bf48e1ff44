package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// sseSink writes events in text/event-stream framing.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
	done    <-chan struct{}
}

func newSSESink(w http.ResponseWriter, done <-chan struct{}) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &sseSink{w: w, flusher: flusher, done: done}, nil
}

func (s *sseSink) Send(msg *Message) error {
	data := msg.Payload
	if data == nil {
		data = []byte("{}")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Ping() error {
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Done() <-chan struct{} {
	return s.done
}

// ServeSSE streams listID to the caller as server-sent events.
func (s *Streamer) ServeSSE(w http.ResponseWriter, r *http.Request, listID, participantID string) {
	log := s.logger.WithList(listID).WithParticipant(participantID)

	sink, err := newSSESink(w, r.Context().Done())
	if err != nil {
		log.Error("Response writer cannot stream")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := &Conn{
		ID:            uuid.New().String(),
		ListID:        listID,
		ParticipantID: participantID,
		Transport:     TransportSSE,
		ConnectedAt:   time.Now(),
	}
	if status, ok := s.register(r.Context(), conn); !ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer s.unregister(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sink.flusher.Flush()

	if err := s.Serve(r.Context(), listID, participantID, conn.ID, sink); err != nil {
		log.Debug("Stream ended with error", "error", err)
	}
}

// register adds conn to the hub when one is configured. On refusal it returns
// the HTTP status to answer with.
func (s *Streamer) register(ctx context.Context, conn *Conn) (int, bool) {
	if s.hub == nil {
		return 0, true
	}
	err := s.hub.Register(ctx, conn)
	switch {
	case err == nil:
		return 0, true
	case errors.Is(err, ErrTooManyConnections):
		return http.StatusTooManyRequests, false
	default:
		s.logger.Warn("Failed to register connection", "error", err)
		return http.StatusServiceUnavailable, false
	}
}

func (s *Streamer) unregister(conn *Conn) {
	if s.hub != nil {
		s.hub.Unregister(conn)
	}
}
