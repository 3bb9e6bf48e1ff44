package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxRetries = 3
)

// Sender delivers one operation to the server. *HTTPClient satisfies it.
type Sender interface {
	Apply(ctx context.Context, listID string, op *domain.Operation) (*domain.SyncResponse, error)
}

// Queue holds locally originated writes and delivers them one at a time in
// enqueue order. A failing entry is retried with exponential backoff and
// blocks everything behind it; after MaxRetries failed attempts it is dropped.
type Queue struct {
	sender     Sender
	baseDelay  time.Duration
	maxRetries int
	stateFile  string
	logger     *logging.Logger
	onDrop     func(domain.QueueEntry, error)
	onDeliver  func(domain.QueueEntry, *domain.SyncResponse)
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error

	mu      sync.Mutex
	entries []domain.QueueEntry
	wake    chan struct{}

	// drainMu keeps a single drain loop active.
	drainMu sync.Mutex
}

type QueueOption func(*Queue)

func WithBaseDelay(d time.Duration) QueueOption {
	return func(q *Queue) { q.baseDelay = d }
}

func WithMaxRetries(n int) QueueOption {
	return func(q *Queue) { q.maxRetries = n }
}

func WithLogger(l *logging.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithDropHandler is called for every entry discarded after exhausting its
// retries, so the caller can tell the user an edit was lost.
func WithDropHandler(fn func(domain.QueueEntry, error)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

// WithDeliverHandler is called after every successful delivery with the
// server's response.
func WithDeliverHandler(fn func(domain.QueueEntry, *domain.SyncResponse)) QueueOption {
	return func(q *Queue) { q.onDeliver = fn }
}

// WithStateFile persists the queue to path after every change.
func WithStateFile(path string) QueueOption {
	return func(q *Queue) { q.stateFile = path }
}

func NewQueue(sender Sender, opts ...QueueOption) *Queue {
	q := &Queue{
		sender:     sender,
		baseDelay:  DefaultBaseDelay,
		maxRetries: DefaultMaxRetries,
		logger:     logging.NopLogger(),
		now:        time.Now,
		sleep:      sleepContext,
		entries:    []domain.QueueEntry{},
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.maxRetries < 1 {
		q.maxRetries = 1
	}
	q.logger = q.logger.WithComponent("write_queue")
	return q
}

// LoadQueue restores a queue persisted at path, or returns an empty one when
// the file does not exist. The queue keeps persisting to path.
func LoadQueue(path string, sender Sender, opts ...QueueOption) (*Queue, error) {
	q := NewQueue(sender, append(opts, WithStateFile(path))...)

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	var entries []domain.QueueEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode queue file %s: %w", path, err)
	}
	for i := range entries {
		// Whatever was in flight when the process stopped is sent again.
		entries[i].Status = domain.QueuePending
	}
	q.entries = entries
	if len(entries) > 0 {
		q.signal()
	}
	return q, nil
}

// Enqueue appends a write for listID. payload is marshalled to JSON.
func (q *Queue) Enqueue(listID string, op domain.OperationType, targetID string, payload interface{}) (domain.QueueEntry, error) {
	if !op.Valid() {
		return domain.QueueEntry{}, fmt.Errorf("invalid operation %q", op)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	entry := domain.QueueEntry{
		ID:         uuid.New().String(),
		ListID:     listID,
		Operation:  op,
		TargetID:   targetID,
		Payload:    raw,
		EnqueuedAt: q.now(),
		MaxRetries: q.maxRetries,
		Status:     domain.QueuePending,
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	err = q.persistLocked()
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("Write enqueued", "entry_id", entry.ID, "operation", string(op), "target_id", targetID)
	return entry, err
}

// Len returns the number of entries waiting, including one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the pending entries in delivery order.
func (q *Queue) Snapshot() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Run drains the queue and then waits for new entries until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if err := q.drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Flush drains the queue and returns once it is empty.
func (q *Queue) Flush(ctx context.Context) error {
	return q.drain(ctx)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) drain(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, ok := q.head()
		if !ok {
			return nil
		}
		if err := q.process(ctx, entry); err != nil {
			return err
		}
	}
}

func (q *Queue) head() (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return domain.QueueEntry{}, false
	}
	return q.entries[0], true
}

// process delivers entry, retrying until it succeeds or is dropped. It only
// returns an error when ctx ends; the entry then stays at the head.
func (q *Queue) process(ctx context.Context, entry domain.QueueEntry) error {
	log := q.logger.WithList(entry.ListID).With("entry_id", entry.ID)
	policy := q.backoffFor(entry)

	for {
		q.setStatus(entry.ID, domain.QueueInFlight, entry.RetryCount)

		op := entry.ToOperation()
		res, err := q.sender.Apply(ctx, entry.ListID, &op)
		if err == nil {
			q.remove(entry.ID)
			entry.Status = domain.QueueSucceeded
			log.Debug("Write delivered", "attempts", entry.RetryCount+1)
			if q.onDeliver != nil {
				q.onDeliver(entry, res)
			}
			return nil
		}

		if ctx.Err() != nil {
			q.setStatus(entry.ID, domain.QueuePending, entry.RetryCount)
			return ctx.Err()
		}

		entry.RetryCount++
		if entry.RetryCount >= entry.MaxRetries || !IsRetryable(err) {
			q.remove(entry.ID)
			entry.Status = domain.QueueExhausted
			log.Error("Write dropped after exhausting retries",
				"operation", string(entry.Operation),
				"target_id", entry.TargetID,
				"attempts", entry.RetryCount,
				"error", err,
			)
			if q.onDrop != nil {
				q.onDrop(entry, err)
			}
			return nil
		}

		delay := policy.NextBackOff()
		q.setStatus(entry.ID, domain.QueueRetrying, entry.RetryCount)
		log.Warn("Write failed, retrying", "attempt", entry.RetryCount, "delay", delay, "error", err)

		if err := q.sleep(ctx, delay); err != nil {
			q.setStatus(entry.ID, domain.QueuePending, entry.RetryCount)
			return err
		}
	}
}

// backoffFor returns the delay schedule for entry: after the n-th failed
// attempt the queue waits baseDelay * 2^n. An entry restored with earlier
// failures continues the schedule where it stopped.
func (q *Queue) backoffFor(entry domain.QueueEntry) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.baseDelay * time.Duration(1<<(entry.RetryCount+1))
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *Queue) setStatus(id string, status domain.QueueStatus, retryCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Status = status
			q.entries[i].RetryCount = retryCount
			break
		}
	}
	if err := q.persistLocked(); err != nil {
		q.logger.Warn("Failed to persist queue", "error", err)
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	if err := q.persistLocked(); err != nil {
		q.logger.Warn("Failed to persist queue", "error", err)
	}
}

// persistLocked writes the queue to the state file through a temporary file
// and a rename, so a crash never leaves a torn file behind.
func (q *Queue) persistLocked() error {
	if q.stateFile == "" {
		return nil
	}

	raw, err := json.MarshalIndent(q.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(q.stateFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(q.stateFile)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), q.stateFile)
}
