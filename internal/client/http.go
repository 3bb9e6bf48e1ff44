// Package client talks to the shared list server: a typed HTTP client, the
// write queue that delivers local edits with retry and backoff, and a planner
// that turns user intents into operations with correct ranks.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/pkg/response"
)

const ParticipantHeader = "X-Participant-ID"

// HTTPClient calls the list API under /api/v1.
type HTTPClient struct {
	baseURL       string
	participantID string
	http          *http.Client
}

type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client. Streams need a client
// without an overall timeout.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

func NewHTTPClient(baseURL, participantID string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/") + "/api/v1",
		participantID: participantID,
		http:          &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply sends one operation to the write endpoint.
func (c *HTTPClient) Apply(ctx context.Context, listID string, op *domain.Operation) (*domain.SyncResponse, error) {
	var res domain.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/lists/"+url.PathEscape(listID)+"/sync", op, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) Get(ctx context.Context, listID string) (*domain.ListState, error) {
	var state domain.ListState
	if err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CreateList creates an empty list. An empty id lets the server pick one.
func (c *HTTPClient) CreateList(ctx context.Context, listID string) (*domain.List, error) {
	var list domain.List
	if err := c.do(ctx, http.MethodPost, "/lists", domain.CreateListRequest{ID: listID}, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *HTTPClient) DeleteList(ctx context.Context, listID string) error {
	return c.do(ctx, http.MethodDelete, "/lists/"+url.PathEscape(listID), nil, nil)
}

func (c *HTTPClient) Activity(ctx context.Context, listID string, since time.Time, limit int) ([]domain.Activity, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/lists/" + url.PathEscape(listID) + "/activity"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var entries []domain.Activity
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) Subscribers(ctx context.Context, listID string) (*domain.SubscribersResponse, error) {
	var res domain.SubscribersResponse
	if err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/subscribers", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.participantID != "" {
		req.Header.Set(ParticipantHeader, c.participantID)
	}
	return req, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	env, err := response.Decode(resp.Body, out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if err == nil && env != nil {
			se.Message = env.Error
		}
		return se
	}
	if err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrTransient, err)
	}
	return nil
}

// Event is one server-sent event. Keep-alive comments arrive as type "ping"
// with no data.
type Event struct {
	Type string
	Data json.RawMessage
}

// State decodes a "state" event.
func (e Event) State() (*domain.ListState, error) {
	var s domain.ListState
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Stream follows the list's change stream, calling fn for every event until
// the server closes the stream, ctx is cancelled or fn returns an error.
func (c *HTTPClient) Stream(ctx context.Context, listID string, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Code: resp.StatusCode}
		if env, err := response.Decode(resp.Body, nil); err == nil {
			se.Message = env.Error
		}
		return se
	}

	return readEvents(resp.Body, fn)
}

func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var ev Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Type == "" && len(data) == 0 {
				continue
			}
			if ev.Type == "" {
				ev.Type = "message"
			}
			ev.Data = json.RawMessage(strings.Join(data, "\n"))
			if err := fn(ev); err != nil {
				return err
			}
			ev, data = Event{}, nil

		case strings.HasPrefix(line, ":"):
			if err := fn(Event{Type: "ping"}); err != nil {
				return err
			}

		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}
