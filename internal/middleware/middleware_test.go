package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shared-list-server/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoParticipant() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetParticipantID(r)))
	})
}

func TestParticipantMiddleware(t *testing.T) {
	h := ParticipantMiddleware()(echoParticipant())

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "alice", want: "alice"},
		{name: "query fallback", query: "bob", want: "bob"},
		{name: "header wins", header: "alice", query: "bob", want: "alice"},
		{name: "anonymous", want: AnonymousParticipant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?participant=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(ParticipantHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Body.String())
		})
	}
}

func TestParticipantMiddleware_TooLong(t *testing.T) {
	h := ParticipantMiddleware()(echoParticipant())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ParticipantHeader, strings.Repeat("x", maxParticipantLength+1))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoggerMiddleware_KeepsFlusher(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&buf, logging.LevelInfo, logging.FormatJSON)

	var flushable bool
	h := LoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/lists/x", nil)
	req.Header.Set(ParticipantHeader, "carol")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, flushable)
	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"participant_id":"carol"`)
	assert.Contains(t, out, `"path":"/lists/x"`)
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := CORSMiddleware("https://app.example, https://other.example", "GET,POST", "Content-Type")(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://other.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://other.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ETag", rr.Header().Get("Access-Control-Expose-Headers"))
}
