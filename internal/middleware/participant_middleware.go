package middleware

import (
	"context"
	"net/http"
	"strings"

	"shared-list-server/pkg/response"
)

type contextKey string

const ParticipantIDKey contextKey = "participantID"

const (
	ParticipantHeader = "X-Participant-ID"
	// ParticipantQuery lets browser EventSource clients, which cannot set
	// headers, name themselves.
	ParticipantQuery     = "participant"
	AnonymousParticipant = "anonymous"

	maxParticipantLength = 128
)

// ParticipantMiddleware resolves the caller's self-declared participant id.
// It is an unverified label used for presence, never for access control.
func ParticipantMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			participantID := resolveParticipant(r)
			if len(participantID) > maxParticipantLength {
				response.BadRequest(w, "Participant ID too long")
				return
			}

			ctx := context.WithValue(r.Context(), ParticipantIDKey, participantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetParticipantID returns the id resolved by ParticipantMiddleware, or
// resolves it from the request when the middleware did not run.
func GetParticipantID(r *http.Request) string {
	participantID, ok := r.Context().Value(ParticipantIDKey).(string)
	if !ok {
		return resolveParticipant(r)
	}
	return participantID
}

func resolveParticipant(r *http.Request) string {
	participantID := strings.TrimSpace(r.Header.Get(ParticipantHeader))
	if participantID == "" {
		participantID = strings.TrimSpace(r.URL.Query().Get(ParticipantQuery))
	}
	if participantID == "" {
		participantID = AnonymousParticipant
	}
	return participantID
}
