package handler

import (
	"net/http"

	"shared-list-server/internal/middleware"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the list API on api, which is expected to be the
// /api/v1 subrouter.
func RegisterRoutes(api *mux.Router, lists *ListHandler, streams *StreamHandler) {
	api.Use(middleware.ParticipantMiddleware())

	api.HandleFunc("/lists", lists.Create).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/lists/{id}", lists.Get).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lists/{id}", lists.Delete).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/lists/{id}/sync", lists.Sync).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/lists/{id}/activity", lists.Activity).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lists/{id}/subscribers", lists.Subscribers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lists/{id}/stream", streams.HandleConnection).Methods(http.MethodGet, http.MethodOptions)
}
