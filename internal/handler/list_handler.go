package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/logging"
	"shared-list-server/internal/middleware"
	"shared-list-server/internal/service"
	"shared-list-server/internal/stream"
	"shared-list-server/pkg/etag"
	"shared-list-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds write request bodies.
const maxBodyBytes = 1 << 20

type ListHandler struct {
	service  *service.ListService
	hub      *stream.Hub
	validate *validator.Validate
	logger   *logging.Logger
}

func NewListHandler(service *service.ListService, hub *stream.Hub, logger *logging.Logger) *ListHandler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ListHandler{
		service:  service,
		hub:      hub,
		validate: validator.New(),
		logger:   logger.WithComponent("list_handler"),
	}
}

func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateListRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	list, err := h.service.CreateList(r.Context(), &req, middleware.GetParticipantID(r))
	if err != nil {
		h.writeError(w, err, "Failed to create list")
		return
	}

	response.Created(w, list)
}

func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]

	list, err := h.service.Get(r.Context(), listID)
	if err != nil {
		h.writeError(w, err, "Failed to read list")
		return
	}

	state := list.State()
	if tag, err := etag.Compute(state.Items, state.Version); err == nil {
		w.Header().Set("ETag", tag)
		if etag.Match(r.Header.Get("If-None-Match"), tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	response.Success(w, state)
}

func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]

	if err := h.service.DeleteList(r.Context(), listID); err != nil {
		h.writeError(w, err, "Failed to delete list")
		return
	}

	response.Success(w, map[string]string{"id": listID})
}

// Sync is the write endpoint: it applies one operation and returns the
// resulting collection.
func (h *ListHandler) Sync(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]

	var op domain.Operation
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&op); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(op); err != nil {
		if invalidOperationName(err) {
			response.BadRequest(w, "Invalid operation")
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	list, err := h.service.Apply(r.Context(), listID, middleware.GetParticipantID(r), &op)
	if err != nil {
		h.writeError(w, err, "Sync operation failed")
		return
	}

	response.Success(w, domain.SyncResponse{
		Items:        list.Items,
		LastModified: list.LastModified,
		Version:      list.Version,
		ServerTime:   time.Now(),
	})
}

func (h *ListHandler) Activity(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]

	var since time.Time
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		var err error
		since, err = time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			response.BadRequest(w, "Invalid since parameter")
			return
		}
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		var err error
		limit, err = strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			response.BadRequest(w, "Invalid limit parameter")
			return
		}
	}

	entries, err := h.service.RecentActivity(r.Context(), listID, since, limit)
	if err != nil {
		h.writeError(w, err, "Failed to derive activity")
		return
	}

	response.Success(w, entries)
}

func (h *ListHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["id"]

	list, err := h.service.Get(r.Context(), listID)
	if err != nil {
		h.writeError(w, err, "Failed to read list")
		return
	}

	res := domain.SubscribersResponse{
		ListID:           listID,
		Subscribers:      list.Subscribers,
		LiveParticipants: []string{},
	}
	if h.hub != nil {
		res.LiveConnections = h.hub.Connections(listID)
		res.LiveParticipants = h.hub.Participants(listID)
	}

	response.Success(w, res)
}

// invalidOperationName reports whether validation failed on the operation
// name itself.
func invalidOperationName(err error) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.StructField() == "Operation" {
			return true
		}
	}
	return false
}

// writeError maps service errors to HTTP responses. Anything unexpected is
// logged and answered with fallback as a 500.
func (h *ListHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrListNotFound):
		response.NotFound(w, "List not found")
	case errors.Is(err, service.ErrInvalidOperation):
		response.BadRequest(w, "Invalid operation")
	case errors.Is(err, service.ErrInvalidPayload):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrRankTaken):
		response.Conflict(w, "Rank already in use")
	case errors.Is(err, service.ErrConflict):
		response.Conflict(w, "Version conflict")
	case errors.Is(err, service.ErrListExists):
		response.Conflict(w, "List already exists")
	default:
		h.logger.Error(fallback, "error", err)
		response.InternalError(w, fallback)
	}
}
