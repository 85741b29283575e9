package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/middleware"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/service"
	"github.com/innovfix/onlycare-calls/internal/util"
)

type CallHandler struct {
	calls *service.CallService
	// initiateLimit guards the two routes that create calls.
	initiateLimit func(http.Handler) http.Handler
}

func NewCallHandler(calls *service.CallService, initiateLimit func(http.Handler) http.Handler) *CallHandler {
	if initiateLimit == nil {
		initiateLimit = func(next http.Handler) http.Handler { return next }
	}
	return &CallHandler{calls: calls, initiateLimit: initiateLimit}
}

func (h *CallHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.initiateLimit).Post("/", h.Initiate)
	r.With(h.initiateLimit).Post("/random", h.InitiateRandom)
	r.Get("/", h.List)

	r.Route("/{callID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/accept", h.Accept)
		r.Post("/reject", h.Reject)
		r.Post("/cancel", h.Cancel)
		r.Post("/end", h.End)
		r.Post("/rating", h.Rate)
	})

	return r
}

func parseKind(raw string) (model.CallKind, error) {
	kind, ok := model.ParseCallKind(raw)
	if !ok {
		return "", apperrors.InvalidInput("callType", "must be AUDIO or VIDEO")
	}
	return kind, nil
}

// callID reads the path id; malformed ids can never match a call.
func callID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "callID")
	if !util.IsValidUUID(id) {
		return "", apperrors.NotFound("Call")
	}
	return id, nil
}

// POST /v1/calls
func (h *CallHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiverId"`
		CallType   string `json:"callType"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ReceiverID == "" {
		writeError(w, apperrors.MissingRequired("receiverId"))
		return
	}
	kind, err := parseKind(req.CallType)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Initiate(r.Context(), middleware.GetUserID(r.Context()), req.ReceiverID, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// POST /v1/calls/random
func (h *CallHandler) InitiateRandom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallType string `json:"callType"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	kind, err := parseKind(req.CallType)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.InitiateRandom(r.Context(), middleware.GetUserID(r.Context()), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /v1/calls
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := ParseHistoryPage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	views, err := h.calls.ListForUser(r.Context(), middleware.GetUserID(r.Context()), page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calls":  views,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GET /v1/calls/{callID}
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/calls/{callID}/accept
func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Accept(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/calls/{callID}/reject
func (h *CallHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Reject(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/calls/{callID}/cancel
func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Cancel(r.Context(), id, middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/calls/{callID}/end
// The client-reported duration is only compared against the server clock.
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Duration *int64 `json:"duration"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Duration != nil && *req.Duration < 0 {
		writeError(w, apperrors.InvalidInput("duration", "must not be negative"))
		return
	}

	view, err := h.calls.End(r.Context(), id, middleware.GetUserID(r.Context()), req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/calls/{callID}/rating
func (h *CallHandler) Rate(w http.ResponseWriter, r *http.Request) {
	id, err := callID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.calls.Rate(r.Context(), id, middleware.GetUserID(r.Context()), req.Rating, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
