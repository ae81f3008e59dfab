package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/waggleapp/backend/internal/domain/enums"
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type ConnectionsHandler struct {
	service *connsvc.Service
}

func NewConnectionsHandler(service *connsvc.Service) *ConnectionsHandler {
	return &ConnectionsHandler{service: service}
}

func (h *ConnectionsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	views, err := h.service.GetPending(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to list pending connections")
		return
	}

	resp := dto.PendingConnectionsResponse{
		Pending: make([]dto.PendingConnectionPayload, 0, len(views)),
	}
	for _, v := range views {
		resp.Pending = append(resp.Pending, dto.PendingConnectionPayload{
			OtherUserID: v.OtherUserID,
			YouChoose:   v.YouChoose,
			CreatedAt:   v.CreatedAt,
			ExpiresAt:   v.ExpiresAt,
		})
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ConnectionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	otherID, err := strconv.ParseInt(chi.URLParam(r, "otherId"), 10, 64)
	if err != nil || otherID <= 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid other user id")
		return
	}

	var req dto.ResolveConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	lane, err := enums.ParseLane(req.Lane)
	if err != nil {
		writeBadRequest(w, "INVALID_LANE", "lane must be pals or match")
		return
	}

	res, err := h.service.Resolve(r.Context(), p.UserID, otherID, lane)
	if err != nil {
		switch {
		case errors.Is(err, connsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid resolve request")
		case errors.Is(err, connsvc.ErrNotFound):
			writeNotFound(w, "PENDING_NOT_FOUND", "no pending connection for this pair")
		case errors.Is(err, connsvc.ErrNotAuthorized):
			writeForbidden(w, "NOT_AUTHORIZED", "only the chooser may resolve this connection")
		case errors.Is(err, connsvc.ErrAlreadyResolved):
			writeConflict(w, "ALREADY_RESOLVED", "this connection was already resolved")
		case errors.Is(err, connsvc.ErrExpired):
			writeConflict(w, "EXPIRED", "this connection has expired and will be auto-resolved")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to resolve connection")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ResolveConnectionResponse{
		OK:             true,
		Lane:           string(res.Lane),
		ConversationID: res.ConversationID,
	})
}
