package handlers

import (
	"errors"
	"net/http"

	boostsvc "github.com/waggleapp/backend/internal/services/boost"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type BoostHandler struct {
	service *boostsvc.Service
}

func NewBoostHandler(service *boostsvc.Service) *BoostHandler {
	return &BoostHandler{service: service}
}

func (h *BoostHandler) Start(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "BOOST_SERVICE_UNAVAILABLE", "boost service is unavailable")
		return
	}

	session, err := h.service.Start(r.Context(), p.UserID)
	if err != nil {
		var active boostsvc.AlreadyActiveError
		switch {
		case errors.As(err, &active):
			httperrors.Write(w, http.StatusConflict, struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				EndsAt  string `json:"ends_at"`
			}{
				Code:    "BOOST_ALREADY_ACTIVE",
				Message: "a boost session is already running",
				EndsAt:  active.EndsAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		case errors.Is(err, boostsvc.ErrNoBoosts):
			httperrors.Write(w, http.StatusPaymentRequired, httperrors.APIError{
				Code:    "NO_BOOSTS_LEFT",
				Message: "no boost credits left",
			})
		case errors.Is(err, boostsvc.ErrBusy):
			writeConflict(w, "REQUEST_IN_FLIGHT", "another request for this user is being processed")
		case errors.Is(err, boostsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid boost request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to start boost")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.StartBoostResponse{
		OK:        true,
		StartedAt: session.StartedAt,
		EndsAt:    session.EndsAt,
	})
}

func (h *BoostHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "BOOST_SERVICE_UNAVAILABLE", "boost service is unavailable")
		return
	}

	status, err := h.service.GetStatus(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load boost status")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.BoostStatusResponse{
		IsActive:         status.IsActive,
		RemainingSeconds: status.RemainingSeconds,
		EndsAt:           status.EndsAt,
	})
}
