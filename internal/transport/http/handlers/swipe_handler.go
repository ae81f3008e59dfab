package handlers

import (
	"errors"
	"net/http"

	"github.com/waggleapp/backend/internal/domain/enums"
	swipesvc "github.com/waggleapp/backend/internal/services/swipes"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type SwipeHandler struct {
	service *swipesvc.Service
}

func NewSwipeHandler(service *swipesvc.Service) *SwipeHandler {
	return &SwipeHandler{service: service}
}

func (h *SwipeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SWIPE_SERVICE_UNAVAILABLE", "swipe service is unavailable")
		return
	}

	var req dto.SwipeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	lane, err := enums.ParseLane(req.Lane)
	if err != nil {
		writeBadRequest(w, "INVALID_LANE", "lane must be pals or match")
		return
	}
	action, err := enums.ParseSwipeAction(req.Action)
	if err != nil {
		writeBadRequest(w, "INVALID_ACTION", "action must be pass, reject or accept")
		return
	}

	result, err := h.service.Submit(r.Context(), p.UserID, req.CandidateID, lane, action)
	if err != nil {
		switch {
		case errors.Is(err, swipesvc.ErrSelfSwipe):
			writeBadRequest(w, "INVALID_CANDIDATE", "cannot swipe on yourself")
		case errors.Is(err, swipesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid swipe request")
		case errors.Is(err, swipesvc.ErrDailyLimit):
			payload := httperrors.QuotaError{
				Code:    "DAILY_LIMIT_REACHED",
				Message: "daily accepts limit reached",
			}
			var limitErr swipesvc.DailyLimitError
			if errors.As(err, &limitErr) {
				payload.Used = limitErr.Limit
				payload.Limit = limitErr.Limit
				payload.ResetAt = limitErr.ResetAt
			}
			httperrors.Write(w, http.StatusTooManyRequests, payload)
		case errors.Is(err, swipesvc.ErrBusy):
			writeConflict(w, "REQUEST_IN_FLIGHT", "another request for this user is being processed")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process swipe")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SwipeResponse{
		OK:               true,
		Action:           string(result.Action),
		RemainingAccepts: result.RemainingAccepts,
		ResetAt:          result.ResetAt,
		ConnectionEvent:  mapConnectionEvent(result.Connection),
	})
}
