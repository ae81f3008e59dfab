package handlers

import (
	"errors"
	"net/http"

	"github.com/waggleapp/backend/internal/domain/enums"
	complsvc "github.com/waggleapp/backend/internal/services/compliments"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type ChatRequestHandler struct {
	service *complsvc.Service
}

func NewChatRequestHandler(service *complsvc.Service) *ChatRequestHandler {
	return &ChatRequestHandler{service: service}
}

func (h *ChatRequestHandler) Handle(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CHAT_REQUEST_SERVICE_UNAVAILABLE", "chat request service is unavailable")
		return
	}

	var req dto.ChatRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	lane, err := enums.ParseLane(req.Lane)
	if err != nil {
		writeBadRequest(w, "INVALID_LANE", "lane must be pals or match")
		return
	}

	result, err := h.service.Send(r.Context(), p.UserID, req.TargetID, lane, req.Body, req.ClientMessageID)
	if err != nil {
		switch {
		case errors.Is(err, complsvc.ErrSelfTarget):
			writeBadRequest(w, "INVALID_TARGET", "cannot send a chat request to yourself")
		case errors.Is(err, complsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid chat request")
		case errors.Is(err, complsvc.ErrNoCompliments):
			httperrors.Write(w, http.StatusPaymentRequired, httperrors.APIError{
				Code:    "NO_COMPLIMENTS_LEFT",
				Message: "no compliment credits left",
			})
		case errors.Is(err, complsvc.ErrBusy):
			writeConflict(w, "REQUEST_IN_FLIGHT", "another request for this user is being processed")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to send chat request")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ChatRequestResponse{
		OK:                 true,
		ConversationID:     result.ConversationID,
		CrossLanePending:   result.CrossLanePending,
		MessageAlreadyHeld: result.MessageAlreadyHeld,
		ConnectionEvent:    mapConnectionEvent(result.Connection),
	})
}
