package handlers

import (
	"encoding/json"
	"net/http"

	connsvc "github.com/waggleapp/backend/internal/services/connections"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeConflict(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusConflict, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

func mapConnectionEvent(outcome *connsvc.Outcome) *dto.ConnectionEventPayload {
	if outcome == nil {
		return nil
	}
	if outcome.Matched {
		return &dto.ConnectionEventPayload{
			Type: "mutual",
			Lane: string(outcome.MatchedLane),
		}
	}
	if outcome.PendingCreated {
		expires := outcome.PendingExpires
		return &dto.ConnectionEventPayload{
			Type:        "cross_lane_pending",
			YouChoose:   outcome.YouChoose,
			PendingThru: &expires,
		}
	}
	return nil
}
