package handlers

import (
	"errors"
	"net/http"

	entsvc "github.com/waggleapp/backend/internal/services/entitlements"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type SubscriptionHandler struct {
	service *entsvc.Service
}

func NewSubscriptionHandler(service *entsvc.Service) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTION_SERVICE_UNAVAILABLE", "subscription service is unavailable")
		return
	}

	snap, err := h.service.Get(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load subscription")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SubscriptionResponse{
		OK:        true,
		PlanCode:  string(snap.PlanCode),
		ExpiresAt: snap.ExpiresAt,
	})
}

// PurchasePlus applies an already-authorized subscription purchase; the
// payment itself is settled upstream.
func (h *SubscriptionHandler) PurchasePlus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTION_SERVICE_UNAVAILABLE", "subscription service is unavailable")
		return
	}

	snap, err := h.service.PurchasePlus(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, entsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to apply subscription purchase")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SubscriptionResponse{
		OK:        true,
		PlanCode:  string(snap.PlanCode),
		ExpiresAt: snap.ExpiresAt,
	})
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTION_SERVICE_UNAVAILABLE", "subscription service is unavailable")
		return
	}

	if err := h.service.Cancel(r.Context(), p.UserID); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to cancel subscription")
		return
	}

	httperrors.Write(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
