package handlers

import (
	"errors"
	"net/http"

	"github.com/waggleapp/backend/internal/domain/enums"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type ConsumablesHandler struct {
	service *conssvc.Service
}

func NewConsumablesHandler(service *conssvc.Service) *ConsumablesHandler {
	return &ConsumablesHandler{service: service}
}

func (h *ConsumablesHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CONSUMABLES_SERVICE_UNAVAILABLE", "consumables service is unavailable")
		return
	}

	balances, err := h.service.GetMine(r.Context(), p.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load consumable balances")
		return
	}

	resp := dto.ConsumablesResponse{
		Balances: make([]dto.ConsumableBalancePayload, 0, len(balances)),
	}
	for _, b := range balances {
		resp.Balances = append(resp.Balances, mapBalance(b))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ConsumablesHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CONSUMABLES_SERVICE_UNAVAILABLE", "consumables service is unavailable")
		return
	}

	var req dto.PurchaseConsumableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	kind, err := enums.ParseConsumableKind(req.Kind)
	if err != nil {
		writeBadRequest(w, "INVALID_KIND", "kind must be boost or compliment")
		return
	}

	balance, err := h.service.Purchase(r.Context(), p.UserID, kind, req.Quantity, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, conssvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to apply purchase")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PurchaseConsumableResponse{
		OK:      true,
		Balance: mapBalance(balance),
	})
}

func mapBalance(b conssvc.Balance) dto.ConsumableBalancePayload {
	return dto.ConsumableBalancePayload{
		Kind:              string(b.Kind),
		Purchased:         b.Purchased,
		IncludedRemaining: b.IncludedRemaining,
		Total:             b.Total,
		RenewsAt:          b.RenewsAt,
	}
}
