package dto

import "time"

type ConsumableBalancePayload struct {
	Kind              string    `json:"kind"`
	Purchased         int       `json:"purchased"`
	IncludedRemaining int       `json:"included_remaining"`
	Total             int       `json:"total"`
	RenewsAt          time.Time `json:"renews_at"`
}

type ConsumablesResponse struct {
	Balances []ConsumableBalancePayload `json:"balances"`
}

type PurchaseConsumableRequest struct {
	Kind           string `json:"kind"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type PurchaseConsumableResponse struct {
	OK      bool                     `json:"ok"`
	Balance ConsumableBalancePayload `json:"balance"`
}
