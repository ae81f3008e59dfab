package dto

import "time"

type SubscriptionResponse struct {
	OK        bool       `json:"ok"`
	PlanCode  string     `json:"plan_code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
