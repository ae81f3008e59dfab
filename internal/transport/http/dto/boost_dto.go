package dto

import "time"

type StartBoostResponse struct {
	OK        bool      `json:"ok"`
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type BoostStatusResponse struct {
	IsActive         bool       `json:"is_active"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
}
