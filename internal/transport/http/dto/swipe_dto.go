package dto

import "time"

type SwipeRequest struct {
	CandidateID int64  `json:"candidate_id"`
	Lane        string `json:"lane"`
	Action      string `json:"action"`
}

type ConnectionEventPayload struct {
	Type        string     `json:"type"`
	Lane        string     `json:"lane,omitempty"`
	YouChoose   bool       `json:"you_choose,omitempty"`
	PendingThru *time.Time `json:"pending_expires_at,omitempty"`
}

type SwipeResponse struct {
	OK               bool                    `json:"ok"`
	Action           string                  `json:"action"`
	RemainingAccepts *int                    `json:"remaining_accepts"`
	ResetAt          time.Time               `json:"reset_at"`
	ConnectionEvent  *ConnectionEventPayload `json:"connection_event,omitempty"`
}
