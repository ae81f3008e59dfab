package dto

import "time"

type PendingConnectionPayload struct {
	OtherUserID int64     `json:"other_user_id"`
	YouChoose   bool      `json:"you_choose"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type PendingConnectionsResponse struct {
	Pending []PendingConnectionPayload `json:"pending"`
}

type ResolveConnectionRequest struct {
	Lane string `json:"lane"`
}

type ResolveConnectionResponse struct {
	OK             bool   `json:"ok"`
	Lane           string `json:"lane"`
	ConversationID int64  `json:"conversation_id"`
}
