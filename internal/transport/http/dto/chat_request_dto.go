package dto

type ChatRequestRequest struct {
	TargetID        int64  `json:"target_id"`
	Lane            string `json:"lane"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id"`
}

type ChatRequestResponse struct {
	OK                 bool                    `json:"ok"`
	ConversationID     *int64                  `json:"conversation_id,omitempty"`
	CrossLanePending   bool                    `json:"cross_lane_pending"`
	MessageAlreadyHeld bool                    `json:"message_already_held,omitempty"`
	ConnectionEvent    *ConnectionEventPayload `json:"connection_event,omitempty"`
}
