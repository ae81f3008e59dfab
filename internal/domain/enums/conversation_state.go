package enums

type ConversationState string

const (
	ConversationStateRequest ConversationState = "request"
	ConversationStateActive  ConversationState = "active"
)
