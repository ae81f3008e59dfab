package enums

type PendingStatus string

const (
	PendingStatusPending  PendingStatus = "pending"
	PendingStatusResolved PendingStatus = "resolved"
)
