package enums

type ModerationStatus string

const (
	ModerationStatusNormal ModerationStatus = "normal"
	ModerationStatusLow    ModerationStatus = "low"
	ModerationStatusBanned ModerationStatus = "banned"
)
