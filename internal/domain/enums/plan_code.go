package enums

type PlanCode string

const (
	PlanFree PlanCode = "free"
	PlanPlus PlanCode = "plus"
)
