package dto

type FeedCandidatePayload struct {
	UserID      int64   `json:"user_id"`
	DisplayName string  `json:"display_name"`
	PhotoURL    string  `json:"photo_url,omitempty"`
	Bio         string  `json:"bio,omitempty"`
	BreedName   string  `json:"breed_name,omitempty"`
	DistanceKm  float64 `json:"distance_km"`
	Boosted     bool    `json:"boosted"`
}

type FeedPageResponse struct {
	Candidates []FeedCandidatePayload `json:"candidates"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}
