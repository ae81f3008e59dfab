package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/waggleapp/backend/internal/domain/enums"
	feedsvc "github.com/waggleapp/backend/internal/services/feed"
	"github.com/waggleapp/backend/internal/transport/http/dto"
	httperrors "github.com/waggleapp/backend/internal/transport/http/errors"
	"github.com/waggleapp/backend/internal/transport/http/principal"
)

type FeedHandler struct {
	service *feedsvc.Service
}

func NewFeedHandler(service *feedsvc.Service) *FeedHandler {
	return &FeedHandler{service: service}
}

func (h *FeedHandler) Handle(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "FEED_SERVICE_UNAVAILABLE", "feed service is unavailable")
		return
	}

	lane, err := enums.ParseLane(r.URL.Query().Get("lane"))
	if err != nil {
		writeBadRequest(w, "INVALID_LANE", "lane must be pals or match")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

	page, err := h.service.GetPage(r.Context(), p.UserID, lane, limit, cursor)
	if err != nil {
		switch {
		case errors.Is(err, feedsvc.ErrBadCursor):
			writeBadRequest(w, "INVALID_CURSOR", "malformed feed cursor")
		case errors.Is(err, feedsvc.ErrViewerNotFound):
			writeNotFound(w, "PROFILE_NOT_FOUND", "viewer profile not found")
		case errors.Is(err, feedsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid feed request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load feed")
		}
		return
	}

	resp := dto.FeedPageResponse{
		Candidates: make([]dto.FeedCandidatePayload, 0, len(page.Candidates)),
		NextCursor: page.NextCursor,
	}
	for _, c := range page.Candidates {
		resp.Candidates = append(resp.Candidates, dto.FeedCandidatePayload{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			PhotoURL:    c.PhotoURL,
			Bio:         c.Bio,
			BreedName:   c.BreedName,
			DistanceKm:  c.DistanceKm,
			Boosted:     c.Boosted,
		})
	}

	httperrors.Write(w, http.StatusOK, resp)
}
