package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/domain/enums"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrViewerNotFound  = errors.New("viewer profile not found")
	ErrBadCursor       = errors.New("malformed feed cursor")
	ErrDependenciesNil = errors.New("feed dependencies are not configured")
)

type Store interface {
	GetViewerContext(ctx context.Context, userID int64) (pgrepo.ViewerContext, error)
	ListCandidates(ctx context.Context, viewer pgrepo.ViewerContext, q pgrepo.FeedQuery) ([]pgrepo.FeedCandidate, error)
}

type PhotoSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	PalsRadiusKm    float64
	MatchRadiusKm   float64
	PassCooldown    time.Duration
	BoostOffset     time.Duration
	PenaltyOffset   time.Duration
	PhotoURLTTL     time.Duration
}

type Candidate struct {
	UserID      int64
	DisplayName string
	PhotoURL    string
	Bio         string
	BreedName   string
	DistanceKm  float64
	Boosted     bool
}

type Page struct {
	Candidates []Candidate
	NextCursor string
}

type Service struct {
	store  Store
	photos PhotoSigner
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, photos PhotoSigner, logger *zap.Logger, cfg Config) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 50
	}
	if cfg.PalsRadiusKm <= 0 {
		cfg.PalsRadiusKm = 10
	}
	if cfg.MatchRadiusKm <= 0 {
		cfg.MatchRadiusKm = 100
	}
	if cfg.PassCooldown <= 0 {
		cfg.PassCooldown = 7 * 24 * time.Hour
	}
	if cfg.BoostOffset <= 0 {
		cfg.BoostOffset = 365 * 24 * time.Hour
	}
	if cfg.PenaltyOffset <= 0 {
		cfg.PenaltyOffset = 3650 * 24 * time.Hour
	}
	if cfg.PhotoURLTTL <= 0 {
		cfg.PhotoURLTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  store,
		photos: photos,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// pageCursor is the keyset position serialized into the opaque cursor:
// the exact (effectiveTimestamp, userId) tuple of the last row returned.
type pageCursor struct {
	TsMillis int64 `json:"ts"`
	UserID   int64 `json:"uid"`
}

func encodeCursor(c pageCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return pageCursor{}, ErrBadCursor
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.UserID <= 0 {
		return pageCursor{}, ErrBadCursor
	}
	return c, nil
}

// GetPage returns one ranked page for the lane. The cursor pins the
// ordering tuple, so boosts starting or stopping between fetches shift
// rows but never duplicate or skip a candidate already paged past.
func (s *Service) GetPage(ctx context.Context, userID int64, lane enums.Lane, limit int, cursor string) (Page, error) {
	if userID <= 0 || !lane.Valid() {
		return Page{}, ErrValidation
	}
	if s.store == nil {
		return Page{}, ErrDependenciesNil
	}

	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	viewer, err := s.store.GetViewerContext(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrViewerNotFound) {
			return Page{}, ErrViewerNotFound
		}
		return Page{}, fmt.Errorf("load viewer: %w", err)
	}

	// Config radii are fallbacks; a radius the viewer stored for the
	// lane wins.
	laneEnabled := viewer.PalsEnabled
	radius := s.cfg.PalsRadiusKm
	if viewer.PalsRadiusKm != nil && *viewer.PalsRadiusKm > 0 {
		radius = *viewer.PalsRadiusKm
	}
	if lane == enums.LaneMatch {
		laneEnabled = viewer.MatchEnabled
		radius = s.cfg.MatchRadiusKm
		if viewer.MatchRadiusKm != nil && *viewer.MatchRadiusKm > 0 {
			radius = *viewer.MatchRadiusKm
		}
	}
	if !laneEnabled {
		return Page{Candidates: []Candidate{}}, nil
	}

	q := pgrepo.FeedQuery{
		Lane:          lane,
		RadiusKm:      radius,
		Limit:         limit,
		PassCooldown:  s.cfg.PassCooldown,
		BoostOffset:   s.cfg.BoostOffset,
		PenaltyOffset: s.cfg.PenaltyOffset,
		Now:           s.now().UTC(),
	}
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		q.AfterEffectiveTs = time.UnixMilli(c.TsMillis).UTC()
		q.AfterUserID = c.UserID
	}

	rows, err := s.store.ListCandidates(ctx, viewer, q)
	if err != nil {
		return Page{}, fmt.Errorf("list candidates: %w", err)
	}

	page := Page{Candidates: make([]Candidate, 0, len(rows))}
	for _, row := range rows {
		page.Candidates = append(page.Candidates, Candidate{
			UserID:      row.UserID,
			DisplayName: row.DisplayName,
			PhotoURL:    s.signPhoto(ctx, row.PhotoKey),
			Bio:         row.Bio,
			BreedName:   row.BreedName,
			DistanceKm:  row.DistanceKm,
			Boosted:     row.Boosted,
		})
	}

	if len(rows) == limit {
		last := rows[len(rows)-1]
		page.NextCursor = encodeCursor(pageCursor{
			TsMillis: last.EffectiveTs.UnixMilli(),
			UserID:   last.UserID,
		})
	}

	return page, nil
}

// signPhoto swaps the storage key for a short-lived URL. A signing
// failure degrades to an empty URL rather than failing the page.
func (s *Service) signPhoto(ctx context.Context, key string) string {
	if key == "" || s.photos == nil {
		return ""
	}
	url, err := s.photos.PresignGet(ctx, key, s.cfg.PhotoURLTTL)
	if err != nil {
		s.logger.Warn("presign feed photo failed", zap.Error(err))
		return ""
	}
	return url
}
