package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
)

var ErrViewerNotFound = errors.New("viewer profile not found")

// FeedRepo selects ranked feed candidates. Ranking is a single effective
// timestamp per candidate: profile recency, pushed forward by an active
// boost, pushed back by a low moderation score.
type FeedRepo struct {
	pool *pgxpool.Pool
}

func NewFeedRepo(pool *pgxpool.Pool) *FeedRepo {
	return &FeedRepo{pool: pool}
}

type ViewerContext struct {
	UserID           int64
	Latitude         float64
	Longitude        float64
	PalsEnabled      bool
	MatchEnabled     bool
	Gender           string
	InterestedGender string
	BirthDate        time.Time
	ModerationStatus enums.ModerationStatus

	// Stated preferences; nil means the user never set one and the
	// deployment default (radius) or no bound (age) applies.
	PalsRadiusKm  *float64
	MatchRadiusKm *float64
	AgeMinPref    *int
	AgeMaxPref    *int
}

type FeedCandidate struct {
	UserID      int64
	DisplayName string
	PhotoKey    string
	Bio         string
	BreedName   string
	DistanceKm  float64
	Boosted     bool
	EffectiveTs time.Time
}

// FeedQuery carries everything the candidate SQL needs besides the viewer
// row itself.
type FeedQuery struct {
	Lane          enums.Lane
	RadiusKm      float64
	Limit         int
	PassCooldown  time.Duration
	BoostOffset   time.Duration
	PenaltyOffset time.Duration
	Now           time.Time

	// Keyset cursor; zero AfterUserID means first page.
	AfterEffectiveTs time.Time
	AfterUserID      int64
}

// GetViewerContext loads the profile fields feed selection depends on.
func (r *FeedRepo) GetViewerContext(ctx context.Context, userID int64) (ViewerContext, error) {
	if userID <= 0 {
		return ViewerContext{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return ViewerContext{}, ErrViewerNotFound
	}

	var vc ViewerContext
	err := r.pool.QueryRow(ctx, `
SELECT
	user_id, latitude, longitude, pals_enabled, match_enabled,
	gender, interested_gender, birth_date, moderation_status,
	pals_radius_km, match_radius_km, age_min_pref, age_max_pref
FROM profiles
WHERE user_id = $1
LIMIT 1
`, userID).Scan(
		&vc.UserID,
		&vc.Latitude,
		&vc.Longitude,
		&vc.PalsEnabled,
		&vc.MatchEnabled,
		&vc.Gender,
		&vc.InterestedGender,
		&vc.BirthDate,
		&vc.ModerationStatus,
		&vc.PalsRadiusKm,
		&vc.MatchRadiusKm,
		&vc.AgeMinPref,
		&vc.AgeMaxPref,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ViewerContext{}, ErrViewerNotFound
		}
		return ViewerContext{}, fmt.Errorf("get viewer context: %w", err)
	}

	return vc, nil
}

// ListCandidates runs the ranked candidate query for one lane.
//
// A candidate is "match eligible" for the pair when both users have the
// match lane enabled and each falls inside the other's gender interest
// and stated age window. The match feed requires it; the pals feed
// excludes such candidates so the two feeds never show the same person.
//
// Suppression: candidates the viewer already accepted or rejected in this
// lane are out permanently; passed candidates come back after the pass
// cooldown. Pairs with a live cross-lane pending row are out of both
// feeds. Blocks in either direction remove the candidate.
func (r *FeedRepo) ListCandidates(ctx context.Context, viewer ViewerContext, q FeedQuery) ([]FeedCandidate, error) {
	if !q.Lane.Valid() {
		return nil, fmt.Errorf("invalid lane")
	}
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Bounding box prefilter; the haversine below does the exact cut.
	latDelta := q.RadiusKm / 111.0
	lonDelta := q.RadiusKm / 85.0

	afterTs := q.AfterEffectiveTs
	firstPage := q.AfterUserID == 0
	if firstPage {
		afterTs = now.Add(100 * 365 * 24 * time.Hour)
	}

	rows, err := r.pool.Query(ctx, `
WITH ranked AS (
	SELECT
		p.user_id,
		p.display_name,
		p.photo_key,
		p.bio,
		p.breed_name,
		2 * 6371 * asin(sqrt(
			power(sin(radians(p.latitude - $2) / 2), 2) +
			cos(radians($2)) * cos(radians(p.latitude)) *
			power(sin(radians(p.longitude - $3) / 2), 2)
		)) AS distance_km,
		(b.user_id IS NOT NULL) AS boosted,
		p.updated_at
			+ CASE WHEN b.user_id IS NOT NULL THEN make_interval(secs => $8) ELSE INTERVAL '0' END
			- CASE WHEN p.moderation_status = 'low' THEN make_interval(secs => $9) ELSE INTERVAL '0' END
			AS effective_ts,
		(
			p.match_enabled
			AND v.match_enabled
			AND (v.interested_gender = 'any' OR p.gender = v.interested_gender)
			AND (p.interested_gender = 'any' OR v.gender = p.interested_gender)
			AND (v.age_min IS NULL OR p.birth_date <= ($7::timestamptz - make_interval(years => v.age_min))::date)
			AND (v.age_max IS NULL OR p.birth_date > ($7::timestamptz - make_interval(years => v.age_max + 1))::date)
			AND (p.age_min_pref IS NULL OR v.birth_date <= ($7::timestamptz - make_interval(years => p.age_min_pref))::date)
			AND (p.age_max_pref IS NULL OR v.birth_date > ($7::timestamptz - make_interval(years => p.age_max_pref + 1))::date)
		) AS match_eligible
	FROM profiles p
	CROSS JOIN (SELECT $2::float8 AS latitude, $3::float8 AS longitude,
		$12::text AS gender, $13::text AS interested_gender,
		$14::bool AS match_enabled, $18::date AS birth_date,
		$19::int AS age_min, $20::int AS age_max) v
	LEFT JOIN boost_sessions b
		ON b.user_id = p.user_id AND b.status = 'active' AND b.ends_at > $7
	WHERE p.user_id <> $1
		AND p.moderation_status <> 'banned'
		AND p.latitude BETWEEN $2 - $4 AND $2 + $4
		AND p.longitude BETWEEN $3 - $5 AND $3 + $5
		AND CASE WHEN $6 = 'pals' THEN p.pals_enabled ELSE p.match_enabled END
		AND NOT EXISTS (
			SELECT 1 FROM blocks bl
			WHERE (bl.blocker_user_id = $1 AND bl.blocked_user_id = p.user_id)
				OR (bl.blocker_user_id = p.user_id AND bl.blocked_user_id = $1)
		)
		AND NOT EXISTS (
			SELECT 1 FROM swipes s
			WHERE s.viewer_user_id = $1
				AND s.candidate_user_id = p.user_id
				AND s.lane = $6
				AND (s.action <> 'pass' OR s.created_at > $7::timestamptz - make_interval(secs => $10))
		)
		AND NOT EXISTS (
			SELECT 1 FROM pending_connections pc
			WHERE pc.status = 'pending'
				AND pc.user_low_id = LEAST($1::bigint, p.user_id)
				AND pc.user_high_id = GREATEST($1::bigint, p.user_id)
		)
)
SELECT user_id, display_name, photo_key, bio, breed_name, distance_km, boosted, effective_ts
FROM ranked
WHERE distance_km <= $11
	AND CASE WHEN $6 = 'match' THEN match_eligible ELSE NOT match_eligible END
	AND (effective_ts, user_id) < ($15::timestamptz, $16::bigint)
ORDER BY effective_ts DESC, user_id DESC
LIMIT $17
`,
		viewer.UserID,
		viewer.Latitude,
		viewer.Longitude,
		latDelta,
		lonDelta,
		string(q.Lane),
		now.UTC(),
		int64(q.BoostOffset.Seconds()),
		int64(q.PenaltyOffset.Seconds()),
		int64(q.PassCooldown.Seconds()),
		q.RadiusKm,
		viewer.Gender,
		viewer.InterestedGender,
		viewer.MatchEnabled,
		afterTs.UTC(),
		cursorUserID(firstPage, q.AfterUserID),
		q.Limit,
		viewer.BirthDate,
		viewer.AgeMinPref,
		viewer.AgeMaxPref,
	)
	if err != nil {
		return nil, fmt.Errorf("list feed candidates: %w", err)
	}
	defer rows.Close()

	items := make([]FeedCandidate, 0, q.Limit)
	for rows.Next() {
		var c FeedCandidate
		if err := rows.Scan(
			&c.UserID,
			&c.DisplayName,
			&c.PhotoKey,
			&c.Bio,
			&c.BreedName,
			&c.DistanceKm,
			&c.Boosted,
			&c.EffectiveTs,
		); err != nil {
			return nil, fmt.Errorf("scan feed candidate: %w", err)
		}
		items = append(items, c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate feed candidates: %w", rows.Err())
	}

	return items, nil
}

// cursorUserID returns a sentinel above all real ids for the first page so
// the keyset tuple comparison admits everything.
func cursorUserID(firstPage bool, afterUserID int64) int64 {
	if firstPage {
		return int64(1) << 62
	}
	return afterUserID
}
