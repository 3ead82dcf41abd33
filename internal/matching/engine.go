// Package matching ranks active trips against a delivery request's route,
// date and package size. It is read-only: acceptance races are resolved by
// the match lifecycle guards, not here.
package matching

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/parcel-marketplace/backend/internal/models"
)

// Scoring weights. Normalized so a perfect candidate scores 100.
const (
	weightOriginExact    = 30
	weightOriginSameCity = 15
	weightDestExact      = 30
	weightDestSameCity   = 15
	weightDateMax        = 30
	dateDecayPerDay      = 10
	weightSpaceExactFit  = 10
	weightSpaceOversized = 5

	// Hard filter: trips departing more than this many days from the
	// requested date are not candidates.
	dateWindowDays = 2

	// Lookahead when the request has no fixed date.
	openDateLookahead = 30 * 24 * time.Hour
)

// Match reasons surfaced to the client.
const (
	ReasonSameRoute     = "same route"
	ReasonSameCityRoute = "same city route"
	ReasonSameDay       = "same day"
	ReasonCloseDate     = "close date"
	ReasonFlexibleDate  = "flexible date"
	ReasonExactFit      = "exact space fit"
	ReasonLargerVehicle = "larger vehicle available"
	ReasonVerified      = "verified traveler"
)

type Query struct {
	Origin      string
	Destination string
	Date        *time.Time
	PackageSize string
}

type Candidate struct {
	Trip           models.CandidateTrip `json:"trip"`
	RelevanceScore int                  `json:"relevance_score"`
	MatchReasons   []string             `json:"match_reasons"`
}

// TripSource supplies active trips departing inside a window. Backed by the
// trip repository in production, by an in-memory slice in tests.
type TripSource interface {
	ActiveTrips(ctx context.Context, from, to time.Time) ([]models.CandidateTrip, error)
}

type Engine struct {
	trips TripSource
}

func NewEngine(trips TripSource) *Engine {
	return &Engine{trips: trips}
}

// SearchCandidates returns ranked candidates for the query. An empty result
// is not an error: it means no trip passed the hard filters.
func (e *Engine) SearchCandidates(ctx context.Context, q Query) ([]Candidate, error) {
	now := time.Now()
	from, to := searchWindow(q.Date, now)

	trips, err := e.trips.ActiveTrips(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Rank(q, trips), nil
}

func searchWindow(date *time.Time, now time.Time) (time.Time, time.Time) {
	if date == nil {
		return now, now.Add(openDateLookahead)
	}
	from := date.AddDate(0, 0, -dateWindowDays)
	if from.Before(now) {
		from = now
	}
	return from, date.AddDate(0, 0, dateWindowDays+1)
}

// Rank applies the hard filters and weighted scoring to a fixed snapshot of
// trips. Pure: identical inputs produce identical order.
func Rank(q Query, trips []models.CandidateTrip) []Candidate {
	candidates := make([]Candidate, 0, len(trips))
	for _, t := range trips {
		if t.Status != models.TripStatusActive {
			continue
		}
		if !models.SpaceFits(t.AvailableSpace, q.PackageSize) {
			continue
		}
		if q.Date != nil && dayOffset(t.DepartureAt, *q.Date) > dateWindowDays {
			continue
		}

		score, reasons := scoreTrip(q, t)
		candidates = append(candidates, Candidate{
			Trip:           t,
			RelevanceScore: score,
			MatchReasons:   reasons,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.Trip.TravelerVerified != b.Trip.TravelerVerified {
			return a.Trip.TravelerVerified
		}
		if !a.Trip.DepartureAt.Equal(b.Trip.DepartureAt) {
			return a.Trip.DepartureAt.Before(b.Trip.DepartureAt)
		}
		return a.Trip.ID.String() < b.Trip.ID.String()
	})

	return candidates
}

func scoreTrip(q Query, t models.CandidateTrip) (int, []string) {
	score := 0
	var reasons []string

	originExact := sameLocation(q.Origin, t.Origin)
	destExact := sameLocation(q.Destination, t.Destination)
	originCity := originExact || sameCity(q.Origin, t.Origin)
	destCity := destExact || sameCity(q.Destination, t.Destination)

	switch {
	case originExact:
		score += weightOriginExact
	case originCity:
		score += weightOriginSameCity
	}
	switch {
	case destExact:
		score += weightDestExact
	case destCity:
		score += weightDestSameCity
	}
	if originExact && destExact {
		reasons = append(reasons, ReasonSameRoute)
	} else if originCity && destCity {
		reasons = append(reasons, ReasonSameCityRoute)
	}

	if q.Date == nil {
		score += weightDateMax
		reasons = append(reasons, ReasonFlexibleDate)
	} else {
		offset := dayOffset(t.DepartureAt, *q.Date)
		dateScore := weightDateMax - offset*dateDecayPerDay
		if dateScore > 0 {
			score += dateScore
		}
		if offset == 0 {
			reasons = append(reasons, ReasonSameDay)
		} else if offset <= dateWindowDays {
			reasons = append(reasons, ReasonCloseDate)
		}
	}

	if models.SpaceExactFit(t.AvailableSpace, q.PackageSize) {
		score += weightSpaceExactFit
		reasons = append(reasons, ReasonExactFit)
	} else {
		score += weightSpaceOversized
		reasons = append(reasons, ReasonLargerVehicle)
	}

	if t.TravelerVerified {
		reasons = append(reasons, ReasonVerified)
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

// dayOffset is the absolute calendar-day distance between two instants.
func dayOffset(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(ad.Sub(bd).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func sameLocation(a, b string) bool {
	return normalize(a) != "" && normalize(a) == normalize(b)
}

// sameCity compares the leading comma-separated segment, so
// "Lagos, Ikeja" and "Lagos, Yaba" count as the same city.
func sameCity(a, b string) bool {
	ca, cb := cityOf(a), cityOf(b)
	return ca != "" && ca == cb
}

func cityOf(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return normalize(s)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
