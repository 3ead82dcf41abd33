package models

import (
	"time"

	"github.com/google/uuid"
)

// Trip statuses
const (
	TripStatusActive    = "active"
	TripStatusCompleted = "completed"
	TripStatusCancelled = "cancelled"
)

// Space classes, ordered small < medium < large.
const (
	SpaceSmall  = "small"
	SpaceMedium = "medium"
	SpaceLarge  = "large"
)

var spaceRank = map[string]int{
	SpaceSmall:  1,
	SpaceMedium: 2,
	SpaceLarge:  3,
}

func IsValidSpaceClass(s string) bool {
	_, ok := spaceRank[s]
	return ok
}

// SpaceFits reports whether a trip with `available` space can carry a
// package of `required` size.
func SpaceFits(available, required string) bool {
	return spaceRank[available] >= spaceRank[required] && spaceRank[required] > 0
}

// SpaceExactFit reports an exact class match, used as a ranking bonus so
// small packages do not soak up large-capacity trips.
func SpaceExactFit(available, required string) bool {
	return spaceRank[available] == spaceRank[required] && spaceRank[required] > 0
}

type Trip struct {
	ID             uuid.UUID `json:"id"`
	TravelerID     uuid.UUID `json:"traveler_id"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	DepartureAt    time.Time `json:"departure_at"`
	AvailableSpace string    `json:"available_space"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CandidateTrip is a trip joined with the traveler fields the ranking
// engine needs. Avoids an N+1 lookup per candidate.
type CandidateTrip struct {
	Trip
	TravelerName     string `json:"traveler_name"`
	TravelerVerified bool   `json:"traveler_verified"`
}
