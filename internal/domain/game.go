package domain

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mkarlsen/chess-openings-live/internal/opening"
)

// Status is a game lifecycle state. Transitions: live→paused/finished/aborted,
// paused→live/finished/aborted. Finished and aborted are terminal.
type Status string

const (
	StatusLive     Status = "live"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusLive, StatusPaused, StatusFinished, StatusAborted:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAborted
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusLive:
		return next == StatusPaused || next == StatusFinished || next == StatusAborted
	case StatusPaused:
		return next == StatusLive || next == StatusFinished || next == StatusAborted
	}
	return false
}

// Player is one side of a game.
type Player struct {
	Name   string `json:"name"`
	Rating int    `json:"rating,omitempty"`
}

// Move is a single canonical ply.
type Move struct {
	Ply   int    `json:"ply"`
	Color string `json:"color"`
	SAN   string `json:"san"`
}

// MovesFromTokens numbers canonical tokens into plies. Odd plies are white.
func MovesFromTokens(tokens []string) []Move {
	out := make([]Move, 0, len(tokens))
	for i, tok := range tokens {
		color := "white"
		if i%2 == 1 {
			color = "black"
		}
		out = append(out, Move{Ply: i + 1, Color: color, SAN: tok})
	}
	return out
}

// Game is the registry's per-game state. Reads always receive a Snapshot.
type Game struct {
	ID             string                 `json:"id"`
	Source         string                 `json:"source,omitempty"`
	White          Player                 `json:"white"`
	Black          Player                 `json:"black"`
	TimeControl    string                 `json:"time_control,omitempty"`
	Moves          []Move                 `json:"moves"`
	Status         Status                 `json:"status"`
	LastUpdate     time.Time              `json:"last_update"`
	Classification opening.Classification `json:"classification"`
}

// Snapshot returns a point-in-time copy that later writes cannot touch.
func (g Game) Snapshot() Game {
	cp := g
	cp.Moves = append([]Move(nil), g.Moves...)
	return cp
}

// MaxRating returns the higher of the two player ratings, used for
// rating-filtered index queries.
func (g Game) MaxRating() int {
	if g.White.Rating > g.Black.Rating {
		return g.White.Rating
	}
	return g.Black.Rating
}

// GameUpdate is the uniform ingestion payload: a full move-list replacement
// or a delta-append, plus whatever metadata the provider had.
type GameUpdate struct {
	ID          string    `json:"id" validate:"required,min=1,max=64"`
	Source      string    `json:"source,omitempty" validate:"omitempty,max=64"`
	White       Player    `json:"white"`
	Black       Player    `json:"black"`
	TimeControl string    `json:"time_control,omitempty" validate:"omitempty,max=32"`
	Moves       string    `json:"moves,omitempty"`
	MovesDelta  bool      `json:"moves_delta,omitempty"`
	Status      Status    `json:"status,omitempty" validate:"omitempty,oneof=live paused finished aborted"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

var validate = validator.New()

// Validate checks the update against its field constraints.
func (u GameUpdate) Validate() error {
	return validate.Struct(u)
}
