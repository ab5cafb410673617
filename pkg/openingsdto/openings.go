// Package openingsdto holds the JSON payloads served by the openings API.
package openingsdto

import "time"

// OpeningEntry is one classified opening with its live game stats.
type OpeningEntry struct {
	ECO         string    `json:"eco"`
	Name        string    `json:"name"`
	Aliases     []string  `json:"aliases,omitempty"`
	Count       int       `json:"count"`
	GameIDs     []string  `json:"game_ids"`
	LastChanged time.Time `json:"last_changed"`
}

type OpeningsResponse struct {
	Openings  []OpeningEntry `json:"openings"`
	Total     int            `json:"total"`
	Generated time.Time      `json:"generated"`
}

// PlayerInfo is one side of a game as served over the API.
type PlayerInfo struct {
	Name   string `json:"name"`
	Rating int    `json:"rating,omitempty"`
}

// GameInfo is a point-in-time view of one live game.
type GameInfo struct {
	ID          string     `json:"id"`
	Source      string     `json:"source,omitempty"`
	White       PlayerInfo `json:"white"`
	Black       PlayerInfo `json:"black"`
	TimeControl string     `json:"time_control,omitempty"`
	Moves       []string   `json:"moves"`
	Status      string     `json:"status"`
	ECO         string     `json:"eco,omitempty"`
	Opening     string     `json:"opening,omitempty"`
	MatchedPly  int        `json:"matched_ply,omitempty"`
	LastUpdate  time.Time  `json:"last_update"`
}

type GamesResponse struct {
	ECO   string     `json:"eco"`
	Games []GameInfo `json:"games"`
}

// StatsResponse reports core counters for operators.
type StatsResponse struct {
	LiveGames       int   `json:"live_games"`
	ClassifiedGames int   `json:"classified_games"`
	Unclassifiable  int   `json:"unclassifiable_games"`
	Updates         int64 `json:"updates"`
	Resyncs         int64 `json:"resyncs"`
	ParseFailures   int64 `json:"parse_failures"`
	Evictions       int64 `json:"evictions"`
	Finished        int64 `json:"finished"`
	IndexRebuilds   int64 `json:"index_rebuilds"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

// IngestResponse acknowledges a pushed game update.
type IngestResponse struct {
	ID             string `json:"id"`
	Accepted       bool   `json:"accepted"`
	ECO            string `json:"eco,omitempty"`
	Opening        string `json:"opening,omitempty"`
	Unclassifiable bool   `json:"unclassifiable,omitempty"`
}

// ErrorResponse is the uniform API error shape.
type ErrorResponse struct {
	Error string `json:"error"`
}
