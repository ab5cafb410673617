package view

import (
	"sort"
	"time"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
	"github.com/mkarlsen/chess-openings-live/internal/index"
	"github.com/mkarlsen/chess-openings-live/internal/registry"
)

// Service is the read-only façade over Registry + Aggregator. Every method
// returns snapshots; callers can hold results across later writes.
type Service struct {
	reg     *registry.Registry
	agg     *index.Aggregator
	started time.Time
}

func New(reg *registry.Registry, agg *index.Aggregator) *Service {
	return &Service{reg: reg, agg: agg, started: time.Now()}
}

// Query returns the filtered live index.
func (s *Service) Query(f index.Filter) []index.Entry {
	return s.agg.Query(f)
}

// GamesForOpening returns snapshots of the games currently indexed under an
// ECO code, most recently updated first (id as tie-break).
func (s *Service) GamesForOpening(code string) []domain.Game {
	ids := s.agg.Games(code)
	out := make([]domain.Game, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.reg.Get(id); ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].LastUpdate.After(out[j].LastUpdate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats is the cumulative counter snapshot handed to persistence collaborators.
type Stats struct {
	registry.Stats
	IndexedGames  int64 `json:"indexed_games"`
	IndexRebuilds int64 `json:"index_rebuilds"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Stats:         s.reg.Stats(),
		IndexedGames:  int64(s.agg.ClassifiedCount()),
		IndexRebuilds: s.agg.Rebuilds(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
}
