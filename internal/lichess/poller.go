package lichess

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkarlsen/chess-openings-live/internal/obslog"
	"github.com/mkarlsen/chess-openings-live/internal/registry"
)

const (
	SourceTV        = "tv"
	SourceBroadcast = "broadcast"
	SourceAuto      = "auto"
)

// Poller periodically pulls featured games from Lichess and feeds them into
// the registry as uniform updates.
type Poller struct {
	client   *Client
	reg      *registry.Registry
	source   string
	limit    int
	interval time.Duration

	polls int64
}

func NewPoller(client *Client, reg *registry.Registry, source string, limit int, interval time.Duration) *Poller {
	if source == "" {
		source = SourceAuto
	}
	if limit <= 0 {
		limit = 10
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{client: client, reg: reg, source: source, limit: limit, interval: interval}
}

// Run polls immediately and then on every tick until the context is done.
func (p *Poller) Run(ctx context.Context) {
	p.pollOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("poller_stopped", zap.Int64("polls", p.Polls()))
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	atomic.AddInt64(&p.polls, 1)
	cycle := uuid.NewString()[:8]
	start := time.Now()

	ids, source, err := p.collectIDs(ctx)
	if err != nil {
		obslog.L().Warn("poll_collect_failed",
			zap.String("cycle", cycle),
			zap.String("source", p.source),
			zap.Error(err))
		return
	}
	if len(ids) > p.limit {
		ids = ids[:p.limit]
	}

	var ingested, failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.ingest(ctx, id, source); err != nil {
			failed++
			obslog.L().Warn("game_ingest_failed",
				zap.String("cycle", cycle),
				zap.String("game_id", id),
				zap.Error(err))
			continue
		}
		ingested++
	}

	obslog.L().Info("poll_complete",
		zap.String("cycle", cycle),
		zap.String("source", source),
		zap.Int("games", len(ids)),
		zap.Int("ingested", ingested),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)))
}

// collectIDs resolves game ids for the configured source. In auto mode TV is
// tried first and broadcasts serve as the fallback when TV yields nothing.
func (p *Poller) collectIDs(ctx context.Context) ([]string, string, error) {
	switch p.source {
	case SourceTV:
		ids, err := p.tvGameIDs(ctx)
		return ids, SourceTV, err
	case SourceBroadcast:
		ids, err := p.broadcastGameIDs(ctx)
		return ids, SourceBroadcast, err
	default:
		ids, err := p.tvGameIDs(ctx)
		if err == nil && len(ids) > 0 {
			return ids, SourceTV, nil
		}
		if err != nil {
			obslog.L().Warn("tv_source_failed", zap.Error(err))
		}
		ids, err = p.broadcastGameIDs(ctx)
		return ids, SourceBroadcast, err
	}
}

func (p *Poller) tvGameIDs(ctx context.Context) ([]string, error) {
	channels, err := p.client.TVChannels(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, ch := range channels {
		if ch.GameID == "" {
			continue
		}
		if _, ok := seen[ch.GameID]; ok {
			continue
		}
		seen[ch.GameID] = struct{}{}
		ids = append(ids, ch.GameID)
	}
	return ids, nil
}

func (p *Poller) broadcastGameIDs(ctx context.Context) ([]string, error) {
	broadcasts, err := p.client.Broadcasts(ctx, p.limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, roundID := range activeRoundIDs(broadcasts, time.Now()) {
		if len(ids) >= p.limit {
			break
		}
		roundIDs, err := p.client.BroadcastRound(ctx, roundID)
		if err != nil {
			obslog.L().Warn("broadcast_round_failed", zap.String("round_id", roundID), zap.Error(err))
			continue
		}
		for _, id := range roundIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *Poller) ingest(ctx context.Context, gameID, source string) error {
	export, err := p.client.ExportGame(ctx, gameID)
	if err != nil {
		return err
	}
	err = p.reg.Upsert(export.Update(source))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrGameFinished):
		// Already terminal in the registry; the export lagged behind.
		return nil
	case errors.Is(err, registry.ErrUnclassifiable):
		// Recorded by the registry; keep the game flowing.
		return nil
	default:
		return err
	}
}

// Polls reports how many poll cycles have run.
func (p *Poller) Polls() int64 { return atomic.LoadInt64(&p.polls) }
