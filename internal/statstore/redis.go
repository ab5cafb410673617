package statstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlCounters = 7 * 24 * time.Hour

// Store keeps cumulative opening statistics in Redis so counts survive
// process restarts. All keys expire after a week of inactivity.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// NewStoreFromURL connects from a redis:// URL and verifies the connection.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return NewStore(rdb), nil
}

func (s *Store) keyFinished() string        { return "op:finished" }
func (s *Store) keyNames() string           { return "op:names" }
func (s *Store) keyCounter(n string) string { return "op:counter:" + strings.TrimSpace(n) }

// RecordFinished bumps the all-time finished-game count for an opening.
func (s *Store) RecordFinished(ctx context.Context, eco, name string) error {
	eco = strings.TrimSpace(eco)
	if eco == "" {
		return nil
	}
	if err := s.rdb.ZIncrBy(ctx, s.keyFinished(), 1, eco).Err(); err != nil {
		return err
	}
	if name != "" {
		_ = s.rdb.HSet(ctx, s.keyNames(), eco, name).Err()
		_ = s.rdb.Expire(ctx, s.keyNames(), ttlCounters).Err()
	}
	return s.rdb.Expire(ctx, s.keyFinished(), ttlCounters).Err()
}

// IncrCounter bumps a named operational counter (resyncs, evictions, polls).
func (s *Store) IncrCounter(ctx context.Context, name string) error {
	key := s.keyCounter(name)
	if err := s.rdb.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttlCounters).Err()
}

// Counter reads a named operational counter; missing counters read as zero.
func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.keyCounter(name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// FinishedCount is one row of the all-time finished leaderboard.
type FinishedCount struct {
	ECO   string
	Name  string
	Count int64
}

// TopFinished returns the n openings with the most finished games.
func (s *Store) TopFinished(ctx context.Context, n int) ([]FinishedCount, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.rdb.ZRevRangeWithScores(ctx, s.keyFinished(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]FinishedCount, 0, len(rows))
	for _, row := range rows {
		eco, _ := row.Member.(string)
		name, _ := s.rdb.HGet(ctx, s.keyNames(), eco).Result()
		out = append(out, FinishedCount{ECO: eco, Name: name, Count: int64(row.Score)})
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
