package statstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
)

// Repository archives finished games to Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveFinished upserts one finished game with its final classification.
func (r *Repository) SaveFinished(ctx context.Context, g domain.Game) error {
	if r == nil || r.db == nil {
		return nil
	}

	sans := make([]string, 0, len(g.Moves))
	for _, m := range g.Moves {
		sans = append(sans, m.SAN)
	}

	q := `INSERT INTO finished_games (
	    game_id, source, eco, opening, matched_ply,
	    white_name, white_rating, black_name, black_rating,
	    time_control, moves_san, finished_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    eco=EXCLUDED.eco,
	    opening=EXCLUDED.opening,
	    matched_ply=EXCLUDED.matched_ply,
	    moves_san=EXCLUDED.moves_san,
	    finished_at=EXCLUDED.finished_at`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.Source,
		g.Classification.Code, g.Classification.Name, g.Classification.MatchedPly,
		g.White.Name, g.White.Rating, g.Black.Name, g.Black.Rating,
		g.TimeControl, strings.Join(sans, " "), g.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("save finished game %s: %w", g.ID, err)
	}
	return nil
}
