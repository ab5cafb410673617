package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
	"github.com/mkarlsen/chess-openings-live/internal/index"
	"github.com/mkarlsen/chess-openings-live/internal/obslog"
	"github.com/mkarlsen/chess-openings-live/internal/opening"
)

var (
	ErrInvalidUpdate  = errors.New("invalid game update")
	ErrGameFinished   = errors.New("game already in a terminal state")
	ErrBadTransition  = errors.New("illegal status transition")
	ErrUnclassifiable = errors.New("game has unparseable moves")
)

// Sink receives classification deltas. Set mutation in the sink happens while
// the per-game lock is still held, so the registry write and the index update
// are observed together.
type Sink interface {
	OnClassify(gameID string, old, cls opening.Classification, rating int, timeControl string)
	OnMeta(gameID string, rating int, timeControl string)
}

// Hooks are optional collaborator callbacks, invoked synchronously with a
// snapshot after the per-game lock is released.
type Hooks struct {
	GameFinished func(domain.Game)
	GameEvicted  func(domain.Game)
}

// Options tune the registry. Zero values fall back to defaults.
type Options struct {
	StaleAfter time.Duration // live games idle longer than this are evicted
	Hooks      Hooks
}

const defaultStaleAfter = 120 * time.Second

type entry struct {
	mu sync.Mutex

	game domain.Game
	raw  []string // provider tokens as received, for prefix comparison

	sess   *opening.Session
	cursor opening.Cursor

	unclassifiable bool
	removed        bool
}

// Registry is the live store of per-game state. Mutation of a single game is
// serialized by its entry lock; different ids proceed independently. The
// outer map lock is only held for entry lookup/insert/delete.
type Registry struct {
	mu         sync.RWMutex
	games      map[string]*entry
	tombstones map[string]time.Time // terminal ids, rejected until pruned

	tree *opening.Tree
	sink Sink

	staleAfter time.Duration
	hooks      Hooks

	updates       atomic.Int64
	resyncs       atomic.Int64
	parseFailures atomic.Int64
	evictions     atomic.Int64
	finished      atomic.Int64
	seen          atomic.Int64
}

func New(tree *opening.Tree, sink Sink, opts Options) *Registry {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	return &Registry{
		games:      make(map[string]*entry),
		tombstones: make(map[string]time.Time),
		tree:       tree,
		sink:       sink,
		staleAfter: opts.StaleAfter,
		hooks:      opts.Hooks,
	}
}

// StaleAfter returns the configured staleness window.
func (r *Registry) StaleAfter() time.Duration { return r.staleAfter }

// Upsert applies one update: move/status/rating deltas, reclassification, and
// the resulting index delta. Safe for concurrent use across game ids.
func (r *Registry) Upsert(u domain.GameUpdate) error {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidUpdate)
	}
	if u.Status != "" && !u.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidUpdate, u.Status)
	}

	e, created, err := r.getOrCreate(id, u.Source)
	if err != nil {
		return err
	}
	if created {
		r.seen.Add(1)
	}

	e.mu.Lock()
	finishedGame, err := r.applyLocked(e, u)
	e.mu.Unlock()

	if err == nil {
		r.updates.Add(1)
	}

	if finishedGame != nil {
		r.mu.Lock()
		delete(r.games, id)
		r.tombstones[id] = time.Now()
		r.mu.Unlock()
		r.finished.Add(1)
		if r.hooks.GameFinished != nil {
			r.hooks.GameFinished(*finishedGame)
		}
	}
	return err
}

func (r *Registry) getOrCreate(id, source string) (*entry, bool, error) {
	r.mu.RLock()
	e, ok := r.games[id]
	_, dead := r.tombstones[id]
	r.mu.RUnlock()
	if dead {
		return nil, false, fmt.Errorf("%w: %s", ErrGameFinished, id)
	}
	if ok {
		return e, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead = r.tombstones[id]; dead {
		return nil, false, fmt.Errorf("%w: %s", ErrGameFinished, id)
	}
	if e, ok = r.games[id]; ok {
		return e, false, nil
	}
	e = &entry{
		game: domain.Game{
			ID:         id,
			Source:     strings.TrimSpace(source),
			Status:     domain.StatusLive,
			LastUpdate: time.Now(),
		},
		sess:   opening.NewSession(),
		cursor: r.tree.NewCursor(),
	}
	r.games[id] = e
	return e, true, nil
}

// applyLocked mutates one game under its entry lock. It returns a snapshot
// when the update drove the game into a terminal state.
func (r *Registry) applyLocked(e *entry, u domain.GameUpdate) (*domain.Game, error) {
	if e.removed || e.game.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrGameFinished, e.game.ID)
	}

	if u.Status != "" && u.Status != e.game.Status {
		if !e.game.Status.CanTransition(u.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, e.game.Status, u.Status)
		}
		e.game.Status = u.Status
	}

	if u.White.Name != "" {
		e.game.White.Name = u.White.Name
	}
	if u.White.Rating > 0 {
		e.game.White.Rating = u.White.Rating
	}
	if u.Black.Name != "" {
		e.game.Black.Name = u.Black.Name
	}
	if u.Black.Rating > 0 {
		e.game.Black.Rating = u.Black.Rating
	}
	if tc := strings.TrimSpace(u.TimeControl); tc != "" {
		e.game.TimeControl = tc
	}
	if src := strings.TrimSpace(u.Source); src != "" {
		e.game.Source = src
	}
	if u.Timestamp.IsZero() {
		e.game.LastUpdate = time.Now()
	} else {
		e.game.LastUpdate = u.Timestamp
	}

	old := e.game.Classification
	if err := r.applyMovesLocked(e, u); err != nil {
		// Malformed move text: the game stays tracked but leaves the index.
		e.unclassifiable = true
		e.game.Classification = opening.Classification{}
		if old.Classified() {
			r.sink.OnClassify(e.game.ID, old, opening.Classification{}, e.game.MaxRating(), e.game.TimeControl)
		}
		r.parseFailures.Add(1)
		obslog.L().Warn("game_unclassifiable",
			zap.String("game_id", e.game.ID),
			zap.Error(err),
		)
		wrapped := fmt.Errorf("%w: %v", ErrUnclassifiable, err)
		// A terminal transition still completes: the game leaves the
		// registry even though its final move text never parsed.
		if e.game.Status.Terminal() {
			e.removed = true
			snap := e.game.Snapshot()
			return &snap, wrapped
		}
		return nil, wrapped
	}

	cls := e.game.Classification
	switch {
	case e.game.Status.Terminal():
		if cls.Classified() || old.Classified() {
			r.sink.OnClassify(e.game.ID, old, opening.Classification{}, e.game.MaxRating(), e.game.TimeControl)
		}
		e.removed = true
		snap := e.game.Snapshot()
		return &snap, nil
	case e.unclassifiable:
		// Stays out of the index until a resync repairs it.
	case cls != old:
		r.sink.OnClassify(e.game.ID, old, cls, e.game.MaxRating(), e.game.TimeControl)
	default:
		r.sink.OnMeta(e.game.ID, e.game.MaxRating(), e.game.TimeControl)
	}
	return nil, nil
}

// applyMovesLocked folds the update's move text into the entry. Appends walk
// only the new tokens; anything else resets the cursor and rewalks from the
// root (a resync).
func (r *Registry) applyMovesLocked(e *entry, u domain.GameUpdate) error {
	in := strings.Fields(u.Moves)
	if len(in) == 0 {
		return nil
	}

	var next []string
	if u.MovesDelta {
		next = make([]string, 0, len(e.raw)+len(in))
		next = append(next, e.raw...)
		next = append(next, in...)
	} else {
		next = in
	}

	if extendsPrefix(e.raw, next) {
		tail := next[len(e.raw):]
		if len(tail) == 0 {
			return nil
		}
		added, err := e.sess.PushAll(strings.Join(tail, " "))
		if err != nil {
			// The session consumed part of the tail before failing. Discard
			// it with the cursor and stored prefix, so the next history
			// replays from the root instead of re-pushing consumed moves.
			e.sess = opening.NewSession()
			e.cursor = r.tree.NewCursor()
			e.raw = nil
			e.game.Moves = nil
			return err
		}
		cls, cur := r.tree.Advance(e.cursor, added)
		e.cursor = cur
		e.raw = next
		e.game.Moves = domain.MovesFromTokens(e.sess.Tokens())
		e.game.Classification = cls
		e.unclassifiable = false
		return nil
	}

	// Divergence: the history no longer extends the stored prefix. Non-fatal;
	// rebuild parser and cursor from scratch over the full current list.
	sess := opening.NewSession()
	tokens, err := sess.PushAll(strings.Join(next, " "))
	if err != nil {
		return err
	}
	cls, cur := r.tree.Advance(r.tree.NewCursor(), tokens)
	e.sess = sess
	e.cursor = cur
	e.raw = next
	e.game.Moves = domain.MovesFromTokens(tokens)
	e.game.Classification = cls
	e.unclassifiable = false
	r.resyncs.Add(1)
	obslog.L().Info("classification_resync",
		zap.String("game_id", e.game.ID),
		zap.Int("plies", len(tokens)),
	)
	return nil
}

func extendsPrefix(have, next []string) bool {
	if len(next) < len(have) {
		return false
	}
	for i := range have {
		if have[i] != next[i] {
			return false
		}
	}
	return true
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	delete(r.games, id)
	r.mu.Unlock()
}

// Get returns a point-in-time copy of one game.
func (r *Registry) Get(id string) (domain.Game, bool) {
	r.mu.RLock()
	e, ok := r.games[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Game{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.Game{}, false
	}
	return e.game.Snapshot(), true
}

// ListActive returns copies of every tracked (non-terminal) game.
func (r *Registry) ListActive() []domain.Game {
	entries := r.entries()
	out := make([]domain.Game, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.game.Snapshot())
		}
		e.mu.Unlock()
	}
	return out
}

// Truth reports every classified game for index rebuilds.
func (r *Registry) Truth() []index.GameTruth {
	entries := r.entries()
	out := make([]index.GameTruth, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && !e.unclassifiable && e.game.Classification.Classified() {
			out = append(out, index.GameTruth{
				ID:             e.game.ID,
				Classification: e.game.Classification,
				Rating:         e.game.MaxRating(),
				TimeControl:    e.game.TimeControl,
			})
		}
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.games))
	for _, e := range r.games {
		out = append(out, e)
	}
	return out
}

// EvictStale removes live games idle past the staleness window, as if they
// had silently ended. Returns the number evicted.
func (r *Registry) EvictStale(now time.Time) int {
	cutoff := now.Add(-r.staleAfter)
	var evicted []domain.Game

	// Tombstones only need to outlive late provider updates; prune them on
	// the same window.
	r.mu.Lock()
	for id, at := range r.tombstones {
		if at.Before(cutoff) {
			delete(r.tombstones, id)
		}
	}
	r.mu.Unlock()

	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.removed && e.game.Status == domain.StatusLive && e.game.LastUpdate.Before(cutoff) {
			old := e.game.Classification
			if old.Classified() {
				r.sink.OnClassify(e.game.ID, old, opening.Classification{}, e.game.MaxRating(), e.game.TimeControl)
			}
			e.removed = true
			evicted = append(evicted, e.game.Snapshot())
		}
		e.mu.Unlock()
	}

	for _, g := range evicted {
		r.drop(g.ID)
		r.evictions.Add(1)
		obslog.L().Info("stale_game_evicted",
			zap.String("game_id", g.ID),
			zap.Time("last_update", g.LastUpdate),
		)
		if r.hooks.GameEvicted != nil {
			r.hooks.GameEvicted(g)
		}
	}
	return len(evicted)
}

// Stats are cumulative and current counters for the stats surface.
type Stats struct {
	GamesSeen      int64 `json:"games_seen"`
	UpdatesApplied int64 `json:"updates_applied"`
	Tracked        int   `json:"tracked"`
	Live           int   `json:"live"`
	Classified     int   `json:"classified"`
	Unclassifiable int   `json:"unclassifiable"`
	Resyncs        int64 `json:"resyncs"`
	ParseFailures  int64 `json:"parse_failures"`
	Evictions      int64 `json:"evictions"`
	Finished       int64 `json:"finished"`
}

func (r *Registry) Stats() Stats {
	s := Stats{
		GamesSeen:      r.seen.Load(),
		UpdatesApplied: r.updates.Load(),
		Resyncs:        r.resyncs.Load(),
		ParseFailures:  r.parseFailures.Load(),
		Evictions:      r.evictions.Load(),
		Finished:       r.finished.Load(),
	}
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.removed {
			s.Tracked++
			if e.game.Status == domain.StatusLive {
				s.Live++
			}
			if e.unclassifiable {
				s.Unclassifiable++
			} else if e.game.Classification.Classified() {
				s.Classified++
			}
		}
		e.mu.Unlock()
	}
	return s
}
