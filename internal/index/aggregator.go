package index

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mkarlsen/chess-openings-live/internal/obslog"
	"github.com/mkarlsen/chess-openings-live/internal/opening"
)

// Filter narrows a Query. All set fields are combined with logical AND.
type Filter struct {
	ECOPrefix     string
	NameSubstring string
	MinRating     int
	TimeControl   string
}

// Entry is one row of the live index: an opening and the active games in it.
type Entry struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Aliases     []string  `json:"aliases,omitempty"`
	Count       int       `json:"count"`
	GameIDs     []string  `json:"game_ids"`
	LastChanged time.Time `json:"last_changed"`
}

// GameTruth is the registry's view of one classified game, used to rebuild
// the index when an invariant breach is detected.
type GameTruth struct {
	ID             string
	Classification opening.Classification
	Rating         int
	TimeControl    string
}

type gameMeta struct {
	rating      int
	timeControl string
}

type entryState struct {
	code        string
	name        string
	aliases     []string
	games       map[string]struct{}
	lastChanged time.Time
}

// Aggregator maintains opening → active game id sets. Set mutation for one
// classification change happens under a single lock acquisition, so no reader
// observes a classified game in zero or two entries.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[string]*entryState // code → state
	byGame  map[string]string      // game id → code
	meta    map[string]gameMeta

	truth  func() []GameTruth
	strict bool

	rebuilds int64
}

// New seeds one zero-count entry per distinct label code. The first label
// seen for a code names the entry.
func New(labels []opening.Label) *Aggregator {
	a := &Aggregator{
		entries: make(map[string]*entryState, len(labels)),
		byGame:  make(map[string]string),
		meta:    make(map[string]gameMeta),
	}
	for _, lbl := range labels {
		if _, ok := a.entries[lbl.Code]; ok {
			continue
		}
		a.entries[lbl.Code] = &entryState{
			code:    lbl.Code,
			name:    lbl.Name,
			aliases: append([]string(nil), lbl.Aliases...),
			games:   make(map[string]struct{}),
		}
	}
	return a
}

// SetTruth wires the registry snapshot used to recompute entries after an
// invariant breach.
func (a *Aggregator) SetTruth(truth func() []GameTruth) { a.truth = truth }

// SetStrict makes invariant breaches panic instead of self-healing. Tests
// run strict; production recomputes from registry truth.
func (a *Aggregator) SetStrict(strict bool) { a.strict = strict }

// OnClassify applies a classification delta for one game: the id leaves the
// old entry's set and joins the new one atomically. A zero new classification
// removes the game from the index entirely (unclassified, finished, evicted).
func (a *Aggregator) OnClassify(gameID string, old, cls opening.Classification, rating int, timeControl string) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if old.Classified() {
		if err := a.removeLocked(gameID, old.Code, now); err != "" {
			a.breachLocked(gameID, err)
			return
		}
	} else if held, ok := a.byGame[gameID]; ok {
		a.breachLocked(gameID, "game indexed under "+held+" but reported unclassified")
		return
	}

	if !cls.Classified() {
		delete(a.meta, gameID)
		return
	}

	a.meta[gameID] = gameMeta{rating: rating, timeControl: timeControl}
	st, ok := a.entries[cls.Code]
	if !ok {
		// Labels are seeded from the tree, but tolerate late additions.
		st = &entryState{code: cls.Code, name: cls.Name, games: make(map[string]struct{})}
		a.entries[cls.Code] = st
	}
	st.games[gameID] = struct{}{}
	st.lastChanged = now
	a.byGame[gameID] = cls.Code
}

// OnMeta refreshes rating/time-control for an already indexed game.
func (a *Aggregator) OnMeta(gameID string, rating int, timeControl string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byGame[gameID]; !ok {
		return
	}
	a.meta[gameID] = gameMeta{rating: rating, timeControl: timeControl}
}

// removeLocked detaches gameID from the entry holding it. Returns a breach
// description when the index disagrees with the caller.
func (a *Aggregator) removeLocked(gameID, code string, now time.Time) string {
	held, ok := a.byGame[gameID]
	if !ok {
		return "classified game missing from index"
	}
	if held != code {
		return "game indexed under " + held + ", expected " + code
	}
	st := a.entries[held]
	if st == nil {
		return "index entry " + held + " missing"
	}
	delete(st.games, gameID)
	delete(a.byGame, gameID)
	st.lastChanged = now
	return ""
}

func (a *Aggregator) breachLocked(gameID, reason string) {
	if a.strict {
		panic("index invariant breach: game " + gameID + ": " + reason)
	}
	obslog.L().Error("index_invariant_breach",
		zap.String("game_id", gameID),
		zap.String("reason", reason),
	)
	a.rebuildLocked()
}

// rebuildLocked recomputes every set from registry truth.
func (a *Aggregator) rebuildLocked() {
	if a.truth == nil {
		return
	}
	a.rebuilds++
	for _, st := range a.entries {
		st.games = make(map[string]struct{})
	}
	a.byGame = make(map[string]string)
	a.meta = make(map[string]gameMeta)
	now := time.Now()
	for _, g := range a.truth() {
		if !g.Classification.Classified() {
			continue
		}
		st, ok := a.entries[g.Classification.Code]
		if !ok {
			st = &entryState{code: g.Classification.Code, name: g.Classification.Name, games: make(map[string]struct{})}
			a.entries[g.Classification.Code] = st
		}
		st.games[g.ID] = struct{}{}
		st.lastChanged = now
		a.byGame[g.ID] = g.Classification.Code
		a.meta[g.ID] = gameMeta{rating: g.Rating, timeControl: g.TimeControl}
	}
	obslog.L().Warn("index_rebuilt", zap.Int64("rebuilds", a.rebuilds))
}

// Query returns the entries with at least one matching game, sorted by count
// descending, then name ascending, then code ascending.
func (a *Aggregator) Query(f Filter) []Entry {
	a.mu.RLock()
	out := make([]Entry, 0, len(a.entries))
	for _, st := range a.entries {
		if f.ECOPrefix != "" && !strings.HasPrefix(st.code, f.ECOPrefix) {
			continue
		}
		if f.NameSubstring != "" && !nameMatches(st, f.NameSubstring) {
			continue
		}
		ids := a.matchingGamesLocked(st, f)
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		out = append(out, Entry{
			Code:        st.code,
			Name:        st.name,
			Aliases:     append([]string(nil), st.aliases...),
			Count:       len(ids),
			GameIDs:     ids,
			LastChanged: st.lastChanged,
		})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (a *Aggregator) matchingGamesLocked(st *entryState, f Filter) []string {
	ids := make([]string, 0, len(st.games))
	for id := range st.games {
		if f.MinRating > 0 || f.TimeControl != "" {
			m := a.meta[id]
			if f.MinRating > 0 && m.rating < f.MinRating {
				continue
			}
			if f.TimeControl != "" && !strings.EqualFold(m.timeControl, f.TimeControl) {
				continue
			}
		}
		ids = append(ids, id)
	}
	return ids
}

func nameMatches(st *entryState, needle string) bool {
	n := strings.ToLower(needle)
	if strings.Contains(strings.ToLower(st.name), n) {
		return true
	}
	for _, alias := range st.aliases {
		if strings.Contains(strings.ToLower(alias), n) {
			return true
		}
	}
	return false
}

// Games returns the ids currently indexed under code, sorted.
func (a *Aggregator) Games(code string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.entries[code]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(st.games))
	for id := range st.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClassifiedCount returns the number of games currently indexed.
func (a *Aggregator) ClassifiedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byGame)
}

// Rebuilds reports how many invariant-breach recoveries have run.
func (a *Aggregator) Rebuilds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rebuilds
}
