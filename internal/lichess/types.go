package lichess

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
)

// Channel is one Lichess TV channel and the game it currently shows.
type Channel struct {
	Name   string
	GameID string
}

type channelPayload struct {
	Name   string `json:"name"`
	GameID string `json:"gameId"`
	Game   struct {
		ID string `json:"id"`
	} `json:"game"`
}

func (p channelPayload) gameID() string {
	if p.GameID != "" {
		return p.GameID
	}
	return p.Game.ID
}

// decodeChannels accepts both shapes the TV endpoint has served: a name→payload
// object and a plain list.
func decodeChannels(body []byte) ([]Channel, error) {
	var outer struct {
		Channels json.RawMessage `json:"channels"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, err
	}
	if len(outer.Channels) == 0 {
		return nil, nil
	}

	var asMap map[string]channelPayload
	if err := json.Unmarshal(outer.Channels, &asMap); err == nil {
		out := make([]Channel, 0, len(asMap))
		for name, p := range asMap {
			if p.Name != "" {
				name = p.Name
			}
			out = append(out, Channel{Name: name, GameID: p.gameID()})
		}
		return out, nil
	}

	var asList []channelPayload
	if err := json.Unmarshal(outer.Channels, &asList); err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(asList))
	for _, p := range asList {
		out = append(out, Channel{Name: p.Name, GameID: p.gameID()})
	}
	return out, nil
}

// Broadcast is one tournament broadcast with its rounds.
type Broadcast struct {
	Tour struct {
		DefaultRoundID string `json:"defaultRoundId"`
	} `json:"tour"`
	Rounds []struct {
		ID       string `json:"id"`
		Finished bool   `json:"finished"`
		StartsAt int64  `json:"startsAt"` // epoch millis
	} `json:"rounds"`
}

// activeRoundIDs collects default and already-started unfinished round ids,
// deduplicated in encounter order.
func activeRoundIDs(broadcasts []Broadcast, now time.Time) []string {
	nowMS := now.UnixMilli()
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, b := range broadcasts {
		add(b.Tour.DefaultRoundID)
		for _, r := range b.Rounds {
			if r.Finished {
				continue
			}
			if r.StartsAt > 0 && r.StartsAt > nowMS {
				continue
			}
			add(r.ID)
		}
	}
	return out
}

type roundGame struct {
	ID        string `json:"id"`
	GameID    string `json:"gameId"`
	LichessID string `json:"lichessId"`
	URL       string `json:"url"`
	Game      struct {
		ID string `json:"id"`
	} `json:"game"`
}

func (g roundGame) gameID() string {
	switch {
	case g.ID != "":
		return g.ID
	case g.GameID != "":
		return g.GameID
	case g.LichessID != "":
		return g.LichessID
	case g.Game.ID != "":
		return g.Game.ID
	}
	return gameIDFromURL(g.URL)
}

func gameIDFromURL(url string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(url), "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// decodeRoundGameIDs pulls game ids out of a broadcast round payload, which
// may carry them under "games" or "pairings", as a list or an object.
func decodeRoundGameIDs(body []byte) ([]string, error) {
	var outer struct {
		Games    json.RawMessage `json:"games"`
		Pairings json.RawMessage `json:"pairings"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, err
	}
	raw := outer.Games
	if len(raw) == 0 {
		raw = outer.Pairings
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var list []roundGame
	if err := json.Unmarshal(raw, &list); err != nil {
		var asMap map[string]roundGame
		if err := json.Unmarshal(raw, &asMap); err != nil {
			return nil, err
		}
		for _, g := range asMap {
			list = append(list, g)
		}
	}
	var out []string
	for _, g := range list {
		if id := g.gameID(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

type exportPlayer struct {
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating  int `json:"rating"`
	AILevel int `json:"aiLevel"`
}

func (p exportPlayer) player() domain.Player {
	name := p.User.Name
	if name == "" && p.AILevel > 0 {
		name = "Stockfish"
	}
	return domain.Player{Name: name, Rating: p.Rating}
}

// GameExport is the game export payload, reduced to the fields the core needs.
type GameExport struct {
	ID      string `json:"id"`
	Moves   string `json:"moves"`
	Status  string `json:"status"`
	Speed   string `json:"speed"`
	Players struct {
		White exportPlayer `json:"white"`
		Black exportPlayer `json:"black"`
	} `json:"players"`
	LastMoveAt int64 `json:"lastMoveAt"` // epoch millis
}

// statusToDomain maps Lichess game statuses onto the core lifecycle.
func statusToDomain(s string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "created", "started":
		return domain.StatusLive
	case "aborted", "nostart":
		return domain.StatusAborted
	default:
		// mate, resign, stalemate, draw, outoftime, timeout, cheat, ...
		return domain.StatusFinished
	}
}

// Update converts an export into the uniform ingestion payload.
func (e *GameExport) Update(source string) domain.GameUpdate {
	u := domain.GameUpdate{
		ID:          e.ID,
		Source:      source,
		White:       e.Players.White.player(),
		Black:       e.Players.Black.player(),
		TimeControl: e.Speed,
		Moves:       e.Moves,
		Status:      statusToDomain(e.Status),
	}
	if e.LastMoveAt > 0 {
		u.Timestamp = time.UnixMilli(e.LastMoveAt)
	}
	return u
}
