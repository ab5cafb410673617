package lichess

import (
	"testing"
	"time"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
)

func TestDecodeChannelsObjectForm(t *testing.T) {
	body := []byte(`{"channels":{
		"blitz":{"gameId":"abc12345"},
		"rapid":{"game":{"id":"def67890"}},
		"bullet":{"name":"Bullet","gameId":"ghi13579"}
	}}`)
	channels, err := decodeChannels(body)
	if err != nil {
		t.Fatalf("decodeChannels: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("got %d channels, want 3", len(channels))
	}
	ids := make(map[string]string)
	for _, ch := range channels {
		ids[ch.GameID] = ch.Name
	}
	if _, ok := ids["abc12345"]; !ok {
		t.Errorf("missing gameId form entry: %v", ids)
	}
	if _, ok := ids["def67890"]; !ok {
		t.Errorf("missing nested game.id form entry: %v", ids)
	}
	if name := ids["ghi13579"]; name != "Bullet" {
		t.Errorf("payload name should win over key, got %q", name)
	}
}

func TestDecodeChannelsListForm(t *testing.T) {
	body := []byte(`{"channels":[{"name":"Blitz","gameId":"abc12345"},{"name":"Rapid","game":{"id":"def67890"}}]}`)
	channels, err := decodeChannels(body)
	if err != nil {
		t.Fatalf("decodeChannels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
	if channels[0].Name != "Blitz" || channels[0].GameID != "abc12345" {
		t.Errorf("unexpected first channel: %+v", channels[0])
	}
}

func TestDecodeRoundGameIDs(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "games list with mixed id fields",
			body: `{"games":[{"id":"a1"},{"gameId":"b2"},{"lichessId":"c3"},{"url":"https://lichess.org/d4"}]}`,
			want: []string{"a1", "b2", "c3", "d4"},
		},
		{
			name: "pairings fallback",
			body: `{"pairings":[{"id":"p1"},{"id":"p2"}]}`,
			want: []string{"p1", "p2"},
		},
		{
			name: "empty payload",
			body: `{}`,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeRoundGameIDs([]byte(tc.body))
			if err != nil {
				t.Fatalf("decodeRoundGameIDs: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("id[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestActiveRoundIDs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var b Broadcast
	b.Tour.DefaultRoundID = "round-default"
	b.Rounds = []struct {
		ID       string `json:"id"`
		Finished bool   `json:"finished"`
		StartsAt int64  `json:"startsAt"`
	}{
		{ID: "round-default", StartsAt: now.Add(-time.Hour).UnixMilli()},
		{ID: "round-done", Finished: true},
		{ID: "round-future", StartsAt: now.Add(time.Hour).UnixMilli()},
		{ID: "round-live", StartsAt: now.Add(-time.Minute).UnixMilli()},
	}
	ids := activeRoundIDs([]Broadcast{b}, now)
	want := []string{"round-default", "round-live"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestStatusToDomain(t *testing.T) {
	cases := map[string]domain.Status{
		"created":   domain.StatusLive,
		"started":   domain.StatusLive,
		"":          domain.StatusLive,
		"aborted":   domain.StatusAborted,
		"noStart":   domain.StatusAborted,
		"mate":      domain.StatusFinished,
		"resign":    domain.StatusFinished,
		"outoftime": domain.StatusFinished,
		"draw":      domain.StatusFinished,
	}
	for in, want := range cases {
		if got := statusToDomain(in); got != want {
			t.Errorf("statusToDomain(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGameExportUpdate(t *testing.T) {
	export := &GameExport{
		ID:         "abcd1234",
		Moves:      "e4 c5 Nf3",
		Status:     "started",
		Speed:      "blitz",
		LastMoveAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
	export.Players.White.User.Name = "Alice"
	export.Players.White.Rating = 2650
	export.Players.Black.AILevel = 8
	export.Players.Black.Rating = 3000

	u := export.Update("tv")
	if u.ID != "abcd1234" || u.Source != "tv" {
		t.Fatalf("unexpected identity: %+v", u)
	}
	if u.Status != domain.StatusLive {
		t.Errorf("status = %v, want live", u.Status)
	}
	if u.White.Name != "Alice" || u.White.Rating != 2650 {
		t.Errorf("white = %+v", u.White)
	}
	if u.Black.Name != "Stockfish" {
		t.Errorf("ai opponent should get an engine name, got %q", u.Black.Name)
	}
	if u.TimeControl != "blitz" {
		t.Errorf("timeControl = %q", u.TimeControl)
	}
	if u.Timestamp.IsZero() {
		t.Error("timestamp should come from lastMoveAt")
	}
	if err := u.Validate(); err != nil {
		t.Errorf("update should validate: %v", err)
	}
}
