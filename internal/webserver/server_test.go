package webserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
	"github.com/mkarlsen/chess-openings-live/internal/index"
	"github.com/mkarlsen/chess-openings-live/internal/opening"
	"github.com/mkarlsen/chess-openings-live/internal/registry"
	"github.com/mkarlsen/chess-openings-live/internal/view"
	"github.com/mkarlsen/chess-openings-live/pkg/openingsdto"
)

func newTestApp(t *testing.T) (*fiber.App, *registry.Registry) {
	t.Helper()
	tree, err := opening.Build([]opening.Definition{
		{Moves: "e4", Code: "B00", Name: "King's Pawn"},
		{Moves: "e4 e5", Code: "C20", Name: "King's Pawn Game"},
		{Moves: "e4 c5", Code: "B20", Name: "Sicilian Defense"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	agg := index.New(tree.Labels())
	agg.SetStrict(true)
	reg := registry.New(tree, agg, registry.Options{})
	agg.SetTruth(reg.Truth)
	svc := view.New(reg, agg)
	return NewApp(svc, reg), reg
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(payload, out); err != nil {
			t.Fatalf("decode %s %s: %v (body=%s)", method, path, err, payload)
		}
	}
	return resp.StatusCode
}

func TestIngestAndOpenings(t *testing.T) {
	app, _ := newTestApp(t)

	var ingest openingsdto.IngestResponse
	status := doJSON(t, app, http.MethodPost, "/api/ingest",
		`{"id":"g1","moves":"e4 c5","status":"live","white":{"name":"Alice","rating":2700},"black":{"name":"Bob","rating":2690},"time_control":"blitz"}`,
		&ingest)
	if status != http.StatusOK {
		t.Fatalf("ingest status = %d", status)
	}
	if !ingest.Accepted || ingest.ECO != "B20" {
		t.Fatalf("ingest response: %+v", ingest)
	}

	var resp openingsdto.OpeningsResponse
	if status := doJSON(t, app, http.MethodGet, "/api/openings", "", &resp); status != http.StatusOK {
		t.Fatalf("openings status = %d", status)
	}
	if resp.Total != 1 || len(resp.Openings) != 1 {
		t.Fatalf("openings: %+v", resp)
	}
	if resp.Openings[0].ECO != "B20" || resp.Openings[0].Count != 1 {
		t.Fatalf("entry: %+v", resp.Openings[0])
	}
}

func TestOpeningsFilters(t *testing.T) {
	app, reg := newTestApp(t)
	if err := reg.Upsert(domain.GameUpdate{ID: "g1", Moves: "e4 c5", Status: domain.StatusLive,
		White: domain.Player{Name: "a", Rating: 2750}, TimeControl: "blitz"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := reg.Upsert(domain.GameUpdate{ID: "g2", Moves: "e4 e5", Status: domain.StatusLive,
		White: domain.Player{Name: "b", Rating: 1500}, TimeControl: "rapid"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cases := []struct {
		query   string
		wantECO string
	}{
		{"eco=B", "B20"},
		{"name=sicilian", "B20"},
		{"minRating=2000", "B20"},
		{"timeControl=rapid", "C20"},
	}
	for _, tc := range cases {
		var resp openingsdto.OpeningsResponse
		if status := doJSON(t, app, http.MethodGet, "/api/openings?"+tc.query, "", &resp); status != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.query, status)
		}
		if len(resp.Openings) != 1 || resp.Openings[0].ECO != tc.wantECO {
			t.Errorf("%s: got %+v, want single %s", tc.query, resp.Openings, tc.wantECO)
		}
	}

	if status := doJSON(t, app, http.MethodGet, "/api/openings?minRating=banana", "", nil); status != http.StatusBadRequest {
		t.Errorf("bad minRating: status = %d, want 400", status)
	}
}

func TestOpeningGames(t *testing.T) {
	app, reg := newTestApp(t)
	if err := reg.Upsert(domain.GameUpdate{ID: "g1", Moves: "e4 c5", Status: domain.StatusLive}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var resp openingsdto.GamesResponse
	if status := doJSON(t, app, http.MethodGet, "/api/openings/B20/games", "", &resp); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(resp.Games) != 1 || resp.Games[0].ID != "g1" {
		t.Fatalf("games: %+v", resp.Games)
	}
	if resp.Games[0].Opening != "Sicilian Defense" || len(resp.Games[0].Moves) != 2 {
		t.Fatalf("game info: %+v", resp.Games[0])
	}

	if status := doJSON(t, app, http.MethodGet, "/api/openings/notacode/games", "", nil); status != http.StatusBadRequest {
		t.Errorf("invalid code: status = %d, want 400", status)
	}
}

func TestIngestValidationAndConflicts(t *testing.T) {
	app, _ := newTestApp(t)

	if status := doJSON(t, app, http.MethodPost, "/api/ingest", `{"moves":"e4"}`, nil); status != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", status)
	}
	if status := doJSON(t, app, http.MethodPost, "/api/ingest", `{"id":"g1","status":"exploded"}`, nil); status != http.StatusBadRequest {
		t.Errorf("bad status value: status = %d, want 400", status)
	}

	if status := doJSON(t, app, http.MethodPost, "/api/ingest",
		`{"id":"g1","moves":"e4 c5","status":"finished"}`, nil); status != http.StatusOK {
		t.Fatalf("finish: status = %d", status)
	}
	if status := doJSON(t, app, http.MethodPost, "/api/ingest",
		`{"id":"g1","moves":"e4 c5 Nf3","status":"live"}`, nil); status != http.StatusConflict {
		t.Errorf("update after finish: status = %d, want 409", status)
	}
}

func TestIngestUnclassifiable(t *testing.T) {
	app, _ := newTestApp(t)
	var ingest openingsdto.IngestResponse
	status := doJSON(t, app, http.MethodPost, "/api/ingest",
		`{"id":"g1","moves":"e4 xyzzy","status":"live"}`, &ingest)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !ingest.Accepted || !ingest.Unclassifiable {
		t.Fatalf("response: %+v", ingest)
	}
}

func TestStatsEndpoint(t *testing.T) {
	app, reg := newTestApp(t)
	if err := reg.Upsert(domain.GameUpdate{ID: "g1", Moves: "e4", Status: domain.StatusLive}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	var stats openingsdto.StatsResponse
	if status := doJSON(t, app, http.MethodGet, "/api/stats", "", &stats); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if stats.LiveGames != 1 || stats.ClassifiedGames != 1 || stats.Updates != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestIndexPageServed(t *testing.T) {
	app, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Live Chess Openings") {
		t.Error("page body missing title")
	}
}
