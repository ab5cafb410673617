package webserver

import (
	"embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/mkarlsen/chess-openings-live/internal/domain"
	"github.com/mkarlsen/chess-openings-live/internal/index"
	"github.com/mkarlsen/chess-openings-live/internal/obslog"
	"github.com/mkarlsen/chess-openings-live/internal/registry"
	"github.com/mkarlsen/chess-openings-live/internal/view"
	"github.com/mkarlsen/chess-openings-live/pkg/openingsdto"
)

//go:embed web
var webFS embed.FS

// Handler routes API requests to the read façade and the registry.
type Handler struct {
	svc *view.Service
	reg *registry.Registry
}

func NewHandler(svc *view.Service, reg *registry.Registry) *Handler {
	return &Handler{svc: svc, reg: reg}
}

func NewApp(svc *view.Service, reg *registry.Registry) *fiber.App {
	h := NewHandler(svc, reg)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", h.Health)
	app.Get("/", h.Index)

	api := app.Group("/api")
	api.Get("/openings", h.Openings)
	api.Get("/openings/:code/games", h.OpeningGames)
	api.Get("/stats", h.Stats)
	api.Post("/ingest", h.Ingest)

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(openingsdto.ErrorResponse{Error: message})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Index serves the live openings page.
func (h *Handler) Index(c *fiber.Ctx) error {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "page unavailable")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(page)
}

// Openings answers the filtered index query. All filters are optional and
// combine with AND.
func (h *Handler) Openings(c *fiber.Ctx) error {
	filter := index.Filter{
		ECOPrefix:     strings.ToUpper(strings.TrimSpace(c.Query("eco"))),
		NameSubstring: strings.TrimSpace(c.Query("name")),
		TimeControl:   strings.TrimSpace(c.Query("timeControl")),
	}
	if raw := c.Query("minRating"); raw != "" {
		minRating, err := strconv.Atoi(raw)
		if err != nil || minRating < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "minRating must be a non-negative integer")
		}
		filter.MinRating = minRating
	}

	entries := h.svc.Query(filter)
	resp := openingsdto.OpeningsResponse{
		Openings:  make([]openingsdto.OpeningEntry, 0, len(entries)),
		Generated: time.Now().UTC(),
	}
	for _, e := range entries {
		resp.Openings = append(resp.Openings, openingsdto.OpeningEntry{
			ECO:         e.Code,
			Name:        e.Name,
			Aliases:     e.Aliases,
			Count:       e.Count,
			GameIDs:     e.GameIDs,
			LastChanged: e.LastChanged,
		})
		resp.Total += e.Count
	}
	return c.JSON(resp)
}

// OpeningGames lists the live games currently classified under one ECO code.
func (h *Handler) OpeningGames(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))
	if !validECO(code) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid eco code")
	}
	games := h.svc.GamesForOpening(code)
	resp := openingsdto.GamesResponse{
		ECO:   code,
		Games: make([]openingsdto.GameInfo, 0, len(games)),
	}
	for _, g := range games {
		resp.Games = append(resp.Games, gameInfo(g))
	}
	return c.JSON(resp)
}

func (h *Handler) Stats(c *fiber.Ctx) error {
	s := h.svc.Stats()
	return c.JSON(openingsdto.StatsResponse{
		LiveGames:       s.Live,
		ClassifiedGames: s.Classified,
		Unclassifiable:  s.Unclassifiable,
		Updates:         s.UpdatesApplied,
		Resyncs:         s.Resyncs,
		ParseFailures:   s.ParseFailures,
		Evictions:       s.Evictions,
		Finished:        s.Finished,
		IndexRebuilds:   s.IndexRebuilds,
		UptimeSeconds:   s.UptimeSeconds,
	})
}

// Ingest accepts a pushed game update, for providers that notify instead of
// being polled.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	var u domain.GameUpdate
	if err := c.BodyParser(&u); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed update payload")
	}
	if err := u.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid update: "+err.Error())
	}

	err := h.reg.Upsert(u)
	resp := openingsdto.IngestResponse{ID: u.ID}
	switch {
	case err == nil:
		resp.Accepted = true
	case errors.Is(err, registry.ErrUnclassifiable):
		resp.Accepted = true
		resp.Unclassifiable = true
	case errors.Is(err, registry.ErrGameFinished):
		return fiber.NewError(fiber.StatusConflict, "game already finished")
	case errors.Is(err, registry.ErrBadTransition):
		return fiber.NewError(fiber.StatusConflict, "invalid status transition")
	case errors.Is(err, registry.ErrInvalidUpdate):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		obslog.L().Error("ingest_failed", zap.String("game_id", u.ID), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "ingest failed")
	}

	if g, ok := h.reg.Get(u.ID); ok && g.Classification.Classified() {
		resp.ECO = g.Classification.Code
		resp.Opening = g.Classification.Name
	}
	return c.JSON(resp)
}

func gameInfo(g domain.Game) openingsdto.GameInfo {
	moves := make([]string, 0, len(g.Moves))
	for _, m := range g.Moves {
		moves = append(moves, m.SAN)
	}
	info := openingsdto.GameInfo{
		ID:          g.ID,
		Source:      g.Source,
		White:       openingsdto.PlayerInfo{Name: g.White.Name, Rating: g.White.Rating},
		Black:       openingsdto.PlayerInfo{Name: g.Black.Name, Rating: g.Black.Rating},
		TimeControl: g.TimeControl,
		Moves:       moves,
		Status:      string(g.Status),
		LastUpdate:  g.LastUpdate,
	}
	if g.Classification.Classified() {
		info.ECO = g.Classification.Code
		info.Opening = g.Classification.Name
		info.MatchedPly = g.Classification.MatchedPly
	}
	return info
}

// validECO checks the letter-plus-two-digits ECO shape, e.g. B20.
func validECO(code string) bool {
	if len(code) != 3 {
		return false
	}
	if code[0] < 'A' || code[0] > 'E' {
		return false
	}
	return code[1] >= '0' && code[1] <= '9' && code[2] >= '0' && code[2] <= '9'
}
