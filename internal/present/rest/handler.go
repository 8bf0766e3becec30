package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/access"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/present/rest/presenter"
	"github.com/openindexlabs/ledgerdex/internal/usecase"
)

// SyncStatus is the scheduler-facing slice the health surface reads.
type SyncStatus interface {
	State() domain.SyncState
	LastSync() time.Time
	LastError() error
	Progress(ctx context.Context) float64
	Watermark(ctx context.Context) (uint64, error)
}

// Realtimer is the signal-service slice the websocket surface consumes. It
// must return when ctx is cancelled.
type Realtimer interface {
	Realtime(ctx context.Context, filters <-chan []string, output chan<- ledgerdex.Event)
}

type Handler struct {
	query     *usecase.QueryEngine
	templates *usecase.TemplateRegistry
	sync      SyncStatus
	signal    Realtimer
}

func NewHandler(
	query *usecase.QueryEngine,
	templates *usecase.TemplateRegistry,
	sync SyncStatus,
	signal Realtimer,
) *Handler {
	return &Handler{
		query:     query,
		templates: templates,
		sync:      sync,
		signal:    signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/api/records", h.handleQuery)
	e.GET("/api/records/:did", h.handleGetRecord)
	e.GET("/api/records/:did/nutrition", h.handleNutrition)
	e.GET("/api/tags", h.handleTagSummary)
	e.GET("/api/templates/:txid", h.handleGetTemplate)
	e.DELETE("/api/templates/:txid", h.handleDeleteTemplate)
	e.GET("/realtime", h.handleRealtime)
}

func requesterIdentity(c echo.Context) access.Identity {
	key, _ := c.Request().Context().Value(domain.RequesterKeyCtxKey).(string)
	return access.Identity{PublicKey: key}
}

func (h *Handler) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	status := "ok"
	var lastErr string
	if err := h.sync.LastError(); err != nil {
		status = "degraded"
		lastErr = err.Error()
	}

	// the watermark reads every collection, so it doubles as a store ping
	watermark, err := h.sync.Watermark(ctx)
	if err != nil {
		status = "degraded"
		lastErr = err.Error()
	}

	return presenter.OK(c, echo.Map{
		"status":    status,
		"syncState": h.sync.State().String(),
		"lastSync":  h.sync.LastSync(),
		"lastError": lastErr,
		"watermark": watermark,
		"progress":  usecase.NormalizeProgress(h.sync.Progress(ctx)),
	})
}

func (h *Handler) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()

	opts, err := parseQueryOptions(c)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	result, err := h.query.Query(ctx, opts, requesterIdentity(c))
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleGetRecord(c echo.Context) error {
	ctx := c.Request().Context()
	did := c.Param("did")

	depth := intParam(c, "resolveDepth", 0)
	namesOnly := boolParam(c, "namesOnly")

	body, err := h.query.Get(ctx, did, requesterIdentity(c), depth, namesOnly)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "record not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, body)
}

func (h *Handler) handleNutrition(c echo.Context) error {
	ctx := c.Request().Context()
	did := c.Param("did")

	if _, err := h.query.Get(ctx, did, requesterIdentity(c), 0, false); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "record not found")
		}
		return presenter.InternalError(c, err)
	}

	rec, ok := h.query.LookupRecord(ctx, did)
	if !ok {
		return presenter.NotFound(c, "record not found")
	}

	totals, ok := h.query.NutritionSummary(rec)
	if !ok {
		return presenter.NotFound(c, "nutrition summary not available")
	}
	return presenter.OK(c, echo.Map{"did": did, "nutrition": totals})
}

func (h *Handler) handleTagSummary(c echo.Context) error {
	ctx := c.Request().Context()

	opts, err := parseQueryOptions(c)
	if err != nil {
		return presenter.BadRequest(c, err)
	}
	opts.TagSummaryMode = true

	result, err := h.query.Query(ctx, opts, requesterIdentity(c))
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleGetTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	tpl := h.templates.Get(ctx, c.Param("txid"))
	if tpl == nil {
		return presenter.NotFound(c, "template not found")
	}
	return presenter.OK(c, tpl)
}

func (h *Handler) handleDeleteTemplate(c echo.Context) error {
	ctx := c.Request().Context()

	issuer := c.Request().Header.Get("ldx-issuer-address")
	if issuer == "" {
		return presenter.BadRequestMessage(c, "issuer address is required")
	}

	err := h.templates.Delete(ctx, c.Param("txid"), issuer)
	switch {
	case err == nil:
		return presenter.OK(c, echo.Map{"status": "ok"})
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, "template not found")
	case errors.Is(err, domain.ErrUnauthorized):
		return presenter.Forbidden(c, "issuer is not the template creator")
	case errors.Is(err, domain.ErrTemplateInUse):
		return presenter.Conflict(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

func parseQueryOptions(c echo.Context) (usecase.QueryOptions, error) {
	opts := usecase.QueryOptions{
		CreatorHandle: c.QueryParam("creator"),
		CreatorDID:    c.QueryParam("creatorDid"),
		RecordType:    c.QueryParam("type"),
		Source:        c.QueryParam("source"),

		Tags:    listParam(c, "tags"),
		TagMode: usecase.ParseMatchMode(c.QueryParam("tagMode")),

		Search:     c.QueryParam("search"),
		SearchMode: usecase.ParseMatchMode(c.QueryParam("searchMode")),

		Ingredients:     listParam(c, "ingredients"),
		IngredientDIDs:  listParam(c, "ingredientDids"),
		Equipment:       listParam(c, "equipment"),
		ExerciseTypes:   listParam(c, "exerciseTypes"),
		Cuisines:        listParam(c, "cuisines"),
		SupportedModels: listParam(c, "models"),
		MatcherMode:     usecase.ParseMatchMode(c.QueryParam("matcherMode")),

		CollapseDuplicates: boolParam(c, "collapse"),

		SortBy:   c.QueryParam("sortBy"),
		SortDesc: strings.EqualFold(c.QueryParam("order"), "desc"),

		Page:     intParam(c, "page", 1),
		PageSize: intParam(c, "limit", 20),

		ResolveDepth:     intParam(c, "resolveDepth", 0),
		ResolveNamesOnly: boolParam(c, "namesOnly"),
		ForceRefresh:     boolParam(c, "refresh"),
	}

	if opts.PageSize > 100 {
		opts.PageSize = 100
	}

	// exact=path:value, repeatable
	for _, pair := range c.QueryParams()["exact"] {
		path, value, ok := strings.Cut(pair, ":")
		if !ok || path == "" {
			slog.Warn("malformed exact filter, ignoring", "value", pair)
			continue
		}
		opts.Exact = append(opts.Exact, usecase.ExactFilter{Path: path, Value: value})
	}

	if field := c.QueryParam("fuzzyField"); field != "" {
		opts.Fuzzy = append(opts.Fuzzy, usecase.FuzzyFilter{
			Field: field,
			Value: c.QueryParam("fuzzyValue"),
		})
	}

	if sinceStr := c.QueryParam("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return opts, errors.New("invalid since parameter")
		}
		opts.DateFrom = parsed
	}
	if untilStr := c.QueryParam("until"); untilStr != "" {
		parsed, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return opts, errors.New("invalid until parameter")
		}
		opts.DateTo = parsed
	}

	return opts, nil
}

func listParam(c echo.Context, name string) []string {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("malformed integer parameter, using default", "param", name, "value", raw)
		return fallback
	}
	return n
}

func boolParam(c echo.Context, name string) bool {
	raw := c.QueryParam(name)
	return raw == "true" || raw == "1"
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type        string   `json:"type"`
	RecordTypes []string `json:"recordTypes"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan ledgerdex.Event)

	go h.signal.Realtime(ctx, input, output)

	// buffered so the reader can signal even after the write loop returned
	quit := make(chan struct{}, 1)

	go func() {
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				quit <- struct{}{}
				break
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.RecordTypes:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, "Socket subscribe",
					slog.Any("recordTypes", req.RecordTypes),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
