package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/jutsu-dl/internal/catalog"
	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/internal/selection"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// App represents the main application structure that holds the Jutsu service.
type App struct {
	JutsuService JutsuService
}

// NewApp creates a new instance of the App struct.
func NewApp(jutsuService JutsuService) (*App, error) {
	return &App{
		JutsuService: jutsuService,
	}, nil
}

// Routes mounts every handler on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/shows", a.ShowsHandler)
	r.Get("/shows/{index}", a.ShowHandler)
	r.Post("/catalog/refresh", a.RefreshHandler)
	r.Get("/settings", a.SettingsHandler)
	r.Post("/settings/{option}/toggle", a.ToggleOptionHandler)
	r.Get("/downloads/modes", a.ModesHandler)
	r.Post("/downloads", a.StartDownloadHandler)
	r.Get("/downloads/{id}", a.DownloadHandler)
	r.HandleFunc("/connection/websocket", a.WebsocketHandler)
}

// CatalogSummary is the response of a catalog refresh.
type CatalogSummary struct {
	Pages int `json:"pages"`
	Shows int `json:"shows"`
}

// SettingItem is an option with its display label and state.
type SettingItem struct {
	Option  string `json:"option"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// ModeItem is a selection mode with its display label.
type ModeItem struct {
	Mode  string `json:"mode"`
	Label string `json:"label"`
}

/*
ShowsHandler lists the catalog shows.

When the q query parameter is present, only the shows fuzzily matching it are
returned, closest first. Every item carries its catalog index.
*/
func (a *App) ShowsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "ShowsHandler")

	query := r.URL.Query().Get("q")
	if r.URL.Query().Has("q") {
		if err := common.ValidateSearchQuery(query); err != nil {
			common.Log.WarnContext(ctx, "Failed to common.ValidateSearchQuery", "err", err)
			span.RecordError(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	span.SetAttributes(attribute.String("query.q", query))

	writeJSON(ctx, w, http.StatusOK, a.JutsuService.Search(ctx, query))
}

// ShowHandler returns a show with its episode list.
func (a *App) ShowHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "ShowHandler")

	paramsIndex := chi.URLParam(r, "index")
	if err := common.ValidateShowIndex(paramsIndex); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateShowIndex", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	index, _ := strconv.Atoi(paramsIndex)
	span.SetAttributes(attribute.Int("param.index", index))

	show, err := a.JutsuService.GetShow(ctx, index)
	if err != nil {
		writeError(ctx, w, "Failed to JutsuService.GetShow", err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, show)
}

// RefreshHandler rebuilds the catalog from the site listing. It answers once the
// whole listing was consumed; page progress goes to the websocket channel.
func (a *App) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "RefreshHandler")

	c, err := a.JutsuService.Refresh(ctx)
	if err != nil {
		writeError(ctx, w, "Failed to JutsuService.Refresh", err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, CatalogSummary{Pages: c.Pages, Shows: len(c.Shows)})
}

// SettingsHandler lists every option with its label and state.
func (a *App) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "SettingsHandler")

	writeJSON(ctx, w, http.StatusOK, settingItems(a.JutsuService.Settings()))
}

// ModesHandler lists the episode selection modes a download request accepts.
func (a *App) ModesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "ModesHandler")

	writeJSON(ctx, w, http.StatusOK, modeItems())
}

// ToggleOptionHandler flips an option and returns every option.
func (a *App) ToggleOptionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "ToggleOptionHandler")

	option, err := settings.ParseOption(chi.URLParam(r, "option"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to settings.ParseOption", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	next, err := a.JutsuService.ToggleOption(ctx, option)
	if err != nil {
		writeError(ctx, w, "Failed to JutsuService.ToggleOption", err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, settingItems(next))
}

/*
StartDownloadHandler starts a download job.

The body is a DownloadRequest, for instance:

	{"show": 3, "selection": {"mode": "range", "from": 0, "to": 11}, "tier": "720", "workers": 4}

It answers 202 with the initial job status; the job keeps running after the
response is sent.
*/
func (a *App) StartDownloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "StartDownloadHandler")

	var req DownloadRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		common.Log.WarnContext(ctx, "Failed to decode download request", "err", err)
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Selection.Mode != selection.One {
		if err := common.ValidateWorkerCount(req.Workers); err != nil {
			common.Log.WarnContext(ctx, "Failed to common.ValidateWorkerCount", "err", err)
			span.RecordError(err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	span.SetAttributes(attribute.Int("body.show", req.ShowIndex))
	span.SetAttributes(attribute.String("body.mode", req.Selection.Mode.Code()))

	status, err := a.JutsuService.StartDownload(ctx, req)
	if err != nil {
		writeError(ctx, w, "Failed to JutsuService.StartDownload", err)
		return
	}

	writeJSON(ctx, w, http.StatusAccepted, status)
}

// DownloadHandler returns the status of a download job.
func (a *App) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "DownloadHandler")

	status, err := a.JutsuService.GetDownload(chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, "Failed to JutsuService.GetDownload", err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, status)
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.JutsuService.ServeHTTP(w, r)
}

func settingItems(s settings.Settings) []SettingItem {
	items := make([]SettingItem, 0, len(settings.Options()))
	for _, o := range settings.Options() {
		items = append(items, SettingItem{
			Option:  o.Key(),
			Label:   settings.Label(o),
			Enabled: s.Enabled(o),
		})
	}
	return items
}

func modeItems() []ModeItem {
	items := make([]ModeItem, 0, len(selection.Modes()))
	for _, m := range selection.Modes() {
		items = append(items, ModeItem{Mode: m.Code(), Label: selection.Label(m)})
	}
	return items
}

// statusCode maps err to the response status: caller mistakes are 4xx, anything
// else is a 500.
func statusCode(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, selection.ErrInvalidSelection),
		errors.Is(err, selection.ErrEmptyRange),
		errors.Is(err, jutsu.ErrUnknownQualityTier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)

	code := statusCode(err)
	if code == http.StatusInternalServerError {
		common.Log.ErrorContext(ctx, msg, "err", err)
		w.WriteHeader(code)
		return
	}

	common.Log.WarnContext(ctx, msg, "err", err)
	http.Error(w, err.Error(), code)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		trace.SpanFromContext(ctx).RecordError(fmt.Errorf("failed to json.Encoder.Encode: %w", err))
	}
}
