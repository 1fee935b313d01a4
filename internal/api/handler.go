// Package api provides the UI-state HTTP handlers: conversation views,
// history, selection, settings and the prompt pipeline.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/askbar/internal/conversation"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/pipeline"
	"github.com/ashureev/askbar/internal/selection"
	"github.com/ashureev/askbar/internal/sentinel"
	"github.com/ashureev/askbar/internal/settings"
	"github.com/ashureev/askbar/internal/supervisor"
)

// Handler serves the UI-state API.
type Handler struct {
	pipe           *pipeline.Pipeline
	conv           *conversation.Store
	sel            *selection.Controller
	settings       *settings.Service
	maxBody        int64
	originPatterns []string
	logger         *slog.Logger
}

// Deps are the components behind the API.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Conversation *conversation.Store
	Selection    *selection.Controller
	Settings     *settings.Service
}

// NewHandler creates a Handler. originPatterns are the host patterns
// accepted for cross-origin websocket connections.
func NewHandler(deps Deps, maxBody int64, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		pipe:           deps.Pipeline,
		conv:           deps.Conversation,
		sel:            deps.Selection,
		settings:       deps.Settings,
		maxBody:        maxBody,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// RegisterRoutes registers the API and the state websocket.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/views", h.ListViews)
		r.Route("/presets/{preset}", func(r chi.Router) {
			r.Get("/", h.GetView)
			r.Get("/history", h.GetHistory)
			r.Delete("/history/{index}", h.DeleteHistory)
			r.Post("/prompt", h.Prompt)
			r.Post("/selection", h.SubmitSelection)
			r.Post("/summarize", h.Summarize)
			r.Post("/cancel", h.Cancel)
		})
		r.Get("/selection", h.GetSelection)
		r.Post("/selection/dismiss", h.DismissSelection)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings/{key}", h.PutSetting)
		r.Post("/account", h.Account)
	})
	r.Get("/ws/state", h.StateWS)
}

func (h *Handler) preset(w http.ResponseWriter, r *http.Request) (domain.Preset, bool) {
	p, err := domain.ParsePreset(chi.URLParam(r, "preset"))
	if err != nil {
		ErrorFrom(w, err)
		return 0, false
	}
	return p, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := DecodeJSON(w, r, h.maxBody, v); err != nil {
		if IsBodyTooLarge(err) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// PresetInfo describes one preset for the UI.
type PresetInfo struct {
	ID    domain.Preset      `json:"id"`
	Title string             `json:"title"`
	Flags domain.PresetFlags `json:"flags"`
}

// GetConfig returns the presets, settings and session context.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Snapshot(r.Context())
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	presets := make([]PresetInfo, 0, len(domain.AllPresets()))
	for _, p := range domain.AllPresets() {
		presets = append(presets, PresetInfo{ID: p, Title: p.Title(), Flags: p.Flags()})
	}
	JSON(w, http.StatusOK, map[string]any{
		"presets":  presets,
		"settings": snap,
		"session":  h.pipe.SessionContext(),
	})
}

// ListViews returns the view of every preset.
func (h *Handler) ListViews(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.conv.Views())
}

// GetView returns the view of one preset.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.conv.View(p))
}

// GetHistory returns the persisted turns of one preset.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	hist, err := h.conv.History(r.Context(), p)
	if err != nil {
		h.logger.Error("Failed to load history", "preset", p, "error", err)
		ErrorFrom(w, err)
		return
	}
	if hist == nil {
		hist = []domain.ChatContent{}
	}
	JSON(w, http.StatusOK, hist)
}

// DeleteHistory removes one turn. Unknown indices succeed without effect.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.conv.DeleteHistoryEntry(r.Context(), p, idx); err != nil {
		h.logger.Error("Failed to delete history entry", "preset", p, "index", idx, "error", err)
		ErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromptBody is the request body of the prompt endpoint.
type PromptBody struct {
	Prompt  string `json:"prompt"`
	OneShot bool   `json:"one_shot,omitempty"`
}

// PromptResponse reports the terminal state of one prompt.
type PromptResponse struct {
	RequestID      string              `json:"request_id"`
	State          domain.SessionState `json:"state"`
	Text           string              `json:"text,omitempty"`
	Code           sentinel.Code       `json:"code,omitempty"`
	Warning        string              `json:"warning,omitempty"`
	LatencyWarning bool                `json:"latency_warning,omitempty"`
}

func promptResponse(out supervisor.Outcome) PromptResponse {
	return PromptResponse{
		RequestID:      out.Session.RequestID,
		State:          out.Session.State,
		Text:           out.Session.Text,
		Code:           out.Session.Code,
		Warning:        out.Warning,
		LatencyWarning: out.LatencyWarning,
	}
}

// Prompt dispatches a typed prompt and blocks until it is terminal. Live
// progress is observable on /ws/state.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	var body PromptBody
	if !h.decode(w, r, &body) {
		return
	}
	dispatch := h.pipe.Submit
	if body.OneShot {
		dispatch = h.pipe.Ask
	}
	out, err := dispatch(r.Context(), p, body.Prompt)
	if err != nil && out.Session.RequestID == "" {
		ErrorFrom(w, err)
		return
	}
	if err != nil {
		h.logger.Warn("Prompt finished with a history error", "preset", p, "error", err)
	}
	JSON(w, http.StatusOK, promptResponse(out))
}

// SubmitSelection dispatches the pending selection with the preset.
func (h *Handler) SubmitSelection(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	out, err := h.pipe.SubmitSelection(r.Context(), p)
	if err != nil && out.Session.RequestID == "" {
		ErrorFrom(w, err)
		return
	}
	JSON(w, http.StatusOK, promptResponse(out))
}

// Summarize crawls the pending URL selection.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	summary, err := h.pipe.Summarize(r.Context(), p)
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"result": summary})
}

// Cancel aborts the in-flight prompt of a preset.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := h.preset(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"cancelled": h.pipe.Cancel(p)})
}

// GetSelection returns the pending selection.
func (h *Handler) GetSelection(w http.ResponseWriter, _ *http.Request) {
	sel := h.sel.Current()
	JSON(w, http.StatusOK, map[string]any{"kind": sel.Kind(), "selection": sel})
}

// DismissSelection discards the pending selection.
func (h *Handler) DismissSelection(w http.ResponseWriter, _ *http.Request) {
	h.pipe.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns every setting. The API key itself is never returned.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Snapshot(r.Context())
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// PutSetting stores one setting.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.settings.Set(r.Context(), chi.URLParam(r, "key"), body.Value); err != nil {
		ErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Account returns provider account details under the account deadline.
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	detail, err := h.pipe.Account(r.Context(), body.StartDate, body.EndDate)
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	JSON(w, http.StatusOK, detail)
}
