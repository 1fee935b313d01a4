package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/askbar/internal/api"
	"github.com/ashureev/askbar/internal/convlog"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/identity"
	"github.com/ashureev/askbar/internal/middleware"
	"github.com/ashureev/askbar/internal/sentinel"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig holds HTTP limits for the relay endpoints.
type HandlerConfig struct {
	MaxRequestBodySize int64
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	AllowedOrigins     []string
}

// PromptBody is the request body of /prompt, /ask and the first websocket message.
type PromptBody struct {
	Prompt  string `json:"prompt"`
	Preset  string `json:"preset"`
	OneShot bool   `json:"one_shot,omitempty"`
	// ContextWindow overrides the contextual-turn setting when present.
	ContextWindow *int `json:"context_window,omitempty"`
	// History is the caller's own prior turns, oldest first.
	History []domain.ChatContent `json:"history,omitempty"`
}

// CrawlBody is the request body of /crawl.
type CrawlBody struct {
	URL    string `json:"url"`
	Preset string `json:"preset"`
}

// CrawlResponse is the reply of /crawl. A non-zero Code is an application failure.
type CrawlResponse struct {
	Code    int    `json:"code"`
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// AccountBody is the request body of /account.
type AccountBody struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// AccountResponse is the reply of /account.
type AccountResponse struct {
	Code    int                  `json:"code"`
	Result  domain.AccountDetail `json:"result"`
	Message string               `json:"message,omitempty"`
}

// Handler exposes the relay over HTTP.
type Handler struct {
	adapter     *Adapter
	rateLimiter *RateLimiter
	cfg         HandlerConfig
	log         convlog.Logger
	logger      *slog.Logger
}

// NewHandler creates the relay HTTP handler.
func NewHandler(adapter *Adapter, cfg HandlerConfig, conv convlog.Logger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if conv == nil {
		conv = convlog.Noop{}
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		adapter:     adapter,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		cfg:         cfg,
		log:         conv,
		logger:      logger,
	}
}

// RegisterRoutes registers the relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/prompt", h.HandlePrompt)
	r.Post("/ask", h.HandleAsk)
	r.Get("/ws/prompt", h.HandlePromptWS)
	r.Post("/crawl", h.HandleCrawl)
	r.Post("/account", h.HandleAccount)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter.Allow(identity.RateKey(r)) {
		return true
	}
	api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := api.DecodeJSON(w, r, h.cfg.MaxRequestBodySize, v); err != nil {
		if api.IsBodyTooLarge(err) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// promptRequest validates a PromptBody into a PromptRequest.
func (h *Handler) promptRequest(ctx context.Context, body PromptBody) (domain.PromptRequest, error) {
	if strings.TrimSpace(body.Prompt) == "" {
		return domain.PromptRequest{}, errors.New("prompt is required")
	}
	preset := domain.PresetChat
	if body.Preset != "" {
		p, err := domain.ParsePreset(body.Preset)
		if err != nil {
			return domain.PromptRequest{}, err
		}
		preset = p
	}
	var window int
	if body.ContextWindow != nil {
		window = *body.ContextWindow
	} else {
		window = h.adapter.DefaultContextWindow(ctx)
	}
	req := domain.NewPromptRequest(preset, body.Prompt, window)
	req.OneShot = body.OneShot
	req.History = body.History
	return req, nil
}

// HandlePrompt handles POST /prompt with the legacy chunked text protocol.
func (h *Handler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	h.servePrompt(w, r, false)
}

// HandleAsk handles POST /ask: a one-shot prompt whose answer is copied to
// the clipboard.
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	h.servePrompt(w, r, true)
}

func (h *Handler) servePrompt(w http.ResponseWriter, r *http.Request, oneShot bool) {
	if !h.allow(w, r) {
		return
	}
	var body PromptBody
	if !h.decode(w, r, &body) {
		return
	}
	body.OneShot = body.OneShot || oneShot
	req, err := h.promptRequest(r.Context(), body)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Request-Id", req.ID)
	w.WriteHeader(http.StatusOK)

	h.run(r, req, NewTextWriter(w), "prompt_http")
}

// HandlePromptWS handles GET /ws/prompt. The client sends one PromptBody and
// receives JSON frames until the server closes the connection.
func (h *Handler) HandlePromptWS(w http.ResponseWriter, r *http.Request) {
	if !middleware.OriginAllowed(h.cfg.AllowedOrigins, r.Header.Get("Origin")) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if !h.allow(w, r) {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	conn.SetReadLimit(h.cfg.MaxRequestBodySize)

	ctx := r.Context()
	var body PromptBody
	if err := wsjson.Read(ctx, conn, &body); err != nil {
		h.logger.Debug("WebSocket prompt read failed", "error", err)
		return
	}
	req, err := h.promptRequest(ctx, body)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	// The client sends nothing else; reading detects its disconnect.
	ctx = conn.CloseRead(ctx)
	h.run(r.WithContext(ctx), req, NewWSWriter(ctx, conn), "prompt_ws")
}

func (h *Handler) run(r *http.Request, req domain.PromptRequest, fw FrameWriter, channel string) {
	ctx := r.Context()
	clientID := identity.ClientIDFromContext(ctx)
	reqID := chiMiddleware.GetReqID(ctx)

	h.logger.Info("Relay prompt request",
		"request_id", req.ID,
		"client_id", clientID,
		"preset", req.Preset,
		"prompt_length", len(req.Text),
		"context_window", req.ContextWindow,
		"one_shot", req.OneShot,
	)
	h.log.Log(convlog.Event{
		ClientID:   clientID,
		RequestID:  req.ID,
		Preset:     req.Preset.String(),
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "user_prompt",
		ContentRaw: req.Text,
		Meta:       map[string]any{"http_request_id": reqID},
	})

	start := time.Now()
	answer, err := h.adapter.Stream(ctx, req, fw)

	meta := map[string]any{
		"http_request_id": reqID,
		"duration_ms":     time.Since(start).Milliseconds(),
	}
	if code, ok := sentinel.FromError(err); ok {
		meta["sentinel"] = code.String()
	} else if err != nil {
		meta["error"] = err.Error()
		h.logger.Warn("Relay stream aborted", "request_id", req.ID, "error", err)
	}
	h.log.Log(convlog.Event{
		ClientID:   clientID,
		RequestID:  req.ID,
		Preset:     req.Preset.String(),
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "assistant_answer",
		ContentRaw: answer,
		Meta:       meta,
	})
}

// HandleCrawl handles POST /crawl.
func (h *Handler) HandleCrawl(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var body CrawlBody
	if !h.decode(w, r, &body) {
		return
	}
	preset := domain.PresetSummarizer
	if body.Preset != "" {
		p, err := domain.ParsePreset(body.Preset)
		if err != nil {
			api.JSON(w, http.StatusOK, CrawlResponse{Code: -1, Message: err.Error()})
			return
		}
		preset = p
	}

	summary, err := h.adapter.Crawl(r.Context(), body.URL, preset)
	if err != nil {
		code, msg := failure(err)
		h.logger.Warn("Crawl failed", "url", body.URL, "error", err)
		api.JSON(w, http.StatusOK, CrawlResponse{Code: code, Message: msg})
		return
	}
	api.JSON(w, http.StatusOK, CrawlResponse{Code: 0, Result: summary})
}

// HandleAccount handles POST /account.
func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var body AccountBody
	if !h.decode(w, r, &body) {
		return
	}
	detail, err := h.adapter.Account(r.Context(), body.StartDate, body.EndDate)
	if err != nil {
		code, msg := failure(err)
		api.JSON(w, http.StatusOK, AccountResponse{Code: code, Result: detail, Message: msg})
		return
	}
	api.JSON(w, http.StatusOK, AccountResponse{Code: 0, Result: detail})
}

// failure maps an ancillary error onto the application code and message.
// Sentinel errors keep their code value; anything else is -1.
func failure(err error) (int, string) {
	if code, ok := sentinel.FromError(err); ok {
		return int(code), sentinel.Message(code)
	}
	return -1, err.Error()
}
