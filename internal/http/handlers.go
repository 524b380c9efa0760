package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/yourname/viewpulse/internal/config"
	"github.com/yourname/viewpulse/internal/core"
	"github.com/yourname/viewpulse/internal/metrics"
	"github.com/yourname/viewpulse/internal/store"
)

type Router struct {
	cfg     config.Config
	svc     *core.Service
	limiter *rateLimiter
}

func NewRouter(cfg config.Config, svc *core.Service) http.Handler {
	r := chi.NewRouter()
	// Logging middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	api := &Router{
		cfg:     cfg,
		svc:     svc,
		limiter: newRateLimiter(cfg.ViewRateRPS, cfg.ViewRateBurst),
	}

	r.MethodFunc(http.MethodGet, "/healthz", api.handleHealth)
	r.MethodFunc(http.MethodGet, "/readyz", api.handleReady)

	// Metrics
	r.MethodFunc(http.MethodGet, "/metrics", metrics.Handler)

	// Public endpoints
	r.Group(func(r chi.Router) {
		r.MethodFunc(http.MethodPost, "/api/v1/views", api.handleIncrement)
		r.MethodFunc(http.MethodGet, "/api/v1/stats/{id}", api.handleStats)
		r.MethodFunc(http.MethodGet, "/api/v1/popular", api.handlePopular)
		r.MethodFunc(http.MethodGet, "/api/v1/trending", api.handleTrending)
		r.MethodFunc(http.MethodGet, "/api/v1/status", api.handleStatus)
	})

	// Admin endpoints, bearer-token authenticated
	r.Group(func(r chi.Router) {
		r.MethodFunc(http.MethodPost, "/api/v1/admin/flush", api.requireAdmin(api.handleForceFlush))
		r.MethodFunc(http.MethodPost, "/api/v1/admin/trending", api.requireAdmin(api.handleForceTrending))
		r.MethodFunc(http.MethodGet, "/api/v1/admin/settings", api.requireAdmin(api.handleGetSettings))
		r.MethodFunc(http.MethodPut, "/api/v1/admin/settings", api.requireAdmin(api.handlePutSettings))
	})

	// External scheduler hooks, shared-secret authenticated
	r.Group(func(r chi.Router) {
		r.MethodFunc(http.MethodGet, "/api/v1/cron/flush", api.requireCronToken(api.handleCronFlush))
		r.MethodFunc(http.MethodGet, "/api/v1/cron/trending", api.requireCronToken(api.handleCronTrending))
	})

	return r
}

type incrementReq struct {
	PostID int64  `json:"post_id,omitempty"`
	Slug   string `json:"slug,omitempty"`
}

type opResp struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (rt *Router) handleIncrement(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !rt.limiter.Allow(ip) {
		metrics.ViewsRateLimited.Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req incrementReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, err := rt.svc.RecordView(req.PostID, strings.TrimSpace(req.Slug), ip, r.UserAgent())
	if err != nil {
		rt.writeRecordError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (rt *Router) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNoIdentifier):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotPublished):
		http.Error(w, "content not found or not published", http.StatusNotFound)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("record view")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return
	}
	stats, err := rt.svc.ItemStats(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "content not found", http.StatusNotFound)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("item stats")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats, http.StatusOK)
}

func (rt *Router) handlePopular(w http.ResponseWriter, r *http.Request) {
	rt.writeRanked(w, r, rt.svc.TopByViews)
}

func (rt *Router) handleTrending(w http.ResponseWriter, r *http.Request) {
	rt.writeRanked(w, r, rt.svc.TopByTrending)
}

func (rt *Router) writeRanked(w http.ResponseWriter, r *http.Request, top func(int) ([]store.RankedItem, error)) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be 1-100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	items, err := top(limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("ranked listing")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.RankedItem{}
	}
	writeJSON(w, items, http.StatusOK)
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := rt.svc.Status()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

func (rt *Router) handleForceFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := rt.svc.ForceFlush()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("force flush")
		writeJSON(w, opResp{Success: false, Message: "flush failed"}, http.StatusInternalServerError)
		return
	}
	msg := "buffer empty, nothing to flush"
	if flushed {
		msg = "buffer flushed"
	}
	writeJSON(w, opResp{Success: true, Message: msg}, http.StatusOK)
}

func (rt *Router) handleForceTrending(w http.ResponseWriter, r *http.Request) {
	n, err := rt.svc.ForceTrending()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int("scored", n).Msg("force trending")
		writeJSON(w, opResp{Success: false, Message: "trending computation failed"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, opResp{Success: true, Message: "scored " + strconv.Itoa(n) + " items"}, http.StatusOK)
}

func (rt *Router) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := rt.svc.Settings()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("load settings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

func (rt *Router) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg store.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	saved, err := rt.svc.UpdateSettings(cfg)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("save settings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, saved, http.StatusOK)
}

func (rt *Router) handleCronFlush(w http.ResponseWriter, r *http.Request) {
	if _, err := rt.svc.ForceFlush(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("cron flush")
		writeJSON(w, opResp{Success: false}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, opResp{Success: true}, http.StatusOK)
}

func (rt *Router) handleCronTrending(w http.ResponseWriter, r *http.Request) {
	if _, err := rt.svc.ForceTrending(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("cron trending")
		writeJSON(w, opResp{Success: false}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, opResp{Success: true}, http.StatusOK)
}

// requireAdmin accepts only requests carrying the configured admin
// token as a bearer credential. The comparison is constant-time.
func (rt *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !tokenMatch(token, rt.cfg.AdminToken) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// requireCronToken authenticates external-scheduler calls via the
// shared-secret query parameter.
func (rt *Router) requireCronToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(r.URL.Query().Get("token"), rt.cfg.CronToken) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// tokenMatch is a constant-time comparison; an unset expected token
// disables the endpoint rather than opening it.
func tokenMatch(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
