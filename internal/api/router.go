// Package api exposes listing statistics and RDD analyses over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner executes one analysis. *analysis.Analyzer satisfies it.
type Runner interface {
	Run(ctx context.Context, p analysis.Params) (*analysis.Result, error)
}

// ListingSource reads the listings table. *storage.Store satisfies it.
type ListingSource interface {
	Stats(ctx context.Context) (storage.Stats, error)
	GetListing(ctx context.Context, vin string) (storage.Listing, error)
}

type AppDeps struct {
	Store    ListingSource
	Analyzer Runner
	Metrics  *Metrics
	Logger   *slog.Logger

	// Defaults fill cutoff and window when a request omits them.
	Defaults analysis.Params
	// OutputDir receives one sub-directory of figures per run.
	OutputDir string
	Format    string
	// Token guards POST /analyses when non-empty.
	Token string
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Format == "" {
		deps.Format = "png"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(deps.Logger))
	r.Use(deps.Metrics.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/listings/stats", handleStats(deps))
	r.Get("/listings/{vin}", handleGetListing(deps))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.With(BearerAuth(deps.Token)).Post("/analyses", handleCreateAnalysis(deps))
	r.Get("/analyses/{id}/figures/{name}", handleGetFigure(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read listing stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleGetListing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := chi.URLParam(r, "vin")
		l, err := deps.Store.GetListing(r.Context(), vin)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "listing %q not found", vin)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read listing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
