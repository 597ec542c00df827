package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/plots"
)

// AnalysisResponse is the JSON body returned by POST /analyses.
type AnalysisResponse struct {
	*analysis.Result
	EarlyExit bool              `json:"early_exit"`
	Formula   string            `json:"formula,omitempty"`
	Figures   map[string]string `json:"figures,omitempty"`
	Summary   string            `json:"summary"`
}

var contentTypes = map[string]string{
	"png": "image/png",
	"svg": "image/svg+xml",
	"pdf": "application/pdf",
}

func handleCreateAnalysis(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		p := deps.Defaults
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		start := time.Now()
		res, err := deps.Analyzer.Run(r.Context(), p)
		outcome := deps.Metrics.ObserveRun(res, err, time.Since(start))
		if err != nil {
			switch outcome {
			case OutcomeInvalid:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case OutcomeInsufficientData:
				httpError(w, http.StatusUnprocessableEntity, "insufficient_data", "%v", err)
			case OutcomeCancelled:
				httpError(w, http.StatusServiceUnavailable, "api_error", "analysis cancelled: %v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "analysis failed: %v", err)
			}
			return
		}

		resp := AnalysisResponse{
			Result:    res,
			EarlyExit: res.EarlyExit(),
			Formula:   res.Formula(),
			Summary:   res.Summary(),
		}
		if len(res.Figures) > 0 && deps.OutputDir != "" {
			dir := filepath.Join(deps.OutputDir, res.RunID)
			resp.Figures = make(map[string]string, len(res.Figures))
			for _, fig := range res.Figures {
				if _, err := fig.Save(dir, deps.Format); err != nil {
					httpError(w, http.StatusInternalServerError, "api_error", "failed to save figure: %v", err)
					return
				}
				resp.Figures[fig.Name] = "/analyses/" + res.RunID + "/figures/" + fig.Name
			}
		}

		deps.Logger.Info("analysis served", "run_id", res.RunID, "outcome", outcome, "figures", len(resp.Figures))
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleGetFigure(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		name := chi.URLParam(r, "name")

		if _, err := uuid.Parse(id); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid run id %q", id)
			return
		}
		if !knownFigure(name) {
			httpError(w, http.StatusNotFound, "not_found", "unknown figure %q", name)
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = deps.Format
		}
		if !plots.ValidFormat(format) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported format %q", format)
			return
		}

		path := filepath.Join(deps.OutputDir, id, name+"."+format)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "figure not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open figure: %v", err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to stat figure: %v", err)
			return
		}
		w.Header().Set("Content-Type", contentTypes[format])
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	}
}

func knownFigure(name string) bool {
	for _, n := range plots.FigureNames {
		if n == name {
			return true
		}
	}
	return false
}
