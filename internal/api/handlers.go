package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/geocontext"
	"github.com/sells-group/geocontext/internal/store"
)

type pointInput struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

type contextRequest struct {
	Name      string                `json:"name"`
	Points    []pointInput          `json:"points"`
	Locations []geocontext.Location `json:"locations"`
	Groups    []string              `json:"groups"`
	KValues   []float64             `json:"k_values"`
}

type groupOutput struct {
	Count      float64  `json:"count"`
	Proportion *float64 `json:"proportion"`
}

type kOutput struct {
	K      float64                `json:"k"`
	Radius int64                  `json:"radius"`
	Total  float64                `json:"total"`
	Groups map[string]groupOutput `json:"groups"`
}

type pointOutput struct {
	ID      int       `json:"id"`
	North   float64   `json:"north"`
	East    float64   `json:"east"`
	Results []kOutput `json:"results"`
}

type contextResponse struct {
	RunID   string        `json:"run_id,omitempty"`
	Columns []string      `json:"columns"`
	Points  []pointOutput `json:"points"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req contextRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	points := make([]geocontext.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = geocontext.Point{ID: i, North: p.North, East: p.East}
	}
	params := geocontext.Params{Groups: req.Groups, KValues: req.KValues}

	ctx := r.Context()
	var run *store.Run
	if s.store != nil {
		var err error
		run, err = s.store.CreateRun(ctx, store.RunSpec{Name: req.Name, Points: "api", Locations: "api", Params: params})
		if err != nil {
			zap.L().Error("api: create run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	results, err := s.calc.Compute(ctx, points, req.Locations, params)
	if err != nil {
		if run != nil {
			s.failRun(ctx, run.ID, err)
		}
		writeComputeError(w, err)
		return
	}
	params.KValues = geocontext.NormalizeKValues(params.KValues)

	resp := contextResponse{
		Columns: geocontext.Columns(params),
		Points:  toPointOutputs(params, results),
	}
	if run != nil {
		if err := s.persist(ctx, run.ID, params, results); err != nil {
			zap.L().Error("api: persist run", zap.String("run_id", run.ID), zap.Error(err))
			s.failRun(ctx, run.ID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.RunID = run.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) persist(ctx context.Context, runID string, params geocontext.Params, results []geocontext.PointResult) error {
	if _, err := s.store.SaveResults(ctx, runID, params, results); err != nil {
		return err
	}
	return s.store.CompleteRun(ctx, runID, len(results))
}

func (s *Server) failRun(ctx context.Context, runID string, cause error) {
	if err := s.store.FailRun(ctx, runID, cause); err != nil {
		zap.L().Warn("api: mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func writeComputeError(w http.ResponseWriter, err error) {
	var ce *geocontext.ConfigurationError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ce.Error(), Field: ce.Field})
		return
	}
	if geocontext.IsInsufficientPopulation(err) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		writeError(w, http.StatusServiceUnavailable, "request canceled")
		return
	}
	zap.L().Error("api: compute", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toPointOutputs(params geocontext.Params, results []geocontext.PointResult) []pointOutput {
	out := make([]pointOutput, len(results))
	for i, pr := range results {
		po := pointOutput{
			ID:      pr.Point.ID,
			North:   pr.Point.North,
			East:    pr.Point.East,
			Results: make([]kOutput, len(pr.Results)),
		}
		for j, kr := range pr.Results {
			groups := make(map[string]groupOutput, len(params.Groups))
			for g, name := range params.Groups {
				groups[name] = groupOutput{
					Count:      kr.GroupCounts[g],
					Proportion: proportion(kr.Proportions[g]),
				}
			}
			po.Results[j] = kOutput{K: kr.K, Radius: kr.Radius, Total: kr.Total, Groups: groups}
		}
		out[i] = po
	}
	return out
}

func proportion(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

type runResponse struct {
	Run     *store.Run        `json:"run"`
	Results []store.ResultRow `json:"results"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{Status: store.RunStatus(q.Get("status"))}
	switch filter.Status {
	case "", store.RunStatusRunning, store.RunStatusComplete, store.RunStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rows, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rows == nil {
		rows = []store.ResultRow{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Results: rows})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	zap.L().Error("api: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("api: invalid integer %q", v)
	}
	return n, nil
}
