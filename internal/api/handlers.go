package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/signalhouse/ingest-cli/internal/discovery"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
)

type discoverRequest struct {
	Item        string `json:"item"`
	Terms       string `json:"terms"`
	Site        string `json:"site"`
	Limit       int    `json:"limit"`
	JobType     string `json:"job_type"`
	Smart       bool   `json:"smart"`
	WriteToPool bool   `json:"write_to_pool"`
	AutoIngest  bool   `json:"auto_ingest"`
	IngestLimit int    `json:"ingest_limit"`
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var runReq discovery.Request
	if req.Item != "" {
		res, err := s.sources.ResolveItem(r.Context(), req.Item)
		if err != nil {
			if errors.Is(err, sourcecfg.ErrConfigNotFound) {
				writeError(w, http.StatusNotFound, "unknown source item")
				return
			}
			zap.L().Error("source item resolution failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "source item resolution failed")
			return
		}
		runReq, err = discovery.RequestFromItem(res)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if req.Terms == "" {
			writeError(w, http.StatusBadRequest, "terms is required")
			return
		}
		if req.JobType == "" {
			req.JobType = "discovery"
		}
		runReq = discovery.Request{
			Query:   discovery.Query{Terms: req.Terms, Site: req.Site, Limit: req.Limit},
			JobType: req.JobType,
			Smart:   req.Smart,
		}
	}
	runReq.Scope = pool.ScopeTenant
	runReq.WriteToPool = req.WriteToPool
	runReq.AutoIngest = req.AutoIngest
	runReq.IngestLimit = req.IngestLimit

	result, err := s.runner.Run(r.Context(), runReq)
	if err != nil {
		if errors.Is(err, discovery.ErrAllProvidersFailed) {
			writeError(w, http.StatusBadGateway, "all discovery providers failed")
			return
		}
		zap.L().Error("discovery run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "discovery run failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listPool(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 100)
	offset := intParam(q.Get("offset"), 0)

	entries, err := s.pool.ListEffective(r.Context(),
		pool.Filter{
			EntryType: q.Get("type"),
			Domain:    q.Get("domain"),
			Tag:       q.Get("tag"),
		},
		pool.Page{Limit: limit, Offset: offset})
	if err != nil {
		zap.L().Error("pool list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pool")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.jobs.List(r.Context(), jobs.Filter{
		Status:  jobs.Status(q.Get("status")),
		JobType: q.Get("job_type"),
		Limit:   intParam(q.Get("limit"), 50),
		Offset:  intParam(q.Get("offset"), 0),
	})
	if err != nil {
		zap.L().Error("job list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.jobs.Get(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		zap.L().Error("job get failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "job run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
