package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/rules"
)

func (s *Server) listActiveLinks(w http.ResponseWriter, r *http.Request) {
	s.listLinks(w, r, false)
}

func (s *Server) listIgnoredLinks(w http.ResponseWriter, r *http.Request) {
	s.listLinks(w, r, true)
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request, ignored bool) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	var cls *linkscan.Classification
	if raw := r.URL.Query().Get("classification"); raw != "" {
		c := linkscan.Classification(raw)
		switch c {
		case linkscan.LinkOK, linkscan.LinkBroken, linkscan.LinkBlocked, linkscan.LinkNoResponse:
			cls = &c
		default:
			writeError(w, http.StatusBadRequest, "unknown classification")
			return
		}
	}

	limit, offset := pagination(r)
	links, total, err := s.links.ListLinks(r.Context(), runID, ignored, cls, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list links failed")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(links, total, limit, offset))
}

func (s *Server) listOccurrences(w http.ResponseWriter, r *http.Request) {
	linkID, ok := urlParamUUID(r, "link_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}
	ignored := r.URL.Query().Get("ignored") == "true"

	limit, offset := pagination(r)
	occ, total, err := s.links.ListOccurrences(r.Context(), linkID, ignored, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list occurrences failed")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(occ, total, limit, offset))
}

type ignoreRequest struct {
	LinkURL    string `json:"link_url"`
	CreateRule bool   `json:"create_rule"`
	RuleType   string `json:"rule_type"`
	Pattern    string `json:"pattern"`
}

func (s *Server) ignoreLink(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LinkURL == "" {
		writeError(w, http.StatusBadRequest, "link_url required")
		return
	}
	ctx := r.Context()

	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}

	rule, err := s.svc.ManualIgnore(ctx, run.SiteID, rules.IgnoreRequest{
		RunID:      runID,
		URL:        req.LinkURL,
		CreateRule: req.CreateRule,
		RuleType:   linkscan.RuleType(req.RuleType),
		Pattern:    req.Pattern,
	})
	switch {
	case errors.Is(err, linkscan.ErrNotFound):
		writeError(w, http.StatusNotFound, "link not found in this run")
		return
	case errors.Is(err, linkscan.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "ignore link failed")
		return
	}

	resp := map[string]any{"link_url": req.LinkURL, "ignored": true}
	if rule != nil {
		resp["rule"] = rule
	}
	writeJSON(w, http.StatusOK, resp)
}

type unignoreRequest struct {
	LinkURL string `json:"link_url"`
}

func (s *Server) unignoreLink(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	var req unignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LinkURL == "" {
		writeError(w, http.StatusBadRequest, "link_url required")
		return
	}

	if err := s.svc.Unignore(r.Context(), runID, req.LinkURL); err != nil {
		if errors.Is(err, linkscan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ignored link not found in this run")
			return
		}
		writeError(w, http.StatusInternalServerError, "unignore link failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link_url": req.LinkURL, "ignored": false})
}

type reapplyRequest struct {
	Force bool `json:"force"`
}

func (s *Server) reapplyRules(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	var req reapplyRequest
	if r.Body != nil {
		// An empty body means a plain, non-forced pass.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ctx := r.Context()

	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}

	result, err := s.svc.Reapply(ctx, run.SiteID, runID, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reapply failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
