package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	var siteID *uuid.UUID
	if raw := r.URL.Query().Get("site_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid site id")
			return
		}
		siteID = &id
	}

	limit, offset := pagination(r)
	ruleSet, total, err := s.rules.ListRules(r.Context(), siteID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list rules failed")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(ruleSet, total, limit, offset))
}

type createRuleRequest struct {
	SiteID   *uuid.UUID `json:"site_id"`
	RuleType string     `json:"rule_type"`
	Pattern  string     `json:"pattern"`
	Enabled  *bool      `json:"enabled"`
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule, err := s.svc.CreateRule(r.Context(), req.SiteID, linkscan.RuleType(req.RuleType), req.Pattern, enabled)
	if errors.Is(err, linkscan.ErrInvalidRule) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create rule failed")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// deleteRule removes a rule. With reapply_run_id set, the remaining rules
// are force-reapplied to that run so links held ignored only by the deleted
// rule come back.
func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := urlParamUUID(r, "rule_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	ctx := r.Context()

	var siteID, runID *uuid.UUID
	if raw := r.URL.Query().Get("reapply_run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid reapply run id")
			return
		}
		run, err := s.runs.GetRun(ctx, id)
		if errors.Is(err, linkscan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reapply run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load run failed")
			return
		}
		runID = &id
		siteID = &run.SiteID
	}

	result, err := s.svc.DeleteRule(ctx, ruleID, siteID, runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete rule failed")
		return
	}

	s.logger.Info("rule deleted", zap.String("rule_id", ruleID.String()))
	writeJSON(w, http.StatusOK, map[string]any{
		"rule_id": ruleID.String(),
		"reapply": result,
	})
}

func (s *Server) enableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, true)
}

func (s *Server) disableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, false)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ruleID, ok := urlParamUUID(r, "rule_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	err := s.rules.SetRuleEnabled(r.Context(), ruleID, enabled)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update rule failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": ruleID.String(), "enabled": enabled})
}
