// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/poller"
	"github.com/aquaops/aquaops-agent/pkg/rules"
	"github.com/aquaops/aquaops-agent/pkg/sqlexec"
	"github.com/aquaops/aquaops-agent/pkg/sqlguard"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	writeJSON(w, http.StatusOK, s.registry.List(activeOnly))
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var input rules.EventRule
	if !decodeBody(w, r, &input) {
		return
	}
	created, err := s.registry.Create(&input)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	var patch rules.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	updated, err := s.registry.Update(mux.Vars(r)["id"], &patch)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(mux.Vars(r)["id"]); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.Toggle(mux.Vars(r)["id"])
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// runRule forces one poll iteration for the rule and reports whether
// the row-count gate was met.
func (s *Server) runRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := s.registry.Get(id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no_database", "database is not connected")
		return
	}

	sql, _, err := sqlguard.Validate(rule.SQL)
	if err != nil {
		writeOpError(w, err)
		return
	}
	result, err := sqlexec.Execute(r.Context(), s.db, sql, s.queryTimeout)
	if err != nil {
		writeError(w, http.StatusBadGateway, "sql_failed", err.Error())
		return
	}

	// Feed the rows through the normal conversion and submission path.
	s.poll.PollSimulated(rule.PollingRule(), sqlexec.RowMaps(result))

	executedAt := time.Now()
	s.registry.RecordCheck(id, executedAt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executed_at":   executedAt,
		"rows":          result.RowCount(),
		"condition_met": rules.EvaluateRowGate(rule.ConditionThreshold, result.RowCount()),
	})
}

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatch.Notifications())
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.dispatch.Acknowledge(id) {
		writeError(w, http.StatusNotFound, "not_found", "notification not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"poller": s.poll.GetStatus(),
		"cep":    s.engine.GetStatus(),
	})
}

func (s *Server) schedulerStart(w http.ResponseWriter, _ *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no_database", "database is not connected")
		return
	}
	s.poll.Start(s.db)
	s.engine.SetRunning(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) schedulerStop(w http.ResponseWriter, _ *http.Request) {
	s.poll.Stop()
	s.engine.SetRunning(false)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	if category := r.URL.Query().Get("category"); category != "" {
		writeJSON(w, http.StatusOK, rules.TemplatesByCategory(category))
		return
	}
	writeJSON(w, http.StatusOK, rules.Templates())
}

func (s *Server) templateCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"categories": rules.TemplateCategories()})
}

func (s *Server) templatesGrouped(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rules.TemplatesGrouped())
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := rules.TemplateByID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "template not found")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) createRuleFromTemplate(w http.ResponseWriter, r *http.Request) {
	var overrides rules.Patch
	if r.ContentLength > 0 {
		if !decodeBody(w, r, &overrides) {
			return
		}
	}
	created, err := s.registry.CreateFromTemplate(mux.Vars(r)["id"], &overrides)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// chat extracts a rule configuration from a natural language message.
// The client shows the extraction for confirmation before creating the
// rule through POST /events/rules.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	intent := rules.ParseChatIntent(body.Message)
	// Ready once the message pinned down an actual field and threshold.
	ready := intent.FieldName != "value" && intent.Threshold != 0

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"extracted_config": intent,
		"ready_to_confirm": ready,
	})
}

type simulateRequest struct {
	FieldName                string  `json:"field_name"`
	Operator                 string  `json:"operator"`
	Threshold                float64 `json:"threshold"`
	DurationMinutes          int     `json:"duration_minutes"`
	SimulatedValue           float64 `json:"simulated_value"`
	SimulatedDurationMinutes int     `json:"simulated_duration_minutes"`
	SourceID                 string  `json:"source_id"`
}

// simulate replays a synthetic event stream, one event per minute at
// the simulated value, through an isolated engine and reports the
// triggers it would have fired.
func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := cep.ParseOperator(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.SourceID == "" {
		req.SourceID = "SIM-01"
	}
	if req.FieldName == "" {
		req.FieldName = "value"
	}

	window := 2 * req.DurationMinutes
	if window < 30 {
		window = 30
	}
	simRule := &cep.Rule{
		ID:              "simulation",
		Name:            "simulation",
		FieldName:       req.FieldName,
		Operator:        op,
		Threshold:       req.Threshold,
		WindowMinutes:   window,
		DurationMinutes: req.DurationMinutes,
		ActionType:      cep.ActionAlert,
		IsActive:        true,
	}

	engine := cep.NewEngine()
	if err := engine.RegisterRule(simRule); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var triggers []*cep.TriggerResult
	engine.AddTriggerCallback(func(tr *cep.TriggerResult) { triggers = append(triggers, tr) })

	start := time.Now().UTC().Truncate(time.Minute)
	rows := make([]map[string]interface{}, 0, req.SimulatedDurationMinutes+1)
	for minute := 0; minute <= req.SimulatedDurationMinutes; minute++ {
		rows = append(rows, map[string]interface{}{
			req.FieldName: req.SimulatedValue,
			"source_id":   req.SourceID,
			"measured_at": start.Add(time.Duration(minute) * time.Minute),
		})
	}

	simPoller := poller.NewPoller(engine)
	simPoller.PollSimulated(&poller.PollingRule{
		RuleID:          "simulation",
		SQL:             "SELECT 1",
		IntervalMinutes: 1,
		WatchedField:    req.FieldName,
	}, rows)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alarms_triggered": len(triggers),
		"events_submitted": len(rows),
		"triggers":         triggers,
	})
}

// cepAlertRequest is the inbound callback body posted by an external
// CEP service when one of its rules fires with an alert action.
type cepAlertRequest struct {
	RuleID    string                 `json:"rule_id"`
	RuleName  string                 `json:"rule_name"`
	Message   string                 `json:"message"`
	EventData map[string]interface{} `json:"event_data"`
}

func (s *Server) cepAlert(w http.ResponseWriter, r *http.Request) {
	var req cepAlertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RuleID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "rule_id is required")
		return
	}

	s.dispatch.HandleTrigger(&cep.TriggerResult{
		RuleID:      req.RuleID,
		RuleName:    req.RuleName,
		TriggeredAt: time.Now(),
		MatchingEvents: []cep.Event{
			{Timestamp: time.Now(), SourceID: sourceFromData(req.EventData), Data: req.EventData},
		},
		ActionType:   cep.ActionAlert,
		ActionConfig: map[string]interface{}{"message": req.Message},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}

type cepProcessRequest struct {
	RuleID        string                 `json:"rule_id"`
	RuleName      string                 `json:"rule_name"`
	ProcessName   string                 `json:"process_name"`
	ProcessParams map[string]interface{} `json:"process_params"`
	EventData     map[string]interface{} `json:"event_data"`
}

func (s *Server) cepProcess(w http.ResponseWriter, r *http.Request) {
	var req cepProcessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RuleID == "" || req.ProcessName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "rule_id and process_name are required")
		return
	}

	s.dispatch.HandleTrigger(&cep.TriggerResult{
		RuleID:      req.RuleID,
		RuleName:    req.RuleName,
		TriggeredAt: time.Now(),
		MatchingEvents: []cep.Event{
			{Timestamp: time.Now(), SourceID: sourceFromData(req.EventData), Data: req.EventData},
		},
		ActionType: cep.ActionProcess,
		ActionConfig: map[string]interface{}{
			"process_name":   req.ProcessName,
			"process_params": req.ProcessParams,
		},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}

func (s *Server) cepStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"local": s.engine.GetStatus(),
	}
	if s.remoteCEP != nil {
		body["remote"] = s.remoteCEP.GetStatus(r.Context())
	} else {
		body["remote"] = map[string]string{"status": "disabled"}
	}
	writeJSON(w, http.StatusOK, body)
}

func sourceFromData(data map[string]interface{}) string {
	ev := cep.EventFromRow(data, "", time.Now())
	return ev.SourceID
}
