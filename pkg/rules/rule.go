// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package rules is the authoritative catalogue of event detection
// rules. It owns the REST-facing rule object and keeps the CEP engine
// and the poller in sync with every mutation.
package rules

import (
	"fmt"
	"time"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/poller"
)

// AlertConfig configures the alert action.
type AlertConfig struct {
	Channels []string `json:"channels,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// ProcessConfig configures the remote process action.
type ProcessConfig struct {
	ProcessName   string                 `json:"process_name,omitempty"`
	ProcessParams map[string]interface{} `json:"process_params,omitempty"`
}

// EventRule is a registered detection rule as exposed over REST.
type EventRule struct {
	ID                       string         `json:"id"`
	Name                     string         `json:"name"`
	Description              string         `json:"description,omitempty"`
	NaturalLanguageCondition string         `json:"natural_language_condition"`
	SQL                      string         `json:"sql"`
	CheckIntervalMinutes     int            `json:"check_interval_minutes"`
	ConditionThreshold       string         `json:"condition_threshold"`
	ActionType               cep.ActionType `json:"action_type"`
	AlertConfig              *AlertConfig   `json:"alert_config,omitempty"`
	ProcessConfig            *ProcessConfig `json:"process_config,omitempty"`
	IsActive                 bool           `json:"is_active"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int        `json:"trigger_count"`
}

// Validate checks the user-settable fields.
func (r *EventRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.SQL == "" {
		return fmt.Errorf("rule sql is required")
	}
	if r.CheckIntervalMinutes < 1 {
		return fmt.Errorf("check_interval_minutes must be >= 1")
	}
	switch r.ActionType {
	case cep.ActionAlert, cep.ActionProcess:
	default:
		return fmt.Errorf("unknown action_type %q", r.ActionType)
	}
	return nil
}

// clone returns a deep enough copy for handing outside the registry
// lock. Config structs are copied; their inner maps are shared but
// treated as immutable by convention.
func (r *EventRule) clone() *EventRule {
	out := *r
	if r.AlertConfig != nil {
		ac := *r.AlertConfig
		out.AlertConfig = &ac
	}
	if r.ProcessConfig != nil {
		pc := *r.ProcessConfig
		out.ProcessConfig = &pc
	}
	return &out
}

// CEPRule derives the engine-side rule from the natural language
// condition.
func (r *EventRule) CEPRule() *cep.Rule {
	cond := ParseCondition(r.NaturalLanguageCondition)
	actionConfig := map[string]interface{}{}
	if r.AlertConfig != nil {
		actionConfig["channels"] = r.AlertConfig.Channels
		actionConfig["message"] = r.AlertConfig.Message
	}
	if r.ProcessConfig != nil {
		actionConfig["process_name"] = r.ProcessConfig.ProcessName
		actionConfig["process_params"] = r.ProcessConfig.ProcessParams
	}
	return &cep.Rule{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		FieldName:       cond.FieldName,
		Operator:        cond.Operator,
		Threshold:       cond.Threshold,
		WindowMinutes:   cond.WindowMinutes,
		DurationMinutes: cond.DurationMinutes,
		ActionType:      r.ActionType,
		ActionConfig:    actionConfig,
		IsActive:        r.IsActive,
	}
}

// PollingRule derives the poller-side rule. The watched field mirrors
// the CEP rule's field so polled rows feed the right comparison.
func (r *EventRule) PollingRule() *poller.PollingRule {
	cond := ParseCondition(r.NaturalLanguageCondition)
	return &poller.PollingRule{
		RuleID:          r.ID,
		SQL:             r.SQL,
		IntervalMinutes: r.CheckIntervalMinutes,
		WatchedField:    cond.FieldName,
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name                     *string         `json:"name,omitempty"`
	Description              *string         `json:"description,omitempty"`
	NaturalLanguageCondition *string         `json:"natural_language_condition,omitempty"`
	SQL                      *string         `json:"sql,omitempty"`
	CheckIntervalMinutes     *int            `json:"check_interval_minutes,omitempty"`
	ConditionThreshold       *string         `json:"condition_threshold,omitempty"`
	ActionType               *cep.ActionType `json:"action_type,omitempty"`
	AlertConfig              *AlertConfig    `json:"alert_config,omitempty"`
	ProcessConfig            *ProcessConfig  `json:"process_config,omitempty"`
	IsActive                 *bool           `json:"is_active,omitempty"`
}
