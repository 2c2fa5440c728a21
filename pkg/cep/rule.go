// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package cep

import (
	"fmt"
	"time"
)

// ActionType selects what happens when a rule fires.
type ActionType string

// The two action kinds.
const (
	ActionAlert   ActionType = "alert"
	ActionProcess ActionType = "process"
)

// Rule is a registered detection rule. The engine owns the usage
// counters; everything else is set by the caller before registration.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	FieldName string   `json:"field_name"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`

	// WindowMinutes bounds the event buffer; DurationMinutes is how long
	// the condition must hold continuously before firing.
	WindowMinutes   int `json:"window_minutes"`
	DurationMinutes int `json:"duration_minutes"`

	ActionType   ActionType             `json:"action_type"`
	ActionConfig map[string]interface{} `json:"action_config,omitempty"`

	IsActive        bool       `json:"is_active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int        `json:"trigger_count"`
}

// Validate checks the window/duration invariant.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.DurationMinutes < 0 {
		return fmt.Errorf("duration_minutes must be >= 0")
	}
	if r.WindowMinutes < 1 {
		return fmt.Errorf("window_minutes must be >= 1")
	}
	if r.WindowMinutes < r.DurationMinutes {
		return fmt.Errorf("window_minutes (%d) must cover duration_minutes (%d)", r.WindowMinutes, r.DurationMinutes)
	}
	if _, err := ParseOperator(string(r.Operator)); err != nil {
		return err
	}
	return nil
}

// Window returns the buffer span as a duration.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Duration returns the required hold time as a duration.
func (r *Rule) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// TriggerResult is emitted once per firing.
type TriggerResult struct {
	RuleID               string                 `json:"rule_id"`
	RuleName             string                 `json:"rule_name"`
	TriggeredAt          time.Time              `json:"triggered_at"`
	ConditionMetDuration time.Duration          `json:"condition_met_duration"`
	MatchingEvents       []Event                `json:"matching_events"`
	ActionType           ActionType             `json:"action_type"`
	ActionConfig         map[string]interface{} `json:"action_config,omitempty"`
}
