// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package cep implements the in-process complex event processor: a
// sliding event buffer per rule, a per-(rule, source) condition latch,
// and a duration gate that emits a trigger once the watched condition
// has held continuously for the required time.
//
// All timing comes from event timestamps, never the wall clock, so the
// engine is deterministic under any monotone input.
package cep

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// TriggerCallback is invoked synchronously for every trigger, in
// registration order, on the goroutine that called Submit. A panicking
// callback is recovered and logged; it does not affect other callbacks
// or subsequent events.
type TriggerCallback func(*TriggerResult)

type ruleState struct {
	rule   *Rule
	buffer []Event
	// firstMetAt holds, per source, when the current contiguous run of
	// condition-met events began. Absent means the latch is clear.
	firstMetAt map[string]time.Time
}

// Engine is the complex event processor. Safe for concurrent use; every
// poller task submits into the same instance.
type Engine struct {
	mu        sync.Mutex
	rules     map[string]*ruleState
	callbacks []TriggerCallback
	running   *atomic.Bool
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{
		rules:   make(map[string]*ruleState),
		running: atomic.NewBool(false),
	}
}

// SetRunning marks the engine status reported by Status.
func (e *Engine) SetRunning(v bool) {
	e.running.Store(v)
}

// RegisterRule inserts a rule with a fresh buffer and latch table.
// Registering an already-known id replaces the rule and resets its
// state.
func (e *Engine) RegisterRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = &ruleState{
		rule:       rule,
		firstMetAt: make(map[string]time.Time),
	}
	log.Infof("CEP rule registered: %s (%s)", rule.Name, rule.ID)
	return nil
}

// UpdateRule swaps the definition of a registered rule in place. The
// buffer, latches and trigger counters survive, so edits that do not
// change the watched condition never interrupt a run in progress.
// Unknown ids are registered fresh.
func (e *Engine) UpdateRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	st, ok := e.rules[rule.ID]
	if !ok {
		e.mu.Unlock()
		return e.RegisterRule(rule)
	}
	rule.TriggerCount = st.rule.TriggerCount
	rule.LastTriggeredAt = st.rule.LastTriggeredAt
	st.rule = rule
	e.mu.Unlock()
	log.Infof("CEP rule updated: %s (%s)", rule.Name, rule.ID)
	return nil
}

// UnregisterRule removes a rule along with its buffer and latches.
// Unknown ids are a no-op.
func (e *Engine) UnregisterRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[ruleID]; ok {
		delete(e.rules, ruleID)
		log.Infof("CEP rule unregistered: %s", ruleID)
	}
}

// AddTriggerCallback subscribes a listener for every trigger.
func (e *Engine) AddTriggerCallback(cb TriggerCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Submit routes an event through every active rule and returns the
// triggers it caused. It never fails: a missing or non-numeric watched
// field simply leaves the rule's state unchanged.
func (e *Engine) Submit(event Event) []*TriggerResult {
	e.mu.Lock()
	var results []*TriggerResult
	for _, st := range e.rules {
		if !st.rule.IsActive {
			continue
		}
		st.buffer = append(st.buffer, event)
		st.evict(event.Timestamp)
		if result := st.evaluate(event); result != nil {
			results = append(results, result)
		}
	}
	callbacks := e.callbacks
	e.mu.Unlock()

	// Callbacks run outside the engine lock so a listener may call back
	// into the engine.
	for _, result := range results {
		for _, cb := range callbacks {
			invokeCallback(cb, result)
		}
	}
	return results
}

// SubmitBatch sorts events by timestamp ascending and submits them in
// order, which makes outcomes deterministic under out-of-order arrival.
func (e *Engine) SubmitBatch(events []Event) []*TriggerResult {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var all []*TriggerResult
	for _, ev := range sorted {
		all = append(all, e.Submit(ev)...)
	}
	return all
}

func invokeCallback(cb TriggerCallback, result *TriggerResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("trigger callback panicked: %v", r)
		}
	}()
	cb(result)
}

func (s *ruleState) evict(latest time.Time) {
	cutoff := latest.Add(-s.rule.Window())
	keep := s.buffer[:0]
	for _, ev := range s.buffer {
		if !ev.Timestamp.Before(cutoff) {
			keep = append(keep, ev)
		}
	}
	s.buffer = keep
}

func (s *ruleState) evaluate(latest Event) *TriggerResult {
	value, ok := fieldValue(latest, s.rule.FieldName)
	if !ok {
		return nil
	}

	source := latest.SourceID
	if !s.rule.Operator.Evaluate(value, s.rule.Threshold) {
		// Condition broken: the latch resets and the source must build a
		// fresh full-duration run before it can fire again.
		if _, latched := s.firstMetAt[source]; latched {
			delete(s.firstMetAt, source)
			log.Debugf("condition reset: %s for %s", s.rule.Name, source)
		}
		return nil
	}

	firstMet, latched := s.firstMetAt[source]
	if !latched {
		firstMet = latest.Timestamp
		s.firstMetAt[source] = firstMet
		log.Debugf("condition started: %s for %s at %s", s.rule.Name, source, firstMet)
	}

	held := latest.Timestamp.Sub(firstMet)
	if held < s.rule.Duration() {
		return nil
	}

	var matching []Event
	for _, ev := range s.buffer {
		if ev.SourceID == source && !ev.Timestamp.Before(firstMet) {
			matching = append(matching, ev)
		}
	}

	delete(s.firstMetAt, source)
	triggeredAt := latest.Timestamp
	s.rule.LastTriggeredAt = &triggeredAt
	s.rule.TriggerCount++

	log.Infof("rule triggered: %s held=%s events=%d", s.rule.Name, held, len(matching))
	return &TriggerResult{
		RuleID:               s.rule.ID,
		RuleName:             s.rule.Name,
		TriggeredAt:          triggeredAt,
		ConditionMetDuration: held,
		MatchingEvents:       matching,
		ActionType:           s.rule.ActionType,
		ActionConfig:         s.rule.ActionConfig,
	}
}

// Status describes the engine for the status endpoints.
type Status struct {
	Status         string `json:"status"`
	ActiveRules    int    `json:"active_rules"`
	TotalRules     int    `json:"total_rules"`
	BufferedEvents int    `json:"buffered_events"`
	Engine         string `json:"engine"`
}

// GetStatus reports rule and buffer counts.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{Engine: "aquaops-cep"}
	if e.running.Load() {
		st.Status = "running"
	} else {
		st.Status = "stopped"
	}
	for _, rs := range e.rules {
		st.TotalRules++
		if rs.rule.IsActive {
			st.ActiveRules++
		}
		st.BufferedEvents += len(rs.buffer)
	}
	return st
}

// Rule returns the registered rule for id, or nil.
func (e *Engine) Rule(id string) *Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.rules[id]; ok {
		return st.rule
	}
	return nil
}

// SetRuleActive flips evaluation for a registered rule without touching
// its buffer or latches.
func (e *Engine) SetRuleActive(id string, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.rules[id]; ok {
		st.rule.IsActive = active
	}
}

// Clear drops every rule, buffer and latch.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*ruleState)
}
