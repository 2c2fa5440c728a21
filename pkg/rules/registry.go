// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/poller"
	"github.com/aquaops/aquaops-agent/pkg/sqlguard"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// ErrNotFound is returned for unknown rule ids.
var ErrNotFound = fmt.Errorf("rule not found")

// Snapshotter persists the rule catalogue across restarts.
type Snapshotter interface {
	SaveRules([]*EventRule) error
	LoadRules() ([]*EventRule, error)
}

// RemoteSync mirrors mutations to an external CEP service. Every method
// is best effort; the registry logs failures and moves on.
type RemoteSync interface {
	CreateRule(ctx context.Context, rule *EventRule) error
	UpdateRule(ctx context.Context, rule *EventRule) error
	DeleteRule(ctx context.Context, id string) error
	ToggleRule(ctx context.Context, id string, active bool) error
}

// Registry is the in-memory rule catalogue. All engine and poller
// registration flows through it so the three stay consistent.
type Registry struct {
	mu     sync.RWMutex
	rules  map[string]*EventRule
	engine *cep.Engine
	poll   *poller.Poller

	snapshotter Snapshotter
	sync        RemoteSync
	now         func() time.Time
}

// RegistryOption tweaks a Registry at construction time.
type RegistryOption func(*Registry)

// WithSnapshotter installs the persistence hook.
func WithSnapshotter(s Snapshotter) RegistryOption {
	return func(r *Registry) { r.snapshotter = s }
}

// WithRemoteSync installs the external CEP mirror.
func WithRemoteSync(s RemoteSync) RegistryOption {
	return func(r *Registry) { r.sync = s }
}

// WithNowFunc substitutes the timestamp source, for tests.
func WithNowFunc(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds an empty registry bound to the engine and poller.
func NewRegistry(engine *cep.Engine, poll *poller.Poller, opts ...RegistryOption) *Registry {
	r := &Registry{
		rules:  make(map[string]*EventRule),
		engine: engine,
		poll:   poll,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates and stores a new rule, registers it with the engine
// and the poller, snapshots the catalogue and mirrors the creation to
// the remote CEP service.
func (r *Registry) Create(input *EventRule) (*EventRule, error) {
	rule := input.clone()
	if rule.CheckIntervalMinutes == 0 {
		rule.CheckIntervalMinutes = 10
	}
	if rule.ConditionThreshold == "" {
		rule.ConditionThreshold = DefaultRowGate
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := sqlguard.Validate(rule.SQL); err != nil {
		return nil, err
	}

	now := r.now()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	r.mu.Lock()
	r.rules[rule.ID] = rule
	r.mu.Unlock()

	r.register(rule)
	r.snapshot()
	if r.sync != nil {
		if err := r.sync.CreateRule(context.Background(), rule); err != nil {
			log.Warnf("remote CEP create failed for rule %s: %v", rule.ID, err)
		}
	}

	log.Infof("rule created: %s (%s)", rule.Name, rule.ID)
	return rule.clone(), nil
}

// Update applies a partial patch. A changed SQL is re-validated. Only a
// changed condition resets the engine-side buffer and latches, and only
// a changed SQL or interval restarts the polling task; any other edit
// leaves a run in progress untouched.
func (r *Registry) Update(id string, patch *Patch) (*EventRule, error) {
	r.mu.Lock()
	existing, ok := r.rules[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}

	// Patch a copy so a failed validation leaves the stored rule intact.
	rule := existing.clone()
	if patch.SQL != nil && *patch.SQL != rule.SQL {
		if _, _, err := sqlguard.Validate(*patch.SQL); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	condChanged := patch.NaturalLanguageCondition != nil &&
		*patch.NaturalLanguageCondition != existing.NaturalLanguageCondition
	pollChanged := condChanged ||
		(patch.SQL != nil && *patch.SQL != existing.SQL) ||
		(patch.CheckIntervalMinutes != nil && *patch.CheckIntervalMinutes != existing.CheckIntervalMinutes)
	applyPatch(rule, patch)
	if err := rule.Validate(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	rule.UpdatedAt = r.now()
	r.rules[id] = rule
	updated := rule.clone()
	r.mu.Unlock()

	if condChanged {
		if err := r.engine.RegisterRule(updated.CEPRule()); err != nil {
			log.Errorf("engine registration failed for rule %s: %v", id, err)
		}
	} else if err := r.engine.UpdateRule(updated.CEPRule()); err != nil {
		log.Errorf("engine update failed for rule %s: %v", id, err)
	}
	if pollChanged {
		if err := r.poll.RegisterPollingRule(updated.PollingRule()); err != nil {
			log.Errorf("poller registration failed for rule %s: %v", id, err)
		}
	}
	r.snapshot()
	if r.sync != nil {
		if err := r.sync.UpdateRule(context.Background(), updated); err != nil {
			log.Warnf("remote CEP update failed for rule %s: %v", id, err)
		}
	}
	return updated, nil
}

// Delete removes the rule everywhere: registry, engine, poller and the
// remote CEP service.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.rules[id]
	if ok {
		delete(r.rules, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.engine.UnregisterRule(id)
	r.poll.UnregisterPollingRule(id)
	r.snapshot()
	if r.sync != nil {
		if err := r.sync.DeleteRule(context.Background(), id); err != nil {
			log.Warnf("remote CEP delete failed for rule %s: %v", id, err)
		}
	}
	log.Infof("rule deleted: %s", id)
	return nil
}

// Toggle flips is_active. The engine keeps the rule's buffer and
// latches, so a deactivate/reactivate pair does not forget a run in
// progress; the polling task is left alone.
func (r *Registry) Toggle(id string) (*EventRule, error) {
	r.mu.Lock()
	rule, ok := r.rules[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	rule.IsActive = !rule.IsActive
	rule.UpdatedAt = r.now()
	toggled := rule.clone()
	r.mu.Unlock()

	r.engine.SetRuleActive(id, toggled.IsActive)
	r.snapshot()
	if r.sync != nil {
		if err := r.sync.ToggleRule(context.Background(), id, toggled.IsActive); err != nil {
			log.Warnf("remote CEP toggle failed for rule %s: %v", id, err)
		}
	}
	return toggled, nil
}

// Get returns a copy of the rule.
func (r *Registry) Get(id string) (*EventRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rule.clone(), nil
}

// List returns copies of all rules, optionally only active ones.
func (r *Registry) List(activeOnly bool) []*EventRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EventRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule.clone())
	}
	return out
}

// CreateFromTemplate instantiates a catalogue template, applying any
// overrides, and stores the result like Create.
func (r *Registry) CreateFromTemplate(templateID string, overrides *Patch) (*EventRule, error) {
	tpl, ok := TemplateByID(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: template %q", ErrNotFound, templateID)
	}
	rule := tpl.Rule()
	if overrides != nil {
		applyPatch(rule, overrides)
	}
	return r.Create(rule)
}

// RecordTrigger stamps trigger bookkeeping, called by the dispatcher.
func (r *Registry) RecordTrigger(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.LastTriggeredAt = &at
		rule.TriggerCount++
	}
}

// RecordCheck stamps last_checked_at, called after a poll.
func (r *Registry) RecordCheck(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.LastCheckedAt = &at
	}
}

// Restore loads the snapshot and re-registers every rule. Missing or
// unreadable snapshots are not an error.
func (r *Registry) Restore() int {
	if r.snapshotter == nil {
		return 0
	}
	saved, err := r.snapshotter.LoadRules()
	if err != nil {
		log.Warnf("rule snapshot restore failed: %v", err)
		return 0
	}

	r.mu.Lock()
	for _, rule := range saved {
		r.rules[rule.ID] = rule
	}
	r.mu.Unlock()

	for _, rule := range saved {
		r.register(rule)
	}
	log.Infof("restored %d rules from snapshot", len(saved))
	return len(saved)
}

// SyncAll pushes the whole catalogue to the remote CEP service. Used at
// startup and from the sync endpoint.
func (r *Registry) SyncAll(syncer interface {
	SyncRules(ctx context.Context, rules []*EventRule) error
}) error {
	return syncer.SyncRules(context.Background(), r.List(false))
}

func (r *Registry) register(rule *EventRule) {
	if err := r.engine.RegisterRule(rule.CEPRule()); err != nil {
		log.Errorf("engine registration failed for rule %s: %v", rule.ID, err)
	}
	if err := r.poll.RegisterPollingRule(rule.PollingRule()); err != nil {
		log.Errorf("poller registration failed for rule %s: %v", rule.ID, err)
	}
}

func (r *Registry) snapshot() {
	if r.snapshotter == nil {
		return
	}
	if err := r.snapshotter.SaveRules(r.List(false)); err != nil {
		log.Warnf("rule snapshot save failed: %v", err)
	}
}

func applyPatch(rule *EventRule, patch *Patch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.NaturalLanguageCondition != nil {
		rule.NaturalLanguageCondition = *patch.NaturalLanguageCondition
	}
	if patch.SQL != nil {
		rule.SQL = *patch.SQL
	}
	if patch.CheckIntervalMinutes != nil {
		rule.CheckIntervalMinutes = *patch.CheckIntervalMinutes
	}
	if patch.ConditionThreshold != nil {
		rule.ConditionThreshold = *patch.ConditionThreshold
	}
	if patch.ActionType != nil {
		rule.ActionType = *patch.ActionType
	}
	if patch.AlertConfig != nil {
		rule.AlertConfig = patch.AlertConfig
	}
	if patch.ProcessConfig != nil {
		rule.ProcessConfig = patch.ProcessConfig
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
}
