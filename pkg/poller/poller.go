// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package poller schedules the per-rule polling tasks. Each registered
// rule gets its own goroutine that runs the rule's SQL on its interval,
// converts rows to events and submits them to the CEP engine.
package poller

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/sqlexec"
	"github.com/aquaops/aquaops-agent/pkg/sqlguard"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

var (
	pollerStats  = expvar.NewMap("poller")
	pollsOk      = expvar.Int{}
	pollsErr     = expvar.Int{}
	eventsPolled = expvar.Int{}
)

func init() {
	pollerStats.Set("PollsOk", &pollsOk)
	pollerStats.Set("PollsErr", &pollsErr)
	pollerStats.Set("Events", &eventsPolled)
}

// PollingRule binds a guarded query to a CEP rule. WatchedField names
// the row column the CEP rule evaluates; it doubles as the event type.
type PollingRule struct {
	RuleID          string `json:"rule_id"`
	SQL             string `json:"sql"`
	IntervalMinutes int    `json:"interval_minutes"`
	WatchedField    string `json:"watched_field"`

	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Validate checks the rule before a task is started for it.
func (r *PollingRule) Validate() error {
	if r.RuleID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.IntervalMinutes < 1 {
		return fmt.Errorf("interval_minutes must be >= 1")
	}
	if _, _, err := sqlguard.Validate(r.SQL); err != nil {
		return err
	}
	return nil
}

type task struct {
	rule   *PollingRule
	cancel context.CancelFunc
	done   chan struct{}
}

// CheckObserver is notified after every completed poll for a rule, with
// the poll time. The registry uses it to stamp last_checked_at.
type CheckObserver func(ruleID string, at time.Time)

// Poller owns one polling task per registered rule.
type Poller struct {
	mu        sync.Mutex
	db        *sqlx.DB
	engine    *cep.Engine
	clock     clock.Clock
	tasks     map[string]*task
	running   bool
	observers []CheckObserver

	queryTimeout time.Duration
	errorBackoff time.Duration
}

// Option tweaks a Poller at construction time.
type Option func(*Poller)

// WithClock substitutes the timer source, for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithQueryTimeout overrides the per-query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(p *Poller) { p.queryTimeout = d }
}

// WithErrorBackoff overrides the sleep after a failed poll.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Poller) { p.errorBackoff = d }
}

// NewPoller builds a stopped poller submitting into engine.
func NewPoller(engine *cep.Engine, opts ...Option) *Poller {
	p := &Poller{
		engine:       engine,
		clock:        clock.New(),
		tasks:        make(map[string]*task),
		queryTimeout: 60 * time.Second,
		errorBackoff: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddCheckObserver subscribes a listener called after each completed
// poll, including simulated ones.
func (p *Poller) AddCheckObserver(obs CheckObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
}

// Start binds the database handle and launches a task per registered
// rule. Starting an already-running poller is a no-op.
func (p *Poller) Start(db *sqlx.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.db = db
	p.running = true
	for _, t := range p.tasks {
		p.launchTask(t)
	}
	log.Infof("poller started with %d rules", len(p.tasks))
}

// Stop cancels every task and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopping := make([]*task, 0, len(p.tasks))
	for _, t := range p.tasks {
		if t.cancel != nil {
			t.cancel()
			stopping = append(stopping, t)
		}
	}
	p.mu.Unlock()

	for _, t := range stopping {
		<-t.done
	}
	log.Info("poller stopped")
}

// RegisterPollingRule validates the rule and, when the poller is
// running, starts its task immediately. An existing rule with the same
// id is replaced and its task restarted.
func (p *Poller) RegisterPollingRule(rule *PollingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if old, ok := p.tasks[rule.RuleID]; ok && old.cancel != nil {
		old.cancel()
		p.mu.Unlock()
		<-old.done
		p.mu.Lock()
	}
	t := &task{rule: rule}
	p.tasks[rule.RuleID] = t
	if p.running {
		p.launchTask(t)
	}
	p.mu.Unlock()

	log.Infof("polling rule registered: %s every %dm", rule.RuleID, rule.IntervalMinutes)
	return nil
}

// UnregisterPollingRule stops and forgets the rule's task.
func (p *Poller) UnregisterPollingRule(ruleID string) {
	p.mu.Lock()
	t, ok := p.tasks[ruleID]
	if ok {
		delete(p.tasks, ruleID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	log.Infof("polling rule unregistered: %s", ruleID)
}

// caller must hold p.mu
func (p *Poller) launchTask(t *task) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go p.run(ctx, t)
}

func (p *Poller) run(ctx context.Context, t *task) {
	defer close(t.done)

	interval := time.Duration(t.rule.IntervalMinutes) * time.Minute
	for {
		wait := interval
		if err := p.PollOnce(ctx, t.rule); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("poll failed for rule %s: %v", t.rule.RuleID, err)
			wait = p.errorBackoff
		}

		timer := p.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// PollOnce runs a single poll iteration for the rule: validate the SQL,
// execute it under the query timeout, convert each row to an event and
// submit in row order. The rule's LastPolledAt is stamped on success.
func (p *Poller) PollOnce(ctx context.Context, rule *PollingRule) error {
	sql, _, err := sqlguard.Validate(rule.SQL)
	if err != nil {
		p.recordError(rule, err)
		return err
	}

	p.mu.Lock()
	db := p.db
	p.mu.Unlock()
	if db == nil {
		err := fmt.Errorf("poller has no database handle")
		p.recordError(rule, err)
		return err
	}

	result, err := sqlexec.Execute(ctx, db, sql, p.queryTimeout)
	if err != nil {
		p.recordError(rule, err)
		return err
	}

	now := p.clock.Now()
	p.submitRows(rule, sqlexec.RowMaps(result), now)

	p.mu.Lock()
	rule.LastPolledAt = &now
	rule.LastError = ""
	p.mu.Unlock()
	pollsOk.Add(1)
	p.notifyChecked(rule.RuleID, now)
	return nil
}

// PollSimulated feeds pre-built rows through the same conversion and
// submission path as a real poll, without touching the database.
func (p *Poller) PollSimulated(rule *PollingRule, rows []map[string]interface{}) {
	now := p.clock.Now()
	p.submitRows(rule, rows, now)
	p.mu.Lock()
	rule.LastPolledAt = &now
	p.mu.Unlock()
	pollsOk.Add(1)
	p.notifyChecked(rule.RuleID, now)
}

func (p *Poller) notifyChecked(ruleID string, at time.Time) {
	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, obs := range observers {
		obs(ruleID, at)
	}
}

func (p *Poller) submitRows(rule *PollingRule, rows []map[string]interface{}, now time.Time) {
	for _, row := range rows {
		ev := cep.EventFromRow(row, rule.WatchedField, now)
		p.engine.Submit(ev)
		eventsPolled.Add(1)
	}
	log.Debugf("poll for rule %s produced %d events", rule.RuleID, len(rows))
}

func (p *Poller) recordError(rule *PollingRule, err error) {
	p.mu.Lock()
	rule.LastError = err.Error()
	p.mu.Unlock()
	pollsErr.Add(1)
}

// RuleStatus is one entry of the poller status report.
type RuleStatus struct {
	RuleID          string     `json:"rule_id"`
	IntervalMinutes int        `json:"interval_minutes"`
	WatchedField    string     `json:"watched_field"`
	LastPolledAt    *time.Time `json:"last_polled_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Status describes the poller for the status endpoints.
type Status struct {
	Running bool         `json:"running"`
	Rules   []RuleStatus `json:"rules"`
}

// GetStatus reports the running flag and every task's last poll info.
func (p *Poller) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{Running: p.running, Rules: []RuleStatus{}}
	for _, t := range p.tasks {
		st.Rules = append(st.Rules, RuleStatus{
			RuleID:          t.rule.RuleID,
			IntervalMinutes: t.rule.IntervalMinutes,
			WatchedField:    t.rule.WatchedField,
			LastPolledAt:    t.rule.LastPolledAt,
			LastError:       t.rule.LastError,
		})
	}
	return st
}
