// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package dispatcher turns CEP triggers into operator-visible actions:
// a notification log entry plus either a channel alert fan-out or a
// remote process execution.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/remoteproc"
	"github.com/aquaops/aquaops-agent/pkg/telemetry"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// Notification is one entry of the bounded notification log.
type Notification struct {
	ID           string                 `json:"id"`
	EventID      string                 `json:"event_id"`
	EventName    string                 `json:"event_name"`
	Message      string                 `json:"message"`
	CreatedAt    time.Time              `json:"created_at"`
	Acknowledged bool                   `json:"acknowledged"`
	ActionResult string                 `json:"action_result,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// ChannelAdapter delivers an alert over one channel (email, webhook).
// The "platform" channel is the notification log itself and has no
// adapter.
type ChannelAdapter interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// ProcessRunner starts a remote process for process-action rules.
// *remoteproc.WorkAssistant is the production implementation.
type ProcessRunner interface {
	ExecuteProcess(ctx context.Context, name string, params, execContext map[string]interface{}) *remoteproc.ExecutionResult
}

// TriggerObserver is notified of trigger bookkeeping, letting the rule
// registry stamp last_triggered_at without a package cycle.
type TriggerObserver func(ruleID string, at time.Time)

// Dispatcher consumes trigger results. HandleTrigger is registered as a
// CEP callback and never fails; every problem ends up in the log and in
// the notification's action result.
type Dispatcher struct {
	mu            sync.Mutex
	notifications []*Notification
	maxLog        int

	adapters  map[string]ChannelAdapter
	runner    ProcessRunner
	observers []TriggerObserver
}

// Option tweaks a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithMaxNotifications caps the log size.
func WithMaxNotifications(n int) Option {
	return func(d *Dispatcher) { d.maxLog = n }
}

// WithProcessRunner installs the remote process executor.
func WithProcessRunner(r ProcessRunner) Option {
	return func(d *Dispatcher) { d.runner = r }
}

// WithChannelAdapter registers a delivery channel.
func WithChannelAdapter(a ChannelAdapter) Option {
	return func(d *Dispatcher) { d.adapters[a.Name()] = a }
}

// NewDispatcher builds a dispatcher with an empty notification log.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		maxLog:   10000,
		adapters: map[string]ChannelAdapter{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddTriggerObserver subscribes bookkeeping to every handled trigger.
func (d *Dispatcher) AddTriggerObserver(obs TriggerObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, obs)
}

// HandleTrigger records the trigger and runs its action.
func (d *Dispatcher) HandleTrigger(result *cep.TriggerResult) {
	n := &Notification{
		ID:        uuid.NewString(),
		EventID:   result.RuleID,
		EventName: result.RuleName,
		Message:   d.message(result),
		CreatedAt: time.Now(),
		Payload: map[string]interface{}{
			"triggered_at":           result.TriggeredAt,
			"condition_met_duration": result.ConditionMetDuration.String(),
			"matching_events":        len(result.MatchingEvents),
			"action_type":            result.ActionType,
		},
	}

	telemetry.TriggersFired.WithLabelValues(result.RuleID, string(result.ActionType)).Inc()
	switch result.ActionType {
	case cep.ActionProcess:
		d.runProcess(result, n)
	default:
		d.sendAlert(result, n)
	}

	d.append(n)
	telemetry.NotificationsLogged.Inc()

	d.mu.Lock()
	observers := d.observers
	d.mu.Unlock()
	for _, obs := range observers {
		obs(result.RuleID, result.TriggeredAt)
	}
}

func (d *Dispatcher) message(result *cep.TriggerResult) string {
	if msg, ok := result.ActionConfig["message"].(string); ok && msg != "" {
		return msg
	}
	return result.RuleName
}

func (d *Dispatcher) sendAlert(result *cep.TriggerResult, n *Notification) {
	channels := alertChannels(result.ActionConfig)
	for _, name := range channels {
		if name == "platform" {
			// The log entry itself is the platform delivery.
			continue
		}
		adapter, ok := d.adapters[name]
		if !ok {
			log.Warnf("no adapter for alert channel %q (rule %s)", name, result.RuleID)
			continue
		}
		if err := adapter.Send(context.Background(), n); err != nil {
			log.Errorf("alert delivery failed on %q for rule %s: %v", name, result.RuleID, err)
			telemetry.ActionFailures.WithLabelValues(string(cep.ActionAlert)).Inc()
			n.ActionResult = "partial: " + err.Error()
		}
	}
	if n.ActionResult == "" {
		n.ActionResult = "alerted"
	}
}

func (d *Dispatcher) runProcess(result *cep.TriggerResult, n *Notification) {
	name, _ := result.ActionConfig["process_name"].(string)
	if name == "" {
		n.ActionResult = "error: no process_name configured"
		log.Errorf("process action without process_name for rule %s", result.RuleID)
		return
	}
	if d.runner == nil {
		n.ActionResult = "error: process runner unavailable"
		log.Errorf("process action with no runner configured for rule %s", result.RuleID)
		return
	}

	params, _ := result.ActionConfig["process_params"].(map[string]interface{})
	execContext := map[string]interface{}{
		"source": "event-detection",
	}
	if len(result.MatchingEvents) > 0 {
		execContext["event_data"] = result.MatchingEvents[0]
	}

	res := d.runner.ExecuteProcess(context.Background(), name, params, execContext)
	if res.Success {
		n.ActionResult = "process started: " + name
	} else {
		telemetry.ActionFailures.WithLabelValues(string(cep.ActionProcess)).Inc()
		n.ActionResult = "error: " + res.Error
	}
}

func alertChannels(config map[string]interface{}) []string {
	raw, ok := config["channels"]
	if !ok {
		return []string{"platform"}
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{"platform"}
}

// append adds to the bounded log, evicting the oldest acknowledged
// notification first, then the oldest outright.
func (d *Dispatcher) append(n *Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.notifications) >= d.maxLog {
		evict := -1
		for i, old := range d.notifications {
			if old.Acknowledged {
				evict = i
				break
			}
		}
		if evict == -1 {
			evict = 0
		}
		d.notifications = append(d.notifications[:evict], d.notifications[evict+1:]...)
	}
	d.notifications = append(d.notifications, n)
}

// Notifications returns the log, newest first.
func (d *Dispatcher) Notifications() []*Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Notification, len(d.notifications))
	for i, n := range d.notifications {
		copied := *n
		out[len(d.notifications)-1-i] = &copied
	}
	return out
}

// Acknowledge marks a notification as seen.
func (d *Dispatcher) Acknowledge(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.notifications {
		if n.ID == id {
			n.Acknowledged = true
			return true
		}
	}
	return false
}
