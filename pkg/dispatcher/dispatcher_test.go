// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/remoteproc"
)

type fakeAdapter struct {
	name string
	sent []*Notification
	err  error
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Send(_ context.Context, n *Notification) error {
	a.sent = append(a.sent, n)
	return a.err
}

type fakeRunner struct {
	calls []string
	ctxs  []map[string]interface{}
	fail  bool
}

func (r *fakeRunner) ExecuteProcess(_ context.Context, name string, _, execContext map[string]interface{}) *remoteproc.ExecutionResult {
	r.calls = append(r.calls, name)
	r.ctxs = append(r.ctxs, execContext)
	if r.fail {
		return &remoteproc.ExecutionResult{ProcessName: name, Error: "server down"}
	}
	return &remoteproc.ExecutionResult{Success: true, ProcessName: name}
}

func alertTrigger(config map[string]interface{}) *cep.TriggerResult {
	return &cep.TriggerResult{
		RuleID:      "r1",
		RuleName:    "수위 감시",
		TriggeredAt: time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC),
		MatchingEvents: []cep.Event{
			{SourceID: "ST001", EventType: "water_level", Data: map[string]interface{}{"water_level": 3.5}},
		},
		ActionType:   cep.ActionAlert,
		ActionConfig: config,
	}
}

func TestAlertRecordsNotification(t *testing.T) {
	d := NewDispatcher()
	d.HandleTrigger(alertTrigger(map[string]interface{}{"message": "수위 초과"}))

	got := d.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].EventID)
	assert.Equal(t, "수위 초과", got[0].Message)
	assert.Equal(t, "alerted", got[0].ActionResult)
	assert.False(t, got[0].Acknowledged)
}

func TestAlertDefaultsMessageToRuleName(t *testing.T) {
	d := NewDispatcher()
	d.HandleTrigger(alertTrigger(nil))
	require.Len(t, d.Notifications(), 1)
	assert.Equal(t, "수위 감시", d.Notifications()[0].Message)
}

func TestAlertFansOutToAdapters(t *testing.T) {
	email := &fakeAdapter{name: "email"}
	webhook := &fakeAdapter{name: "webhook", err: errors.New("503")}
	d := NewDispatcher(WithChannelAdapter(email), WithChannelAdapter(webhook))

	d.HandleTrigger(alertTrigger(map[string]interface{}{
		"channels": []interface{}{"platform", "email", "webhook"},
	}))

	// One channel failing does not block the others.
	assert.Len(t, email.sent, 1)
	assert.Len(t, webhook.sent, 1)
	got := d.Notifications()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].ActionResult, "503")
}

func TestUnknownChannelIsSkipped(t *testing.T) {
	d := NewDispatcher()
	d.HandleTrigger(alertTrigger(map[string]interface{}{"channels": []interface{}{"carrier-pigeon"}}))
	require.Len(t, d.Notifications(), 1)
	assert.Equal(t, "alerted", d.Notifications()[0].ActionResult)
}

func TestProcessAction(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(WithProcessRunner(runner))

	tr := alertTrigger(nil)
	tr.ActionType = cep.ActionProcess
	tr.ActionConfig = map[string]interface{}{
		"process_name":   "펌프_가동률_조정",
		"process_params": map[string]interface{}{"rate": 80},
	}
	d.HandleTrigger(tr)

	require.Equal(t, []string{"펌프_가동률_조정"}, runner.calls)
	require.Len(t, runner.ctxs, 1)
	assert.Equal(t, "event-detection", runner.ctxs[0]["source"])
	assert.NotNil(t, runner.ctxs[0]["event_data"])

	got := d.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "process started: 펌프_가동률_조정", got[0].ActionResult)
}

func TestProcessActionFailureRecorded(t *testing.T) {
	runner := &fakeRunner{fail: true}
	d := NewDispatcher(WithProcessRunner(runner))

	tr := alertTrigger(nil)
	tr.ActionType = cep.ActionProcess
	tr.ActionConfig = map[string]interface{}{"process_name": "x"}
	d.HandleTrigger(tr)

	require.Len(t, d.Notifications(), 1)
	assert.Equal(t, "error: server down", d.Notifications()[0].ActionResult)
}

func TestProcessActionWithoutName(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(WithProcessRunner(runner))

	tr := alertTrigger(nil)
	tr.ActionType = cep.ActionProcess
	tr.ActionConfig = map[string]interface{}{}
	d.HandleTrigger(tr)

	assert.Empty(t, runner.calls)
	require.Len(t, d.Notifications(), 1)
	assert.Contains(t, d.Notifications()[0].ActionResult, "no process_name")
}

func TestProcessActionWithoutRunner(t *testing.T) {
	d := NewDispatcher()
	tr := alertTrigger(nil)
	tr.ActionType = cep.ActionProcess
	tr.ActionConfig = map[string]interface{}{"process_name": "x"}
	d.HandleTrigger(tr)
	require.Len(t, d.Notifications(), 1)
	assert.Contains(t, d.Notifications()[0].ActionResult, "unavailable")
}

func TestAcknowledge(t *testing.T) {
	d := NewDispatcher()
	d.HandleTrigger(alertTrigger(nil))
	id := d.Notifications()[0].ID

	assert.True(t, d.Acknowledge(id))
	assert.True(t, d.Notifications()[0].Acknowledged)
	assert.False(t, d.Acknowledge("missing"))
}

func TestLogEvictionPrefersAcknowledged(t *testing.T) {
	d := NewDispatcher(WithMaxNotifications(3))
	for i := 0; i < 3; i++ {
		tr := alertTrigger(map[string]interface{}{"message": fmt.Sprintf("n%d", i)})
		d.HandleTrigger(tr)
	}

	// Newest first: n2, n1, n0. Acknowledge n1.
	got := d.Notifications()
	require.Len(t, got, 3)
	require.True(t, d.Acknowledge(got[1].ID))

	d.HandleTrigger(alertTrigger(map[string]interface{}{"message": "n3"}))
	messages := []string{}
	for _, n := range d.Notifications() {
		messages = append(messages, n.Message)
	}
	// n1 was evicted even though n0 is older.
	assert.Equal(t, []string{"n3", "n2", "n0"}, messages)

	// With nothing acknowledged, the oldest goes.
	d.HandleTrigger(alertTrigger(map[string]interface{}{"message": "n4"}))
	messages = messages[:0]
	for _, n := range d.Notifications() {
		messages = append(messages, n.Message)
	}
	assert.Equal(t, []string{"n4", "n3", "n2"}, messages)
}

func TestTriggerObserver(t *testing.T) {
	d := NewDispatcher()
	var seen []string
	d.AddTriggerObserver(func(ruleID string, _ time.Time) { seen = append(seen, ruleID) })
	d.HandleTrigger(alertTrigger(nil))
	assert.Equal(t, []string{"r1"}, seen)
}
