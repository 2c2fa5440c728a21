// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package cep

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC)

func waterLevelRule(id string, op Operator, threshold float64, durationMin, windowMin int) *Rule {
	return &Rule{
		ID:              id,
		Name:            "water level watch",
		FieldName:       "water_level",
		Operator:        op,
		Threshold:       threshold,
		WindowMinutes:   windowMin,
		DurationMinutes: durationMin,
		ActionType:      ActionAlert,
		IsActive:        true,
	}
}

func levelEvent(minute int, source string, level float64) Event {
	return Event{
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
		SourceID:  source,
		EventType: "water_level",
		Data:      map[string]interface{}{"water_level": level, "station_id": source},
	}
}

func feed(e *Engine, events ...Event) []*TriggerResult {
	var all []*TriggerResult
	for _, ev := range events {
		all = append(all, e.Submit(ev)...)
	}
	return all
}

func TestFireAfterSustainedCondition(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i <= 12; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}

	require.Len(t, triggers, 1)
	tr := triggers[0]
	assert.Equal(t, "r1", tr.RuleID)
	assert.Equal(t, base.Add(10*time.Minute), tr.TriggeredAt)
	assert.Equal(t, 10*time.Minute, tr.ConditionMetDuration)
	assert.Len(t, tr.MatchingEvents, 11)
	for _, ev := range tr.MatchingEvents {
		assert.Equal(t, "S1", ev.SourceID)
	}
}

func TestNoFireOnShortRun(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i < 5; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}
	assert.Empty(t, triggers)
}

func TestInterruptResetsLatch(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	minute := 0
	for i := 0; i < 8; i++ {
		triggers = append(triggers, e.Submit(levelEvent(minute, "S1", 3.5))...)
		minute++
	}
	for i := 0; i < 3; i++ {
		triggers = append(triggers, e.Submit(levelEvent(minute, "S1", 2.0))...)
		minute++
	}
	for i := 0; i < 8; i++ {
		triggers = append(triggers, e.Submit(levelEvent(minute, "S1", 3.5))...)
		minute++
	}
	assert.Empty(t, triggers)
}

func TestPerSourceIndependence(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var events []Event
	for i := 0; i < 12; i++ {
		events = append(events, levelEvent(i, "S1", 3.5))
	}
	for i := 0; i < 15; i++ {
		events = append(events, levelEvent(i, "S2", 2.0))
	}
	for i := 0; i < 11; i++ {
		events = append(events, levelEvent(i, "S3", 4.0))
	}

	triggers := e.SubmitBatch(events)
	require.Len(t, triggers, 2)
	fired := map[string]bool{}
	for _, tr := range triggers {
		fired[tr.MatchingEvents[0].SourceID] = true
	}
	assert.True(t, fired["S1"])
	assert.True(t, fired["S3"])
	assert.False(t, fired["S2"])
}

func TestThresholdMiss(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i < 15; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 2.5))...)
	}
	assert.Empty(t, triggers)
}

func TestZeroDurationFiresImmediately(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 3.0, 0, 30)))

	triggers := e.Submit(levelEvent(0, "S1", 3.5))
	require.Len(t, triggers, 1)
	assert.Equal(t, time.Duration(0), triggers[0].ConditionMetDuration)
	assert.Len(t, triggers[0].MatchingEvents, 1)
}

func TestRearmRequiresFreshRun(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 2, 30)))

	var triggers []*TriggerResult
	// 0..2 satisfy: fires at minute 2.
	for i := 0; i <= 2; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}
	require.Len(t, triggers, 1)

	// Still satisfying right after the fire: the latch reopened at
	// minute 3, so the next fire needs two more minutes.
	triggers = append(triggers, e.Submit(levelEvent(3, "S1", 3.5))...)
	require.Len(t, triggers, 1)
	triggers = append(triggers, e.Submit(levelEvent(4, "S1", 3.5))...)
	triggers = append(triggers, e.Submit(levelEvent(5, "S1", 3.5))...)
	require.Len(t, triggers, 2)
}

func TestNearMissThenBreakDoesNotFire(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i < 10; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}
	// A non-satisfying event one second before the gate would close.
	breaking := Event{
		Timestamp: base.Add(10*time.Minute - time.Second),
		SourceID:  "S1",
		EventType: "water_level",
		Data:      map[string]interface{}{"water_level": 1.0},
	}
	triggers = append(triggers, e.Submit(breaking)...)
	assert.Empty(t, triggers)

	// The latch is clear: a satisfying event at minute 10 starts over.
	triggers = append(triggers, e.Submit(levelEvent(10, "S1", 3.5))...)
	assert.Empty(t, triggers)
}

func TestWindowEviction(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 99.0, 0, 30)))

	for i := 0; i < 60; i++ {
		e.Submit(levelEvent(i, "S1", 1.0))
	}
	st := e.GetStatus()
	// 30-minute window over one event per minute: the cutoff keeps
	// events at minutes 29..59 inclusive.
	assert.Equal(t, 31, st.BufferedEvents)
}

func TestMissingAndNonNumericFieldIgnored(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 0.0, 0, 30)))

	missing := Event{Timestamp: base, SourceID: "S1", Data: map[string]interface{}{"flow_rate": 10.0}}
	assert.Empty(t, e.Submit(missing))

	bogus := Event{Timestamp: base.Add(time.Minute), SourceID: "S1", Data: map[string]interface{}{"water_level": "not-a-number"}}
	assert.Empty(t, e.Submit(bogus))
}

func TestStringValuesCoerced(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 3.0, 0, 30)))

	ev := Event{Timestamp: base, SourceID: "S1", Data: map[string]interface{}{"water_level": "3.5"}}
	assert.Len(t, e.Submit(ev), 1)
}

func TestInactiveRuleSkipped(t *testing.T) {
	e := NewEngine()
	rule := waterLevelRule("r1", OpGreater, 0.0, 0, 30)
	rule.IsActive = false
	require.NoError(t, e.RegisterRule(rule))

	assert.Empty(t, e.Submit(levelEvent(0, "S1", 5.0)))
	assert.Equal(t, 0, e.GetStatus().BufferedEvents)
}

func TestUpdateRuleKeepsRunInProgress(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i <= 7; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}

	renamed := waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)
	renamed.Name = "renamed mid-run"
	require.NoError(t, e.UpdateRule(renamed))

	for i := 8; i <= 10; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}

	require.Len(t, triggers, 1)
	assert.Equal(t, base.Add(10*time.Minute), triggers[0].TriggeredAt)
	assert.Equal(t, "renamed mid-run", triggers[0].RuleName)
	assert.Len(t, triggers[0].MatchingEvents, 11)
}

func TestUpdateRuleKeepsTriggerCount(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))
	require.Len(t, e.Submit(levelEvent(0, "S1", 5.0)), 1)

	require.NoError(t, e.UpdateRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))
	got := e.Rule("r1")
	require.NotNil(t, got)
	assert.Equal(t, 1, got.TriggerCount)
	assert.NotNil(t, got.LastTriggeredAt)
}

func TestUpdateRuleUnknownIdRegisters(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.UpdateRule(waterLevelRule("r9", OpGreater, 0.0, 0, 30)))
	assert.Len(t, e.Submit(levelEvent(0, "S1", 5.0)), 1)
}

func TestSetRuleActiveKeepsLatch(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 10, 30)))

	var triggers []*TriggerResult
	for i := 0; i <= 7; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}

	// A below-threshold event while inactive is skipped entirely and
	// must not reset the latch.
	e.SetRuleActive("r1", false)
	assert.Empty(t, e.Submit(levelEvent(8, "S1", 2.0)))
	e.SetRuleActive("r1", true)

	for i := 9; i <= 10; i++ {
		triggers = append(triggers, e.Submit(levelEvent(i, "S1", 3.5))...)
	}
	require.Len(t, triggers, 1)
	assert.Equal(t, base.Add(10*time.Minute), triggers[0].TriggeredAt)
}

func TestUnregisterStopsTriggers(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))
	e.UnregisterRule("r1")
	assert.Empty(t, e.Submit(levelEvent(0, "S1", 5.0)))
	assert.Equal(t, 0, e.GetStatus().TotalRules)
}

func TestRegisterUnregisterIsNoop(t *testing.T) {
	e := NewEngine()
	before := e.GetStatus()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))
	e.UnregisterRule("r1")
	assert.Equal(t, before, e.GetStatus())
}

func TestCallbackPanicIsolated(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))

	var called int
	e.AddTriggerCallback(func(*TriggerResult) { panic("boom") })
	e.AddTriggerCallback(func(*TriggerResult) { called++ })

	triggers := e.Submit(levelEvent(0, "S1", 5.0))
	assert.Len(t, triggers, 1)
	assert.Equal(t, 1, called)

	// A later event still evaluates.
	triggers = e.Submit(levelEvent(2, "S1", 5.0))
	assert.Len(t, triggers, 1)
	assert.Equal(t, 2, called)
}

func TestCallbackOrder(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreater, 0.0, 0, 30)))

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		e.AddTriggerCallback(func(*TriggerResult) { order = append(order, i) })
	}
	e.Submit(levelEvent(0, "S1", 5.0))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSubmitBatchSortsByTimestamp(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.RegisterRule(waterLevelRule("r1", OpGreaterEqual, 3.0, 2, 30)))

	// Delivered out of order; sorted they form a contiguous 0..2 run.
	events := []Event{
		levelEvent(2, "S1", 3.5),
		levelEvent(0, "S1", 3.5),
		levelEvent(1, "S1", 3.5),
	}
	triggers := e.SubmitBatch(events)
	require.Len(t, triggers, 1)
	assert.Equal(t, base.Add(2*time.Minute), triggers[0].TriggeredAt)
}

func TestBatchMatchesOrderedSubmit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ops := []Operator{OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual}

	for trial := 0; trial < 50; trial++ {
		op := ops[rng.Intn(len(ops))]
		threshold := float64(rng.Intn(10))
		duration := rng.Intn(5)
		n := 20 + rng.Intn(20)

		var events []Event
		for i := 0; i < n; i++ {
			source := fmt.Sprintf("S%d", rng.Intn(3))
			events = append(events, levelEvent(i, source, float64(rng.Intn(12))))
		}
		shuffled := make([]Event, n)
		copy(shuffled, events)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		ordered := NewEngine()
		require.NoError(t, ordered.RegisterRule(waterLevelRule("r", op, threshold, duration, 30)))
		var want []*TriggerResult
		for _, ev := range events {
			want = append(want, ordered.Submit(ev)...)
		}

		batched := NewEngine()
		require.NoError(t, batched.RegisterRule(waterLevelRule("r", op, threshold, duration, 30)))
		got := batched.SubmitBatch(shuffled)

		require.Len(t, got, len(want), "trial %d op=%s threshold=%v duration=%d", trial, op, threshold, duration)
		for i := range want {
			assert.Equal(t, want[i].TriggeredAt, got[i].TriggeredAt)
			assert.Equal(t, want[i].ConditionMetDuration, got[i].ConditionMetDuration)
		}
	}
}

func TestTriggerCountAndLastTriggeredAt(t *testing.T) {
	e := NewEngine()
	rule := waterLevelRule("r1", OpGreater, 0.0, 0, 30)
	require.NoError(t, e.RegisterRule(rule))

	e.Submit(levelEvent(0, "S1", 5.0))
	e.Submit(levelEvent(1, "S1", 5.0))

	got := e.Rule("r1")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.TriggerCount)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, base.Add(time.Minute), *got.LastTriggeredAt)
}

func TestOperatorEvaluate(t *testing.T) {
	cases := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreater, 3.5, 3.0, true},
		{OpGreater, 3.0, 3.0, false},
		{OpGreaterEqual, 3.0, 3.0, true},
		{OpLess, 2.0, 3.0, true},
		{OpLessEqual, 3.0, 3.0, true},
		{OpEqual, 3.0, 3.0, true},
		{OpEqual, 3.0000001, 3.0, false},
		{OpNotEqual, 2.0, 3.0, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.op.Evaluate(tc.value, tc.threshold), "%v %s %v", tc.value, tc.op, tc.threshold)
	}
}

func TestNaNNeverSatisfies(t *testing.T) {
	nan := math.NaN()
	for _, op := range []Operator{OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual} {
		assert.False(t, op.Evaluate(nan, 0))
		assert.False(t, op.Evaluate(0, nan))
	}
}

func TestParseOperator(t *testing.T) {
	for _, s := range []string{">", ">=", "<", "<=", "==", "!="} {
		op, err := ParseOperator(s)
		require.NoError(t, err)
		assert.Equal(t, Operator(s), op)
	}
	_, err := ParseOperator("=>")
	assert.Error(t, err)
}

func TestRuleValidate(t *testing.T) {
	rule := waterLevelRule("r1", OpGreater, 1.0, 10, 5)
	assert.Error(t, rule.Validate(), "window smaller than duration")

	rule = waterLevelRule("r1", OpGreater, 1.0, 0, 0)
	assert.Error(t, rule.Validate(), "zero window")

	rule = waterLevelRule("", OpGreater, 1.0, 0, 30)
	assert.Error(t, rule.Validate(), "missing id")
}

func TestEventFromRow(t *testing.T) {
	now := base
	ev := EventFromRow(map[string]interface{}{"station_id": "ST001", "water_level": 3.2}, "water_level", now)
	assert.Equal(t, "ST001", ev.SourceID)
	assert.Equal(t, now, ev.Timestamp)

	ev = EventFromRow(map[string]interface{}{"source_id": 42}, "water_level", now)
	assert.Equal(t, "42", ev.SourceID)

	ev = EventFromRow(map[string]interface{}{"value": 1.0}, "water_level", now)
	assert.Equal(t, "unknown", ev.SourceID)

	measured := base.Add(-5 * time.Minute)
	ev = EventFromRow(map[string]interface{}{"measured_at": measured, "station_id": "ST001"}, "water_level", now)
	assert.Equal(t, measured, ev.Timestamp)
}
