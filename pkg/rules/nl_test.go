// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aquaops/aquaops-agent/pkg/cep"
)

func TestParseConditionKorean(t *testing.T) {
	c := ParseCondition("수위가 2m 초과 1시간 이상 지속")
	assert.Equal(t, "water_level", c.FieldName)
	assert.Equal(t, cep.OpGreater, c.Operator)
	assert.Equal(t, 2.0, c.Threshold)
	assert.Equal(t, 60, c.DurationMinutes)
	assert.Equal(t, 120, c.WindowMinutes)
}

func TestParseConditionFields(t *testing.T) {
	assert.Equal(t, "flow_rate", ParseCondition("유량이 100 이하").FieldName)
	assert.Equal(t, "turbidity", ParseCondition("탁도 0.5 초과").FieldName)
	assert.Equal(t, "turbidity", ParseCondition("turbidity above 0.5").FieldName)
	assert.Equal(t, "value", ParseCondition("뭔가 이상하면 알려줘").FieldName)
}

func TestParseConditionOperators(t *testing.T) {
	assert.Equal(t, cep.OpGreater, ParseCondition("수위 3 초과").Operator)
	assert.Equal(t, cep.OpLess, ParseCondition("수위 3 미만").Operator)
	assert.Equal(t, cep.OpLessEqual, ParseCondition("수위 3 이하").Operator)
	assert.Equal(t, cep.OpGreaterEqual, ParseCondition("수위 3").Operator)
}

func TestParseConditionDuration(t *testing.T) {
	assert.Equal(t, 30, ParseCondition("수위 3m 30분 지속").DurationMinutes)
	assert.Equal(t, 120, ParseCondition("수위 3m 2시간 이상").DurationMinutes)
	assert.Equal(t, 0, ParseCondition("수위 3m 초과").DurationMinutes)
}

func TestParseConditionWindowFloor(t *testing.T) {
	// Short holds still get the 30 minute default window.
	assert.Equal(t, 30, ParseCondition("수위 3m 5분 지속").WindowMinutes)
	assert.Equal(t, 30, ParseCondition("수위 3m 초과").WindowMinutes)
	assert.Equal(t, 60, ParseCondition("수위 3m 30분 지속").WindowMinutes)
}

func TestParseConditionDefaults(t *testing.T) {
	c := ParseCondition("")
	assert.Equal(t, "value", c.FieldName)
	assert.Equal(t, cep.OpGreaterEqual, c.Operator)
	assert.Equal(t, 0.0, c.Threshold)
	assert.Equal(t, 0, c.DurationMinutes)
	assert.Equal(t, 30, c.WindowMinutes)
}

func TestParseChatIntentInterval(t *testing.T) {
	intent := ParseChatIntent("5분마다 수위 3m 초과 확인해줘")
	assert.Equal(t, 5, intent.CheckIntervalMinutes)
	assert.Equal(t, 3.0, intent.Threshold)

	intent = ParseChatIntent("1시간마다 확인")
	assert.Equal(t, 60, intent.CheckIntervalMinutes)

	intent = ParseChatIntent("수위 3m 초과시 알려줘")
	assert.Equal(t, 10, intent.CheckIntervalMinutes)
}

func TestParseChatIntentAction(t *testing.T) {
	assert.Equal(t, cep.ActionProcess, ParseChatIntent("수위 3m 초과시 펌프 제어 프로세스 실행").ActionType)
	assert.Equal(t, cep.ActionAlert, ParseChatIntent("수위 3m 초과시 알려줘").ActionType)
}

func TestEvaluateRowGate(t *testing.T) {
	assert.True(t, EvaluateRowGate("rows > 0", 1))
	assert.False(t, EvaluateRowGate("rows > 0", 0))
	assert.True(t, EvaluateRowGate("rows >= 3", 3))
	assert.True(t, EvaluateRowGate("rows == 0", 0))
	assert.True(t, EvaluateRowGate("rows != 2", 3))
	assert.True(t, EvaluateRowGate("rows>5", 6))

	// Unparseable expressions fall back to rows > 0.
	assert.True(t, EvaluateRowGate("whenever", 1))
	assert.False(t, EvaluateRowGate("whenever", 0))
	assert.True(t, EvaluateRowGate("rows < 5", 1), "unsupported operator uses the fallback")
	assert.False(t, EvaluateRowGate("rows < 5", 0))
}
