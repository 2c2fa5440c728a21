// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aquaops/aquaops-agent/pkg/cep"
)

// Condition is what ParseCondition extracts from a natural language
// rule description. Fields the text does not mention keep the noted
// defaults.
type Condition struct {
	FieldName       string       `json:"field_name"`
	Operator        cep.Operator `json:"operator"`
	Threshold       float64      `json:"threshold"`
	DurationMinutes int          `json:"duration_minutes"`
	WindowMinutes   int          `json:"window_minutes"`
}

// ChatIntent is the richer extraction used by the chat endpoint: the
// condition plus scheduling and action hints.
type ChatIntent struct {
	Condition
	CheckIntervalMinutes int            `json:"check_interval_minutes"`
	ActionType           cep.ActionType `json:"action_type"`
}

// Field lexicon. Korean operations vocabulary first, with the English
// equivalents the web console sends.
var fieldLexicon = []struct {
	keyword string
	field   string
}{
	{"수위", "water_level"},
	{"water level", "water_level"},
	{"water_level", "water_level"},
	{"유량", "flow_rate"},
	{"flow rate", "flow_rate"},
	{"flow_rate", "flow_rate"},
	{"탁도", "turbidity"},
	{"turbidity", "turbidity"},
}

var operatorLexicon = []struct {
	keyword string
	op      cep.Operator
}{
	{"초과", cep.OpGreater},
	{"미만", cep.OpLess},
	{"이하", cep.OpLessEqual},
}

var (
	thresholdRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:m|mm|cm|ntu|℃|도|톤|t)?`)
	durationRe  = regexp.MustCompile(`(\d+)\s*(분|시간).{0,5}(지속|이상)`)
	intervalRe  = regexp.MustCompile(`(\d+)\s*(분|시간)\s*마다`)
)

const defaultWindowMinutes = 30

// ParseCondition turns a natural language condition into CEP rule
// parameters. Unrecognized text degrades to defaults (field "value",
// operator >=, threshold 0, duration 0) rather than failing, so a rule
// is always registrable.
func ParseCondition(text string) Condition {
	lowered := strings.ToLower(text)

	c := Condition{
		FieldName: "value",
		Operator:  cep.OpGreaterEqual,
	}
	for _, entry := range fieldLexicon {
		if strings.Contains(lowered, entry.keyword) {
			c.FieldName = entry.field
			break
		}
	}
	for _, entry := range operatorLexicon {
		if strings.Contains(lowered, entry.keyword) {
			c.Operator = entry.op
			break
		}
	}
	// Duration and interval phrases carry their own numbers; blank them
	// out so the first remaining number is the threshold.
	withoutTimes := durationRe.ReplaceAllString(lowered, " ")
	withoutTimes = intervalRe.ReplaceAllString(withoutTimes, " ")
	if m := thresholdRe.FindStringSubmatch(withoutTimes); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.Threshold = v
		}
	}
	if m := durationRe.FindStringSubmatch(lowered); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			if m[2] == "시간" {
				v *= 60
			}
			c.DurationMinutes = v
		}
	}

	// The buffer must outlast the hold requirement with headroom.
	c.WindowMinutes = 2 * c.DurationMinutes
	if c.WindowMinutes < defaultWindowMinutes {
		c.WindowMinutes = defaultWindowMinutes
	}
	return c
}

// ParseChatIntent extracts a full rule intent from a chat message: the
// condition, the polling interval and the requested action.
func ParseChatIntent(text string) ChatIntent {
	lowered := strings.ToLower(text)

	intent := ChatIntent{
		Condition:            ParseCondition(text),
		CheckIntervalMinutes: 10,
		ActionType:           cep.ActionAlert,
	}
	if m := intervalRe.FindStringSubmatch(lowered); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			if m[2] == "시간" {
				v *= 60
			}
			intent.CheckIntervalMinutes = v
		}
	}
	if strings.Contains(lowered, "프로세스") || strings.Contains(lowered, "실행") {
		intent.ActionType = cep.ActionProcess
	}
	return intent
}
