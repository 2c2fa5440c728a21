// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package persistentcache

import (
	"encoding/json"

	"github.com/aquaops/aquaops-agent/pkg/rules"
)

const rulesKey = "event_rules"

// RuleSnapshot persists the rule catalogue as JSON. It implements
// rules.Snapshotter.
type RuleSnapshot struct{}

// NewRuleSnapshot returns the file-backed snapshotter.
func NewRuleSnapshot() *RuleSnapshot {
	return &RuleSnapshot{}
}

// SaveRules writes the whole catalogue.
func (s *RuleSnapshot) SaveRules(ruleSet []*rules.EventRule) error {
	raw, err := json.Marshal(ruleSet)
	if err != nil {
		return err
	}
	return Write(rulesKey, string(raw))
}

// LoadRules reads the catalogue back. A missing snapshot is an empty
// catalogue.
func (s *RuleSnapshot) LoadRules() ([]*rules.EventRule, error) {
	raw, err := Read(rulesKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var ruleSet []*rules.EventRule
	if err := json.Unmarshal([]byte(raw), &ruleSet); err != nil {
		return nil, err
	}
	return ruleSet, nil
}
