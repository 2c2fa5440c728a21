// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package cepsync mirrors the rule catalogue to an external CEP service
// over REST. The mirror is strictly optional: every failure degrades to
// a warning and the agent keeps detecting on its in-process engine.
package cepsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aquaops/aquaops-agent/pkg/rules"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// WireRule is the external service's rule representation. The service
// generates its own EPL from these fields; SQL never crosses the wire.
type WireRule struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Description              string `json:"description"`
	NaturalLanguageCondition string `json:"naturalLanguageCondition"`
	CheckIntervalMinutes     int    `json:"checkIntervalMinutes"`
	ActionType               string `json:"actionType"`
	AlertConfig              string `json:"alertConfig,omitempty"`
	ProcessConfig            string `json:"processConfig,omitempty"`
	IsActive                 bool   `json:"isActive"`
}

// EngineStatus is the remote engine's status document. Unreachable
// services report {status: "unavailable"} instead of an error.
type EngineStatus struct {
	Status      string `json:"status"`
	ActiveRules int    `json:"activeRules"`
}

// Client talks to one CEP service instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. The transport
// uses a 10 second dial timeout inside an overall 30 second limit.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: trimSlash(baseURL),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// ToWire converts a registry rule to the service's camelCase shape.
// Config objects travel as embedded JSON strings.
func ToWire(rule *rules.EventRule) (*WireRule, error) {
	w := &WireRule{
		ID:                       rule.ID,
		Name:                     rule.Name,
		Description:              rule.Description,
		NaturalLanguageCondition: rule.NaturalLanguageCondition,
		CheckIntervalMinutes:     rule.CheckIntervalMinutes,
		ActionType:               string(rule.ActionType),
		IsActive:                 rule.IsActive,
	}
	if rule.AlertConfig != nil {
		raw, err := json.Marshal(rule.AlertConfig)
		if err != nil {
			return nil, fmt.Errorf("encoding alert config: %w", err)
		}
		w.AlertConfig = string(raw)
	}
	if rule.ProcessConfig != nil {
		raw, err := json.Marshal(rule.ProcessConfig)
		if err != nil {
			return nil, fmt.Errorf("encoding process config: %w", err)
		}
		w.ProcessConfig = string(raw)
	}
	return w, nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cep service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cep service returned %d: %s", resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateRule mirrors a new rule.
func (c *Client) CreateRule(ctx context.Context, rule *rules.EventRule) error {
	wire, err := ToWire(rule)
	if err != nil {
		return err
	}
	return c.request(ctx, http.MethodPost, "/api/rules", nil, wire, nil)
}

// UpdateRule mirrors an update.
func (c *Client) UpdateRule(ctx context.Context, rule *rules.EventRule) error {
	wire, err := ToWire(rule)
	if err != nil {
		return err
	}
	return c.request(ctx, http.MethodPut, "/api/rules/"+rule.ID, nil, wire, nil)
}

// DeleteRule mirrors a deletion.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/rules/"+id, nil, nil, nil)
}

// ToggleRule mirrors an activation flip. The service toggles on its
// side; the active parameter documents intent for logging only.
func (c *Client) ToggleRule(ctx context.Context, id string, active bool) error {
	log.Debugf("toggling remote CEP rule %s to active=%v", id, active)
	return c.request(ctx, http.MethodPost, "/api/rules/"+id+"/toggle", nil, nil, nil)
}

// GetRules fetches all remote rules.
func (c *Client) GetRules(ctx context.Context) ([]WireRule, error) {
	var out []WireRule
	err := c.request(ctx, http.MethodGet, "/api/rules", nil, nil, &out)
	return out, err
}

// GetActiveRules fetches only active remote rules.
func (c *Client) GetActiveRules(ctx context.Context) ([]WireRule, error) {
	var out []WireRule
	err := c.request(ctx, http.MethodGet, "/api/rules/active", nil, nil, &out)
	return out, err
}

// SyncRules bulk-upserts the whole catalogue. Idempotent on the service
// side.
func (c *Client) SyncRules(ctx context.Context, ruleSet []*rules.EventRule) error {
	wire := make([]*WireRule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		w, err := ToWire(rule)
		if err != nil {
			return err
		}
		wire = append(wire, w)
	}
	log.Infof("syncing %d rules to remote CEP", len(wire))
	return c.request(ctx, http.MethodPost, "/api/rules/sync", nil, wire, nil)
}

// SendEvent forwards one event, typed by query parameter.
func (c *Client) SendEvent(ctx context.Context, eventType string, payload map[string]interface{}) error {
	q := url.Values{"eventType": []string{eventType}}
	return c.request(ctx, http.MethodPost, "/api/events/send", q, payload, nil)
}

// SendBulkEvents forwards a batch of one event type.
func (c *Client) SendBulkEvents(ctx context.Context, eventType string, payloads []map[string]interface{}) error {
	q := url.Values{"eventType": []string{eventType}}
	return c.request(ctx, http.MethodPost, "/api/events/send/bulk", q, payloads, nil)
}

// GetStatus reports the remote engine state. An unreachable service is
// a degraded status, never an error.
func (c *Client) GetStatus(ctx context.Context) *EngineStatus {
	var out EngineStatus
	if err := c.request(ctx, http.MethodGet, "/api/events/status", nil, nil, &out); err != nil {
		log.Warnf("remote CEP status unavailable: %v", err)
		return &EngineStatus{Status: "unavailable"}
	}
	return &out
}

// GetTriggers pages through the remote trigger history.
func (c *Client) GetTriggers(ctx context.Context, ruleID string, page, size int) (map[string]interface{}, error) {
	q := url.Values{
		"page": []string{strconv.Itoa(page)},
		"size": []string{strconv.Itoa(size)},
	}
	if ruleID != "" {
		q.Set("ruleId", ruleID)
	}
	var out map[string]interface{}
	err := c.request(ctx, http.MethodGet, "/api/events/triggers", q, nil, &out)
	return out, err
}

// Available reports whether the remote engine answers and is running.
func (c *Client) Available(ctx context.Context) bool {
	return c.GetStatus(ctx).Status == "running"
}
