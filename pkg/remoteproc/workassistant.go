// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package remoteproc

import (
	"context"

	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// WorkAssistant wraps the client with the process automation server's
// tool vocabulary: search, execute, status.
type WorkAssistant struct {
	client *Client
}

// NewWorkAssistant builds the wrapper around a client.
func NewWorkAssistant(client *Client) *WorkAssistant {
	return &WorkAssistant{client: client}
}

// ExecutionResult is what ExecuteProcess reports back to the caller.
type ExecutionResult struct {
	Success     bool        `json:"success"`
	ProcessName string      `json:"process_name"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// SearchProcesses finds runnable processes matching the query. A failed
// call degrades to an empty list.
func (w *WorkAssistant) SearchProcesses(ctx context.Context, query string) []interface{} {
	result, err := w.client.CallTool(ctx, "search_processes", map[string]interface{}{
		"query": query,
	})
	if err != nil {
		log.Warnf("process search failed: %v", err)
		return nil
	}
	if !result.Success {
		log.Warnf("process search failed: %s", result.Error)
		return nil
	}
	if list, ok := result.Content.([]interface{}); ok {
		return list
	}
	return []interface{}{result.Content}
}

// ExecuteProcess runs a named process with parameters and an execution
// context describing why it was started.
func (w *WorkAssistant) ExecuteProcess(ctx context.Context, name string, params, execContext map[string]interface{}) *ExecutionResult {
	if params == nil {
		params = map[string]interface{}{}
	}
	if execContext == nil {
		execContext = map[string]interface{}{}
	}

	result, err := w.client.CallTool(ctx, "execute_process", map[string]interface{}{
		"process_name": name,
		"parameters":   params,
		"context":      execContext,
	})
	if err != nil {
		log.Errorf("process execution failed: %s: %v", name, err)
		return &ExecutionResult{ProcessName: name, Error: err.Error()}
	}
	if !result.Success {
		return &ExecutionResult{ProcessName: name, Error: result.Error}
	}

	log.Infof("process executed: %s", name)
	return &ExecutionResult{Success: true, ProcessName: name, Result: result.Content}
}

// GetProcessStatus fetches the state of a prior execution.
func (w *WorkAssistant) GetProcessStatus(ctx context.Context, executionID string) (interface{}, error) {
	result, err := w.client.CallTool(ctx, "get_process_status", map[string]interface{}{
		"execution_id": executionID,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, ErrServerError
	}
	return result.Content, nil
}

// Close shuts the underlying client down.
func (w *WorkAssistant) Close() {
	w.client.Disconnect()
}
