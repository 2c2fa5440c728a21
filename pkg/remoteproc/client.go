// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package remoteproc talks JSON-RPC 2.0 to a process automation server
// running as a child process, one request and one response per line
// over the child's stdio.
package remoteproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

const protocolVersion = "2024-11-05"

// Error kinds callers can test with errors.Is.
var (
	ErrNotConnected = errors.New("remote process server not connected")
	ErrTimeout      = errors.New("remote process call timed out")
	ErrTransport    = errors.New("remote process transport failed")
	// ErrServerError marks a JSON-RPC error response, as opposed to a
	// transport failure.
	ErrServerError = errors.New("remote process server error")
)

// Config describes how to launch and talk to the server.
type Config struct {
	Command     string
	Args        []string
	Env         map[string]string
	CallTimeout time.Duration
}

// Tool is one entry of the server's tool catalogue.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolResult is the outcome of a tool call. Content holds the parsed
// JSON payload when the server returned one, else the raw text.
type ToolResult struct {
	Success bool        `json:"success"`
	Content interface{} `json:"content"`
	Error   string      `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Client owns the child process and serializes calls over its stdio.
type Client struct {
	cfg Config

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	connected bool
	requestID int64
	tools     []Tool
}

// NewClient builds a disconnected client. The child process starts on
// the first call, or on an explicit Connect.
func NewClient(cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect launches the child and performs the initialize handshake and
// the initial tools/list. Connecting an already-connected client is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrTransport, c.cfg.Command, err)
	}
	go drainStderr(stderr)

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)

	initResult, err := c.sendLocked(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"clientInfo": map[string]interface{}{
			"name":    "aquaops-event-detection",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.teardownLocked()
		return err
	}
	if initResult == nil {
		c.teardownLocked()
		return fmt.Errorf("%w: empty initialize response", ErrTransport)
	}
	c.connected = true

	if err := c.refreshToolsLocked(ctx); err != nil {
		log.Warnf("tool catalogue fetch failed: %v", err)
	}
	log.Infof("remote process server connected: %s (%d tools)", c.cfg.Command, len(c.tools))
	return nil
}

func (c *Client) refreshToolsLocked(ctx context.Context) error {
	raw, err := c.sendLocked(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return err
	}
	var listing struct {
		Tools []struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return fmt.Errorf("%w: decoding tools/list: %v", ErrTransport, err)
	}
	c.tools = c.tools[:0]
	for _, t := range listing.Tools {
		c.tools = append(c.tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return nil
}

// Disconnect terminates the child: SIGTERM, five seconds of grace, then
// SIGKILL.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.cmd == nil {
		c.connected = false
		return
	}
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.connected = false
}

// Tools returns the catalogue cached at connect time.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connected reports the connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// CallTool invokes a named tool, connecting first if needed. A server
// side error comes back as an unsuccessful ToolResult; transport and
// timeout failures come back as errors and force a reconnect on the
// next call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := c.sendLocked(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		if errors.Is(err, ErrServerError) {
			return &ToolResult{Success: false, Error: err.Error()}, nil
		}
		// Anything else poisons the line protocol.
		c.teardownLocked()
		return nil, err
	}
	return unwrapResult(raw), nil
}

// sendLocked writes one request line and reads one response line under
// the client mutex, bounded by the call timeout.
func (c *Client) sendLocked(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.stdin == nil || c.stdout == nil {
		return nil, ErrNotConnected
	}

	c.requestID++
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	type readOutcome struct {
		line []byte
		err  error
	}
	lines := make(chan readOutcome, 1)
	go func() {
		line, err := c.stdout.ReadBytes('\n')
		lines <- readOutcome{line, err}
	}()

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	var outcome readOutcome
	select {
	case outcome = <-lines:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.cfg.CallTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, method, ctx.Err())
	}
	if outcome.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, outcome.err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(outcome.line, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrServerError, resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

// unwrapResult applies the content convention: when result.content is
// an array whose first entry is {type: "text", text: ...}, the text is
// JSON-parsed, falling back to the raw string. Any other shape is
// passed through.
func unwrapResult(raw json.RawMessage) *ToolResult {
	var result struct {
		Content interface{} `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &ToolResult{Success: false, Error: fmt.Sprintf("undecodable result: %v", err)}
	}

	if items, ok := result.Content.([]interface{}); ok && len(items) > 0 {
		if first, ok := items[0].(map[string]interface{}); ok {
			if text, ok := first["text"].(string); ok {
				var parsed interface{}
				if err := json.Unmarshal([]byte(text), &parsed); err == nil {
					return &ToolResult{Success: true, Content: parsed}
				}
				return &ToolResult{Success: true, Content: text}
			}
		}
	}
	return &ToolResult{Success: true, Content: result.Content}
}

func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debugf("remote process stderr: %s", scanner.Text())
	}
}
