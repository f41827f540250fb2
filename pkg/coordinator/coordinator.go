/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package coordinator drives the lifecycle of a tree of device agents: it
// starts agents top-down, confirms their state changes through agent events
// and propagates commands to children with bounded depth.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/observatory/pkg/agent"
	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

const (
	DefaultReceiveTimeout = 30 * time.Second
	DefaultStartupTimeout = 60 * time.Second

	tracerName = "github.com/carverauto/observatory/pkg/coordinator"
)

var (
	errInvalidTimeout = errors.New("timeouts must not be negative")
	errInvalidNode    = errors.New("node id and device id are required")
	errNilCommand     = errors.New("command is required")
)

// Config bounds the waits of the coordinator.
type Config struct {
	// ReceiveTimeout bounds each wait for an agent event.
	ReceiveTimeout models.Duration `json:"receive_timeout"`
	// StartupTimeout bounds the wait for a launched process to come up.
	StartupTimeout models.Duration `json:"startup_timeout"`
}

// Validate rejects negative timeouts. Zero values take the defaults.
func (c *Config) Validate() error {
	if c.ReceiveTimeout < 0 || c.StartupTimeout < 0 {
		return errInvalidTimeout
	}

	return nil
}

func (c Config) receiveTimeout() time.Duration {
	if c.ReceiveTimeout <= 0 {
		return DefaultReceiveTimeout
	}

	return time.Duration(c.ReceiveTimeout)
}

func (c Config) startupTimeout() time.Duration {
	if c.StartupTimeout <= 0 {
		return DefaultStartupTimeout
	}

	return time.Duration(c.StartupTimeout)
}

// NodeSpec describes a node to register.
type NodeSpec struct {
	NodeID     string
	DeviceID   string
	InstanceID string
	Kind       models.DeviceKind
	ParentID   string
}

// AgentNode is a snapshot of a registered node.
type AgentNode struct {
	NodeID     string
	DeviceID   string
	InstanceID string
	Kind       models.DeviceKind
	ParentID   string
	Children   []string
	ProcessID  string
	State      models.AgentState
	Running    bool
}

type node struct {
	spec     NodeSpec
	children []string
	busy     atomic.Bool

	mu        sync.Mutex
	processID string
	handle    *agent.Handle
	state     models.AgentState
}

func (n *node) acquire() error {
	if !n.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrBusy, n.spec.NodeID)
	}

	return nil
}

func (n *node) release() {
	n.busy.Store(false)
}

func (n *node) current() (*agent.Handle, models.AgentState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.handle, n.state
}

func (n *node) setState(state models.AgentState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = state
}

// Coordinator owns the node table and is the only writer of node process
// handles and states.
type Coordinator struct {
	launcher  Launcher
	gate      *eventgate.Gate
	dialer    Dialer
	assembler Assembler
	logger    logger.Logger
	cfg       Config
	tracer    trace.Tracer

	mu    sync.RWMutex
	nodes map[string]*node
	order []string
}

func New(launcher Launcher, gate *eventgate.Gate, dialer Dialer, assembler Assembler, log logger.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		launcher:  launcher,
		gate:      gate,
		dialer:    dialer,
		assembler: assembler,
		logger:    log,
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
		nodes:     make(map[string]*node),
	}
}

// Register adds a node. A parent must be registered before its children;
// children keep their registration order.
func (c *Coordinator) Register(spec NodeSpec) error {
	if spec.NodeID == "" || spec.DeviceID == "" {
		return errInvalidNode
	}

	if spec.Kind == "" {
		spec.Kind = models.DeviceKindPlatform
	}

	if spec.InstanceID == "" {
		spec.InstanceID = spec.DeviceID + "-agent"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[spec.NodeID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, spec.NodeID)
	}

	if spec.ParentID != "" {
		parent, ok := c.nodes[spec.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %s of %s", ErrUnknownNode, spec.ParentID, spec.NodeID)
		}

		parent.children = append(parent.children, spec.NodeID)
	}

	c.nodes[spec.NodeID] = &node{spec: spec}
	c.order = append(c.order, spec.NodeID)

	return nil
}

func (c *Coordinator) lookup(nodeID string) (*node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	return n, nil
}

func (c *Coordinator) childrenOf(n *node) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), n.children...)
}

func (c *Coordinator) parentDeviceID(n *node) string {
	if n.spec.ParentID == "" {
		return ""
	}

	parent, err := c.lookup(n.spec.ParentID)
	if err != nil {
		return ""
	}

	return parent.spec.DeviceID
}

// StartNode launches the agent of nodeID and returns its handle once the agent
// has reported UNINITIALIZED. A node that is already running returns its
// current handle.
func (c *Coordinator) StartNode(ctx context.Context, nodeID string) (*agent.Handle, error) {
	n, err := c.lookup(nodeID)
	if err != nil {
		return nil, err
	}

	if err := n.acquire(); err != nil {
		return nil, err
	}
	defer n.release()

	return c.startNode(ctx, n)
}

func (c *Coordinator) startNode(ctx context.Context, n *node) (*agent.Handle, error) {
	if h, _ := n.current(); h != nil {
		c.logger.Debug().Str("node_id", n.spec.NodeID).Msg("Agent already running")

		return h, nil
	}

	ctx, span := c.tracer.Start(ctx, "StartNode", trace.WithAttributes(
		attribute.String("node.id", n.spec.NodeID),
		attribute.String("device.id", n.spec.DeviceID),
	))
	defer span.End()

	start := time.Now()
	h, err := c.launch(ctx, n)

	recordAgentStart(ctx, string(n.spec.Kind), time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	return h, nil
}

func (c *Coordinator) launch(ctx context.Context, n *node) (*agent.Handle, error) {
	spec := n.spec

	// Expect before launching so the startup event cannot be missed.
	wait, err := c.gate.Expect(ctx, spec.DeviceID, eventgate.StateIs(models.StateUninitialized))
	if err != nil {
		return nil, fmt.Errorf("failed to watch startup of %s: %w", spec.NodeID, err)
	}

	cfg, err := c.assembler.BuildAgent(spec.Kind, spec.NodeID, spec.DeviceID, c.parentDeviceID(n))
	if err != nil {
		wait.Cancel()

		return nil, fmt.Errorf("failed to assemble config for %s: %w", spec.NodeID, err)
	}

	pid, err := c.launcher.Start(ctx, spec.InstanceID, cfg)
	if err != nil {
		wait.Cancel()

		return nil, fmt.Errorf("failed to launch agent for %s: %w", spec.NodeID, err)
	}

	startupTimeout := c.cfg.startupTimeout()

	running, err := c.launcher.AwaitRunning(ctx, pid, startupTimeout)
	if err != nil || !running {
		wait.Cancel()
		c.cancelProcess(ctx, spec.NodeID, pid)

		if err != nil {
			return nil, fmt.Errorf("failed waiting for %s to start: %w", spec.NodeID, err)
		}

		return nil, fmt.Errorf("%w: %s after %s", ErrLaunchTimeout, spec.NodeID, startupTimeout)
	}

	h, err := c.dialer.Dial(ctx, spec.DeviceID, pid)
	if err != nil {
		wait.Cancel()
		c.cancelProcess(ctx, spec.NodeID, pid)

		return nil, fmt.Errorf("failed to dial agent of %s: %w", spec.NodeID, err)
	}

	if _, err := wait.Await(ctx, c.cfg.receiveTimeout()); err != nil {
		c.cancelProcess(ctx, spec.NodeID, pid)

		if errors.Is(err, eventgate.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s: %w", ErrStartupConfirmationTimeout, spec.NodeID, err)
		}

		return nil, err
	}

	n.mu.Lock()
	n.processID = pid
	n.handle = h
	n.state = models.StateUninitialized
	n.mu.Unlock()

	c.logger.Info().
		Str("node_id", spec.NodeID).
		Str("device_id", spec.DeviceID).
		Str("process_id", pid).
		Msg("Agent started")

	return h, nil
}

func (c *Coordinator) cancelProcess(ctx context.Context, nodeID, pid string) {
	err := c.launcher.Cancel(context.WithoutCancel(ctx), pid)
	if err == nil || errors.Is(err, models.ErrProcessNotFound) {
		return
	}

	c.logger.Warn().Err(err).Str("node_id", nodeID).Str("process_id", pid).Msg("Failed to cancel agent process")
}

// StartTree starts rootID and then its subtree. A parent is confirmed before
// its children are launched; siblings start concurrently. Failed nodes keep
// their subtree from starting and are reported in an *AggregateError, except a
// failure of the root itself which is returned as is.
func (c *Coordinator) StartTree(ctx context.Context, rootID string) error {
	n, err := c.lookup(rootID)
	if err != nil {
		return err
	}

	return c.startSubtree(ctx, n)
}

func (c *Coordinator) startSubtree(ctx context.Context, n *node) error {
	if err := n.acquire(); err != nil {
		return err
	}

	_, err := c.startNode(ctx, n)
	n.release()

	if err != nil {
		return err
	}

	return c.fanOut(ctx, c.childrenOf(n), c.startSubtree)
}

// StopNode stops the agent of nodeID. Stopping a node whose process is already
// gone succeeds.
func (c *Coordinator) StopNode(ctx context.Context, nodeID string) error {
	n, err := c.lookup(nodeID)
	if err != nil {
		return err
	}

	return c.stopOne(ctx, n)
}

func (c *Coordinator) stopOne(ctx context.Context, n *node) error {
	if err := n.acquire(); err != nil {
		return err
	}
	defer n.release()

	return c.stopNode(ctx, n)
}

func (c *Coordinator) stopNode(ctx context.Context, n *node) error {
	n.mu.Lock()
	pid := n.processID
	n.mu.Unlock()

	if pid == "" {
		c.logger.Debug().Str("node_id", n.spec.NodeID).Msg("Agent not running, nothing to stop")

		return nil
	}

	err := c.launcher.Stop(ctx, n.spec.InstanceID)
	if errors.Is(err, models.ErrProcessNotFound) {
		// The instance may be unknown to the launcher while its process lives on.
		err = c.launcher.Cancel(ctx, pid)
	}

	if errors.Is(err, models.ErrProcessNotFound) {
		c.logger.Debug().Str("node_id", n.spec.NodeID).Str("process_id", pid).Msg("Agent process already gone")

		err = nil
	}

	if err != nil {
		return fmt.Errorf("failed to stop agent of %s: %w", n.spec.NodeID, err)
	}

	n.mu.Lock()
	n.processID = ""
	n.handle = nil
	n.state = ""
	n.mu.Unlock()

	c.logger.Info().Str("node_id", n.spec.NodeID).Str("process_id", pid).Msg("Agent stopped")

	return nil
}

// StopTree stops the subtree of rootID, children before their parent.
func (c *Coordinator) StopTree(ctx context.Context, rootID string) error {
	n, err := c.lookup(rootID)
	if err != nil {
		return err
	}

	return c.stopSubtree(ctx, n)
}

func (c *Coordinator) stopSubtree(ctx context.Context, n *node) error {
	agg := newAggregateError()

	if err := c.fanOut(ctx, c.childrenOf(n), c.stopSubtree); err != nil {
		agg.add(n.spec.NodeID, err)
	}

	if err := c.stopOne(ctx, n); err != nil {
		agg.add(n.spec.NodeID, err)
	}

	return agg.orNil()
}

// fanOut runs fn on each child concurrently and collects every failure.
func (c *Coordinator) fanOut(ctx context.Context, childIDs []string, fn func(context.Context, *node) error) error {
	var (
		g   errgroup.Group
		mu  sync.Mutex
		agg = newAggregateError()
	)

	for _, id := range childIDs {
		g.Go(func() error {
			child, err := c.lookup(id)
			if err == nil {
				err = fn(ctx, child)
			}

			if err != nil {
				mu.Lock()
				agg.add(id, err)
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return agg.orNil()
}

// Execute sends cmd to nodeID and, within the recursion cmd carries, to its
// descendants. The node's own state change is confirmed before children are
// commanded; a failure there stops the command from reaching them. Child
// failures are collected in an *AggregateError and nothing is rolled back.
func (c *Coordinator) Execute(ctx context.Context, nodeID string, cmd *models.AgentCommand) error {
	if cmd == nil {
		return errNilCommand
	}

	n, err := c.lookup(nodeID)
	if err != nil {
		return err
	}

	rec, err := cmd.Recursion()
	if err != nil {
		return err
	}

	return c.execute(ctx, n, cmd, rec)
}

func (c *Coordinator) execute(ctx context.Context, n *node, cmd *models.AgentCommand, rec models.Recursion) error {
	if err := n.acquire(); err != nil {
		return err
	}
	defer n.release()

	ctx, span := c.tracer.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("node.id", n.spec.NodeID),
		attribute.String("command", string(cmd.Command)),
		attribute.String("recursion", rec.String()),
	))
	defer span.End()

	err := c.apply(ctx, n, cmd.WithRecursion(rec))

	recordCommand(ctx, string(cmd.Command), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	var fanErr error

	if childRec, ok := rec.Descend(); ok {
		fanErr = c.fanOut(ctx, c.childrenOf(n), func(ctx context.Context, child *node) error {
			return c.execute(ctx, child, cmd, childRec)
		})
	}

	if cmd.Command != models.CommandShutdown {
		return fanErr
	}

	if err := c.stopNode(ctx, n); err != nil {
		agg := newAggregateError()
		if fanErr != nil {
			agg.add(n.spec.NodeID, fanErr)
		}

		agg.add(n.spec.NodeID, err)

		return agg
	}

	return fanErr
}

// apply runs cmd on the node's own agent and confirms the resulting state.
func (c *Coordinator) apply(ctx context.Context, n *node, cmd *models.AgentCommand) error {
	spec := n.spec

	h, from := n.current()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, spec.NodeID)
	}

	target, err := models.Transition(from, cmd.Command)
	if err != nil {
		return fmt.Errorf("%s on %s rejected: %w", cmd.Command, spec.NodeID, err)
	}

	if !cmd.Command.IsTransition() {
		state, err := h.ExecuteAgent(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s on %s failed: %w", cmd.Command, spec.NodeID, err)
		}

		n.setState(state)

		return nil
	}

	var wait *eventgate.Wait

	if target != from {
		if wait, err = c.gate.Expect(ctx, spec.DeviceID, eventgate.StateIs(target)); err != nil {
			return fmt.Errorf("failed to watch %s on %s: %w", cmd.Command, spec.NodeID, err)
		}
	}

	reported, err := h.ExecuteAgent(ctx, cmd)
	if err != nil {
		if wait != nil {
			wait.Cancel()
		}

		return fmt.Errorf("%s on %s failed: %w", cmd.Command, spec.NodeID, err)
	}

	if wait != nil {
		_, err := wait.Await(ctx, c.cfg.receiveTimeout())
		if err == nil {
			n.setState(target)

			return nil
		}

		if !errors.Is(err, eventgate.ErrTimeout) {
			return err
		}

		c.logger.Warn().
			Str("node_id", spec.NodeID).
			Str("command", string(cmd.Command)).
			Msg("No state event received, querying agent state")
	}

	if err := c.confirmState(ctx, n, h, cmd.Command, reported, target); err != nil {
		return err
	}

	n.setState(target)

	return nil
}

// confirmState checks the agent state directly when no event confirmed it.
func (c *Coordinator) confirmState(
	ctx context.Context, n *node, h *agent.Handle, cmd models.Command, reported, target models.AgentState) error {
	// A shut down agent may be gone already; its reply is all there is.
	if cmd == models.CommandShutdown && reported == target {
		return nil
	}

	state, err := h.GetState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrStateConfirmationTimeout, cmd, n.spec.NodeID, err)
	}

	if state != target {
		return fmt.Errorf("%w: %s on %s left agent in %s, expected %s",
			ErrStateConfirmationTimeout, cmd, n.spec.NodeID, state.Short(), target.Short())
	}

	return nil
}

func (c *Coordinator) command(ctx context.Context, nodeID string, cmd models.Command, rec models.Recursion) error {
	return c.Execute(ctx, nodeID, models.NewAgentCommand(cmd, rec))
}

func (c *Coordinator) Initialize(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandInitialize, rec)
}

func (c *Coordinator) GoActive(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandGoActive, rec)
}

func (c *Coordinator) Run(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandRun, rec)
}

func (c *Coordinator) StartMonitoring(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandStartMonitoring, rec)
}

func (c *Coordinator) StopMonitoring(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandStopMonitoring, rec)
}

func (c *Coordinator) Pause(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandPause, rec)
}

func (c *Coordinator) Resume(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandResume, rec)
}

func (c *Coordinator) Clear(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandClear, rec)
}

func (c *Coordinator) GoInactive(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandGoInactive, rec)
}

func (c *Coordinator) Reset(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandReset, rec)
}

// Shutdown returns agents to UNINITIALIZED and stops their processes.
func (c *Coordinator) Shutdown(ctx context.Context, nodeID string, rec models.Recursion) error {
	return c.command(ctx, nodeID, models.CommandShutdown, rec)
}

// ExecuteResource runs a resource command on the agent of nodeID only.
func (c *Coordinator) ExecuteResource(ctx context.Context, nodeID string, cmd *models.AgentCommand) (json.RawMessage, error) {
	if cmd == nil {
		return nil, errNilCommand
	}

	n, err := c.lookup(nodeID)
	if err != nil {
		return nil, err
	}

	if err := n.acquire(); err != nil {
		return nil, err
	}
	defer n.release()

	h, _ := n.current()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, nodeID)
	}

	result, err := h.ExecuteResource(ctx, cmd)

	recordCommand(ctx, string(cmd.Command), err)

	if err != nil {
		return nil, fmt.Errorf("%s on %s failed: %w", cmd.Command, nodeID, err)
	}

	return result, nil
}

// PingResource pings the resource behind the agent of nodeID.
func (c *Coordinator) PingResource(ctx context.Context, nodeID string) (string, error) {
	raw, err := c.ExecuteResource(ctx, nodeID, models.NewAgentCommand(models.CommandPingResource, models.RecurseSelf()))
	if err != nil {
		return "", err
	}

	var reply string
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("unexpected ping reply from %s: %w", nodeID, err)
	}

	return reply, nil
}

// Handle returns the handle of a running node.
func (c *Coordinator) Handle(nodeID string) (*agent.Handle, bool) {
	n, err := c.lookup(nodeID)
	if err != nil {
		return nil, false
	}

	h, _ := n.current()

	return h, h != nil
}

// State returns the last confirmed state of nodeID, empty when not running.
func (c *Coordinator) State(nodeID string) (models.AgentState, error) {
	n, err := c.lookup(nodeID)
	if err != nil {
		return "", err
	}

	_, state := n.current()

	return state, nil
}

// Nodes returns snapshots of every node in registration order.
func (c *Coordinator) Nodes() []AgentNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AgentNode, 0, len(c.order))

	for _, id := range c.order {
		n := c.nodes[id]

		n.mu.Lock()
		out = append(out, AgentNode{
			NodeID:     n.spec.NodeID,
			DeviceID:   n.spec.DeviceID,
			InstanceID: n.spec.InstanceID,
			Kind:       n.spec.Kind,
			ParentID:   n.spec.ParentID,
			Children:   append([]string(nil), n.children...),
			ProcessID:  n.processID,
			State:      n.state,
			Running:    n.handle != nil,
		})
		n.mu.Unlock()
	}

	return out
}

// Len reports the number of registered nodes.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}
