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

// Package simulator runs simulated platform and instrument agents. They follow
// the agent lifecycle, answer agent requests, publish state events and emit
// data samples while monitoring.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

var (
	// ErrAgentNotFound is returned when no simulated agent serves an origin.
	ErrAgentNotFound = errors.New("simulated agent not found")

	errNoResourceID     = errors.New("agent configuration has no resource id")
	errInjectedFailure  = errors.New("injected failure")
	errUnknownAttribute = errors.New("unknown attribute")
)

const (
	// DefaultSampleInterval is the pause between data samples while monitoring.
	DefaultSampleInterval = time.Second

	pong            = "PONG"
	portStateOn     = "ON"
	portStateOff    = "OFF"
	kwargMetadata   = "metadata"
	kwargPorts      = "ports"
	kwargParams     = "params"
	driverKeyAttrs  = "attributes"
	driverKeyPorts  = "ports"
	instrumentTemp  = "temp"
	instrumentCond  = "conductivity"
	instrumentPress = "pressure"
)

// SamplePublisher emits data samples.
type SamplePublisher interface {
	Publish(ctx context.Context, sample *models.DataSample) error
}

// Agent is one simulated device agent.
type Agent struct {
	origin         string
	cfg            *models.AgentInstanceConfig
	events         eventgate.Publisher
	samples        SamplePublisher
	logger         logger.Logger
	sampleInterval time.Duration
	silent         bool
	failing        map[models.Command]bool
	onShutdown     func()

	mu           sync.Mutex
	state        models.AgentState
	attrs        map[string]models.AttributeDefinition
	values       map[string]interface{}
	ports        map[string]string
	stopSampling context.CancelFunc
	sampling     sync.WaitGroup
	seq          uint64
	closed       bool
}

type Option func(*Agent)

// WithSamplePublisher makes the agent emit data samples while monitoring.
func WithSamplePublisher(p SamplePublisher) Option {
	return func(a *Agent) { a.samples = p }
}

func WithSampleInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.sampleInterval = d
		}
	}
}

// Silent suppresses every event the agent would publish.
func Silent() Option {
	return func(a *Agent) { a.silent = true }
}

// FailCommands makes the agent reject the given commands with an internal error.
func FailCommands(cmds ...models.Command) Option {
	return func(a *Agent) {
		for _, cmd := range cmds {
			a.failing[cmd] = true
		}
	}
}

// WithShutdownHook is called, in its own goroutine, after SHUTDOWN succeeds.
func WithShutdownHook(fn func()) Option {
	return func(a *Agent) { a.onShutdown = fn }
}

// New builds an agent for cfg. It does nothing until Start.
func New(cfg *models.AgentInstanceConfig, events eventgate.Publisher, log logger.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil || cfg.Agent.ResourceID == "" {
		return nil, errNoResourceID
	}

	a := &Agent{
		origin:         cfg.Agent.ResourceID,
		cfg:            cfg,
		events:         events,
		logger:         log.WithComponent("sim-" + cfg.Agent.ResourceID),
		sampleInterval: DefaultSampleInterval,
		failing:        make(map[models.Command]bool),
		state:          models.StateUninitialized,
	}

	for _, opt := range opts {
		opt(a)
	}

	attrs, ports, err := decodeDriverConfig(cfg.DriverConfig)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.origin, err)
	}

	a.attrs = attrs
	a.values = make(map[string]interface{}, len(attrs))
	a.ports = make(map[string]string, len(ports))

	for id, attr := range attrs {
		a.values[id] = attr.MinVal
	}

	for id := range ports {
		a.ports[id] = portStateOff
	}

	return a, nil
}

// Origin is the device id the agent drives.
func (a *Agent) Origin() string { return a.origin }

// State is the agent's current lifecycle state.
func (a *Agent) State() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Start announces the agent in UNINITIALIZED.
func (a *Agent) Start(ctx context.Context) error {
	a.publish(ctx, &models.AgentEvent{
		Type:  models.EventTypeAgentState,
		State: models.StateUninitialized,
	})

	return nil
}

// Close stops sampling and waits for the sampler to exit. A closed agent
// still answers requests but never samples again.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.stopSamplingLocked()
	a.mu.Unlock()

	a.sampling.Wait()
}

// Handle answers one agent request.
func (a *Agent) Handle(ctx context.Context, req *models.AgentRequest) *models.AgentResponse {
	switch req.Op {
	case models.OpGetAgentState:
		return &models.AgentResponse{State: a.State()}
	case models.OpPingAgent:
		state := a.State()
		if state == models.StateUninitialized {
			return errorResponse(state, models.ErrorCodeInvalidState, "ping_agent not handled in "+state.Short())
		}

		return resultResponse(state, pong)
	case models.OpExecuteAgent:
		return a.executeAgent(ctx, req.Command)
	case models.OpExecuteResource:
		return a.executeResource(req.Command)
	default:
		return errorResponse(a.State(), models.ErrorCodeUnknownCommand, "unknown op "+string(req.Op))
	}
}

func (a *Agent) executeAgent(ctx context.Context, cmd *models.AgentCommand) *models.AgentResponse {
	if cmd == nil {
		return errorResponse(a.State(), models.ErrorCodeUnknownCommand, "missing command")
	}

	if !cmd.Command.IsTransition() {
		return a.executeResource(cmd)
	}

	a.mu.Lock()

	from := a.state

	if a.failing[cmd.Command] {
		a.mu.Unlock()

		return errorResponse(from, models.ErrorCodeInternal, fmt.Sprintf("%s: %v", cmd.Command, errInjectedFailure))
	}

	to, err := models.Transition(from, cmd.Command)
	if err != nil {
		a.mu.Unlock()

		return transitionError(from, err)
	}

	a.state = to

	if to == models.StateMonitoring && from != models.StateMonitoring {
		a.startSamplingLocked()
	} else if from == models.StateMonitoring && to != models.StateMonitoring {
		a.stopSamplingLocked()
	}

	switch {
	case from == models.StateInactive && to == models.StateIdle:
		a.setPortsLocked(portStateOn)
	case to == models.StateInactive, to == models.StateUninitialized:
		a.setPortsLocked(portStateOff)
	}

	a.mu.Unlock()

	a.logger.Debug().Str("command", string(cmd.Command)).Str("from", from.Short()).Str("to", to.Short()).Msg("Transition")

	if to != from {
		a.publish(ctx, &models.AgentEvent{Type: models.EventTypeAgentState, State: to})
	}

	a.publish(ctx, &models.AgentEvent{
		Type:    models.EventTypeAgentLifecycle,
		SubType: string(cmd.Command),
		State:   to,
		Values:  map[string]interface{}{"from": string(from), "to": string(to)},
	})

	if cmd.Command == models.CommandShutdown && a.onShutdown != nil {
		go a.onShutdown()
	}

	return &models.AgentResponse{State: to}
}

func (a *Agent) executeResource(cmd *models.AgentCommand) *models.AgentResponse {
	if cmd == nil {
		return errorResponse(a.State(), models.ErrorCodeUnknownCommand, "missing command")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cmd.Command.IsTransition() {
		return errorResponse(a.state, models.ErrorCodeUnknownCommand, string(cmd.Command)+" is not a resource command")
	}

	if a.failing[cmd.Command] {
		return errorResponse(a.state, models.ErrorCodeInternal, fmt.Sprintf("%s: %v", cmd.Command, errInjectedFailure))
	}

	if _, err := models.Transition(a.state, cmd.Command); err != nil {
		return transitionError(a.state, err)
	}

	switch cmd.Command {
	case models.CommandPingResource:
		return resultResponse(a.state, pong)
	case models.CommandGetResource:
		return resultResponse(a.state, a.getResourceLocked(cmd))
	case models.CommandSetResource:
		applied, err := a.setResourceLocked(cmd)
		if err != nil {
			return errorResponse(a.state, models.ErrorCodeInternal, err.Error())
		}

		return resultResponse(a.state, applied)
	case models.CommandExecuteResource:
		name := "unnamed"
		if len(cmd.Args) > 0 {
			name = fmt.Sprint(cmd.Args[0])
		}

		return resultResponse(a.state, map[string]interface{}{"command": name, "result": "OK"})
	default:
		return errorResponse(a.state, models.ErrorCodeUnknownCommand, string(cmd.Command))
	}
}

func (a *Agent) getResourceLocked(cmd *models.AgentCommand) interface{} {
	if _, ok := cmd.Kwargs[kwargMetadata]; ok {
		md := map[string]interface{}{
			"resource_id": a.origin,
			"device_type": string(a.cfg.DeviceType),
			"org_name":    a.cfg.OrgName,
			"attributes":  len(a.attrs),
		}

		if a.cfg.PlatformConfig != nil {
			md["platform_id"] = a.cfg.PlatformConfig.PlatformID
			md["parent_platform_id"] = a.cfg.PlatformConfig.ParentPlatformID
		}

		return md
	}

	if _, ok := cmd.Kwargs[kwargPorts]; ok {
		ports := make(map[string]interface{}, len(a.ports))
		for id, state := range a.ports {
			ports[id] = map[string]interface{}{"state": state}
		}

		return ports
	}

	values := make(map[string]interface{}, len(a.values))

	if len(cmd.Args) == 0 {
		for id, v := range a.values {
			values[id] = v
		}

		return values
	}

	for _, arg := range cmd.Args {
		id := fmt.Sprint(arg)
		if v, ok := a.values[id]; ok {
			values[id] = v
		}
	}

	return values
}

func (a *Agent) setResourceLocked(cmd *models.AgentCommand) (map[string]interface{}, error) {
	params, _ := cmd.Kwargs[kwargParams].(map[string]interface{})
	if len(params) == 0 {
		return nil, fmt.Errorf("%s requires %q", cmd.Command, kwargParams)
	}

	for id := range params {
		if _, ok := a.attrs[id]; !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownAttribute, id)
		}
	}

	for id, v := range params {
		a.values[id] = v
	}

	return params, nil
}

func (a *Agent) setPortsLocked(state string) {
	for id := range a.ports {
		a.ports[id] = state
	}
}

func (a *Agent) startSamplingLocked() {
	if a.closed || a.samples == nil || len(a.cfg.StreamConfig) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopSampling = cancel

	a.sampling.Add(1)

	go func() {
		defer a.sampling.Done()

		ticker := time.NewTicker(a.sampleInterval)
		defer ticker.Stop()

		for {
			a.emitSamples(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *Agent) stopSamplingLocked() {
	if a.stopSampling != nil {
		a.stopSampling()
		a.stopSampling = nil
	}
}

func (a *Agent) emitSamples(ctx context.Context) {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	values := a.sampleValuesLocked(seq)
	a.mu.Unlock()

	for name, sc := range a.cfg.StreamConfig {
		streamID := sc.StreamID
		if streamID == "" {
			streamID = a.origin + "_" + name
		}

		err := a.samples.Publish(ctx, &models.DataSample{
			StreamID:   streamID,
			StreamName: name,
			Origin:     a.origin,
			Timestamp:  time.Now().UTC(),
			Values:     values,
		})
		if err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Str("stream", name).Msg("Failed to publish data sample")
		}
	}
}

// sampleValuesLocked walks every numeric attribute through its range in ten steps.
func (a *Agent) sampleValuesLocked(seq uint64) map[string]interface{} {
	frac := float64(seq%10) / 10

	if a.cfg.DeviceType == models.DeviceKindInstrument {
		return map[string]interface{}{
			instrumentTemp:  10 + 5*frac,
			instrumentCond:  3 + frac,
			instrumentPress: 100 + 10*frac,
		}
	}

	out := make(map[string]interface{}, len(a.attrs))

	for id, attr := range a.attrs {
		out[id] = attr.MinVal + (attr.MaxVal-attr.MinVal)*frac
	}

	return out
}

func (a *Agent) publish(ctx context.Context, ev *models.AgentEvent) {
	if a.silent || a.events == nil {
		return
	}

	ev.ID = uuid.New().String()
	ev.Origin = a.origin
	ev.OriginType = string(a.cfg.DeviceType)
	ev.Timestamp = time.Now().UTC()

	if err := a.events.PublishEvent(ctx, ev); err != nil {
		a.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish agent event")
	}
}

func decodeDriverConfig(driver map[string]interface{}) (map[string]models.AttributeDefinition, map[string]models.Port, error) {
	attrs := map[string]models.AttributeDefinition{}
	ports := map[string]models.Port{}

	if raw, ok := driver[driverKeyAttrs]; ok {
		if err := reshape(raw, &attrs); err != nil {
			return nil, nil, fmt.Errorf("driver_config.attributes: %w", err)
		}
	}

	if raw, ok := driver[driverKeyPorts]; ok {
		if err := reshape(raw, &ports); err != nil {
			return nil, nil, fmt.Errorf("driver_config.ports: %w", err)
		}
	}

	return attrs, ports, nil
}

// reshape converts a loosely typed configuration value into dst through its JSON form.
func reshape(v, dst interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

func resultResponse(state models.AgentState, result interface{}) *models.AgentResponse {
	b, err := json.Marshal(result)
	if err != nil {
		return errorResponse(state, models.ErrorCodeInternal, err.Error())
	}

	return &models.AgentResponse{State: state, Result: b}
}

func errorResponse(state models.AgentState, code, msg string) *models.AgentResponse {
	return &models.AgentResponse{State: state, Error: &models.RPCError{Code: code, Message: msg}}
}

func transitionError(state models.AgentState, err error) *models.AgentResponse {
	if errors.Is(err, models.ErrUnknownCommand) {
		return errorResponse(state, models.ErrorCodeUnknownCommand, err.Error())
	}

	return errorResponse(state, models.ErrorCodeInvalidState, err.Error())
}
