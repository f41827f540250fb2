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

package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

type recordingPublisher struct {
	mu      sync.Mutex
	samples []*models.DataSample
}

func (p *recordingPublisher) Publish(_ context.Context, s *models.DataSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = append(p.samples, s)

	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.samples)
}

func platformConfig() *models.AgentInstanceConfig {
	cfg := models.NewAgentInstanceConfig("TestOrg", models.DeviceKindPlatform, "dev-LJ01D")
	cfg.PlatformConfig = &models.PlatformConfig{PlatformID: "LJ01D", ParentPlatformID: "MJ01C"}
	cfg.DriverConfig["attributes"] = map[string]interface{}{
		"input_voltage": models.AttributeDefinition{AttrID: "input_voltage", Type: "float", MinVal: -1, MaxVal: 1, ReadWrite: "write"},
	}
	cfg.DriverConfig["ports"] = map[string]interface{}{
		"1": models.Port{PortID: "1"},
		"2": models.Port{PortID: "2"},
	}
	cfg.StreamConfig["parsed"] = models.StreamConfig{StreamName: "parsed", StreamID: "stream-parsed"}

	return cfg
}

func call(t *testing.T, hub *Hub, op models.RPCOp, cmd *models.AgentCommand) *models.AgentResponse {
	t.Helper()

	resp, err := hub.Call(context.Background(), "dev-LJ01D", &models.AgentRequest{Op: op, Command: cmd})
	require.NoError(t, err)

	return resp
}

func TestAgentLifecycleEmitsStateEvents(t *testing.T) {
	bus := eventgate.NewLocalBus()

	var (
		mu     sync.Mutex
		states []models.AgentState
	)

	sub, err := bus.Subscribe(context.Background(), models.EventFilter{Type: models.EventTypeAgentState}, func(ev *models.AgentEvent) {
		mu.Lock()
		defer mu.Unlock()

		states = append(states, ev.State)
	})
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	a, err := New(platformConfig(), bus, logger.NewTestLogger())
	require.NoError(t, err)

	hub := NewHub()
	hub.Register(a)
	require.NoError(t, a.Start(context.Background()))

	for _, cmd := range []models.Command{
		models.CommandInitialize, models.CommandGoActive, models.CommandRun,
		models.CommandPause, models.CommandResume, models.CommandReset,
	} {
		resp := call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(cmd, models.RecurseSelf()))
		require.Nil(t, resp.Error, "command %s", cmd)
	}

	// RESET from UNINITIALIZED keeps the state and publishes no state event.
	resp := call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandReset, models.RecurseSelf()))
	require.Nil(t, resp.Error)
	assert.Equal(t, models.StateUninitialized, resp.State)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []models.AgentState{
		models.StateUninitialized, models.StateInactive, models.StateIdle, models.StateCommand,
		models.StateStopped, models.StateCommand, models.StateUninitialized,
	}, states)
}

func TestAgentRejectsCommands(t *testing.T) {
	a, err := New(platformConfig(), nil, logger.NewTestLogger(), FailCommands(models.CommandGoActive))
	require.NoError(t, err)

	hub := NewHub()
	hub.Register(a)

	tests := []struct {
		name string
		op   models.RPCOp
		cmd  models.Command
		code string
	}{
		{name: "run while uninitialized", op: models.OpExecuteAgent, cmd: models.CommandRun, code: models.ErrorCodeInvalidState},
		{name: "ping resource while uninitialized", op: models.OpExecuteAgent, cmd: models.CommandPingResource, code: models.ErrorCodeInvalidState},
		{name: "unknown command", op: models.OpExecuteAgent, cmd: "LAUNCH", code: models.ErrorCodeUnknownCommand},
		{name: "transition as resource command", op: models.OpExecuteResource, cmd: models.CommandInitialize, code: models.ErrorCodeUnknownCommand},
		{name: "unknown op", op: "reboot", cmd: models.CommandRun, code: models.ErrorCodeUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, hub, tt.op, models.NewAgentCommand(tt.cmd, models.RecurseSelf()))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, models.StateUninitialized, resp.State)
		})
	}

	resp := call(t, hub, models.OpPingAgent, nil)
	require.NotNil(t, resp.Error)

	resp = call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandInitialize, models.RecurseSelf()))
	require.Nil(t, resp.Error)

	resp = call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandGoActive, models.RecurseSelf()))
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrorCodeInternal, resp.Error.Code)
	assert.Equal(t, models.StateInactive, a.State())
}

func TestAgentResourceCommands(t *testing.T) {
	a, err := New(platformConfig(), nil, logger.NewTestLogger())
	require.NoError(t, err)

	hub := NewHub()
	hub.Register(a)

	for _, cmd := range []models.Command{models.CommandInitialize, models.CommandGoActive} {
		require.Nil(t, call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(cmd, models.RecurseSelf())).Error)
	}

	resp := call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandPingResource, models.RecurseSelf()))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"PONG"`, string(resp.Result))
	assert.Equal(t, models.StateIdle, resp.State)

	resp = call(t, hub, models.OpPingAgent, nil)
	assert.JSONEq(t, `"PONG"`, string(resp.Result))

	get := &models.AgentCommand{Command: models.CommandGetResource, Kwargs: map[string]interface{}{"ports": nil}}
	resp = call(t, hub, models.OpExecuteAgent, get)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"1":{"state":"ON"},"2":{"state":"ON"}}`, string(resp.Result))

	get = &models.AgentCommand{Command: models.CommandGetResource, Kwargs: map[string]interface{}{"metadata": nil}}
	resp = call(t, hub, models.OpExecuteAgent, get)

	var md map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Result, &md))
	assert.Equal(t, "LJ01D", md["platform_id"])
	assert.Equal(t, "MJ01C", md["parent_platform_id"])

	set := &models.AgentCommand{
		Command: models.CommandSetResource,
		Kwargs:  map[string]interface{}{"params": map[string]interface{}{"input_voltage": 0.5}},
	}
	resp = call(t, hub, models.OpExecuteResource, set)
	require.Nil(t, resp.Error)

	resp = call(t, hub, models.OpExecuteResource, &models.AgentCommand{Command: models.CommandGetResource, Args: []interface{}{"input_voltage"}})
	assert.JSONEq(t, `{"input_voltage":0.5}`, string(resp.Result))

	set.Kwargs["params"] = map[string]interface{}{"bogus": 1}
	resp = call(t, hub, models.OpExecuteResource, set)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "bogus")

	resp = call(t, hub, models.OpExecuteResource, &models.AgentCommand{Command: models.CommandExecuteResource, Args: []interface{}{"TURN_ON_PORT"}})
	assert.JSONEq(t, `{"command":"TURN_ON_PORT","result":"OK"}`, string(resp.Result))
}

func TestAgentSamplesWhileMonitoring(t *testing.T) {
	samples := &recordingPublisher{}

	a, err := New(platformConfig(), nil, logger.NewTestLogger(),
		WithSamplePublisher(samples), WithSampleInterval(5*time.Millisecond))
	require.NoError(t, err)

	defer a.Close()

	hub := NewHub()
	hub.Register(a)

	for _, cmd := range []models.Command{
		models.CommandInitialize, models.CommandGoActive, models.CommandRun, models.CommandStartMonitoring,
	} {
		require.Nil(t, call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(cmd, models.RecurseSelf())).Error)
	}

	require.Eventually(t, func() bool { return samples.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.Nil(t, call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandStopMonitoring, models.RecurseSelf())).Error)

	a.Close()
	stopped := samples.count()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, samples.count())

	samples.mu.Lock()
	first := samples.samples[0]
	samples.mu.Unlock()

	assert.Equal(t, "stream-parsed", first.StreamID)
	assert.Equal(t, "parsed", first.StreamName)
	assert.Contains(t, first.Values, "input_voltage")
}

func TestClosedAgentDoesNotSample(t *testing.T) {
	samples := &recordingPublisher{}

	a, err := New(platformConfig(), nil, logger.NewTestLogger(),
		WithSamplePublisher(samples), WithSampleInterval(5*time.Millisecond))
	require.NoError(t, err)

	hub := NewHub()
	hub.Register(a)

	for _, cmd := range []models.Command{models.CommandInitialize, models.CommandGoActive, models.CommandRun} {
		require.Nil(t, call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(cmd, models.RecurseSelf())).Error)
	}

	a.Close()

	resp := call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandStartMonitoring, models.RecurseSelf()))
	require.Nil(t, resp.Error)
	assert.Equal(t, models.StateMonitoring, a.State())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, samples.count())

	done := make(chan struct{})

	go func() {
		a.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler still running after close")
	}
}

func TestShutdownHookAndSilence(t *testing.T) {
	bus := eventgate.NewLocalBus()
	gate := eventgate.New(bus, logger.NewTestLogger())
	down := make(chan struct{})

	a, err := New(platformConfig(), bus, logger.NewTestLogger(), Silent(), WithShutdownHook(func() { close(down) }))
	require.NoError(t, err)

	w, err := gate.Expect(context.Background(), "dev-LJ01D", nil)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))

	hub := NewHub()
	hub.Register(a)

	resp := call(t, hub, models.OpExecuteAgent, models.NewAgentCommand(models.CommandShutdown, models.RecurseSelf()))
	require.Nil(t, resp.Error)

	select {
	case <-down:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook not called")
	}

	_, err = w.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, eventgate.ErrTimeout)

	hub.Deregister(a)
	assert.Equal(t, 0, hub.Len())

	_, err = hub.Call(context.Background(), "dev-LJ01D", &models.AgentRequest{Op: models.OpGetAgentState})
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestNewRequiresResourceID(t *testing.T) {
	_, err := New(models.NewAgentInstanceConfig("o", models.DeviceKindInstrument, ""), nil, logger.NewTestLogger())
	require.Error(t, err)
}
