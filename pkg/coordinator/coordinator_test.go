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

package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/observatory/pkg/agent"
	"github.com/carverauto/observatory/pkg/agentconfig"
	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/launcher"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/simulator"
	"github.com/carverauto/observatory/pkg/topology"
)

type world struct {
	gate     *eventgate.Gate
	launcher *launcher.SimLauncher
	coord    *Coordinator
}

func deviceOf(nodeID string) string { return "dev-" + nodeID }

func instrumentOf(nodeID string) string { return "SBE37-" + nodeID }

// newWorld registers the subtree of rootID with an instrument on each host
// platform and wires the coordinator to simulated agents.
func newWorld(t *testing.T, rootID string, hosts []string, opts ...launcher.Option) *world {
	t.Helper()

	net, err := topology.DefaultNetwork()
	require.NoError(t, err)

	ids, err := net.Subtree(rootID)
	require.NoError(t, err)

	dir := agentconfig.NewDirectory()

	for _, id := range ids {
		dir.SetPlatformDevice(id, deviceOf(id))
		dir.SetStreams(deviceOf(id), []models.StreamConfig{{StreamName: "parsed", ParameterDictionary: "platform_eng_parsed"}})
	}

	for _, host := range hosts {
		dir.AddInstrument(deviceOf(host), agentconfig.InstrumentBinding{
			DeviceID:     instrumentOf(host),
			DriverConfig: map[string]interface{}{"dvr_mod": "sbe37"},
		})
		dir.SetStreams(instrumentOf(host), []models.StreamConfig{
			{StreamName: "raw", ParameterDictionary: "ctd_raw_param_dict"},
			{StreamName: "parsed", ParameterDictionary: "ctd_parsed_param_dict"},
		})
	}

	bus := eventgate.NewLocalBus()
	gate := eventgate.New(bus, logger.NewTestLogger())
	hub := simulator.NewHub()
	l := launcher.New(bus, hub, logger.NewTestLogger(), opts...)

	t.Cleanup(l.Shutdown)

	coord := New(l, gate, agent.NewDialer(hub, time.Second), agentconfig.NewAssembler(net, dir, agentconfig.WithOrgName("TestOrg")),
		logger.NewTestLogger(), Config{
			ReceiveTimeout: models.Duration(2 * time.Second),
			StartupTimeout: models.Duration(2 * time.Second),
		})

	for _, id := range ids {
		parent := ""
		if id != rootID {
			parent = net.ParentOf(id)
		}

		require.NoError(t, coord.Register(NodeSpec{NodeID: id, DeviceID: deviceOf(id), Kind: models.DeviceKindPlatform, ParentID: parent}))
	}

	for _, host := range hosts {
		require.NoError(t, coord.Register(NodeSpec{
			NodeID:   instrumentOf(host),
			DeviceID: instrumentOf(host),
			Kind:     models.DeviceKindInstrument,
			ParentID: host,
		}))
	}

	return &world{gate: gate, launcher: l, coord: coord}
}

func (w *world) states(t *testing.T, ids ...string) map[string]models.AgentState {
	t.Helper()

	out := make(map[string]models.AgentState, len(ids))

	for _, id := range ids {
		state, err := w.coord.State(id)
		require.NoError(t, err)

		out[id] = state
	}

	return out
}

func allIn(state models.AgentState, ids ...string) map[string]models.AgentState {
	out := make(map[string]models.AgentState, len(ids))
	for _, id := range ids {
		out[id] = state
	}

	return out
}

func TestFullLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SmallHierarchyRoot, []string{"LJ01D"})
	ids := []string{"Node1D", "MJ01C", "LJ01D", instrumentOf("LJ01D")}

	require.NoError(t, w.coord.StartTree(ctx, "Node1D"))
	assert.Equal(t, allIn(models.StateUninitialized, ids...), w.states(t, ids...))

	steps := []struct {
		cmd  models.Command
		want models.AgentState
	}{
		{models.CommandInitialize, models.StateInactive},
		{models.CommandGoActive, models.StateIdle},
		{models.CommandRun, models.StateCommand},
		{models.CommandStartMonitoring, models.StateMonitoring},
		{models.CommandStopMonitoring, models.StateCommand},
		{models.CommandPause, models.StateStopped},
		{models.CommandResume, models.StateCommand},
		{models.CommandPause, models.StateStopped},
		{models.CommandClear, models.StateIdle},
		{models.CommandGoInactive, models.StateInactive},
		{models.CommandReset, models.StateUninitialized},
	}

	for _, step := range steps {
		require.NoError(t, w.coord.Execute(ctx, "Node1D", models.NewAgentCommand(step.cmd, models.RecurseAll())), "command %s", step.cmd)
		assert.Equal(t, allIn(step.want, ids...), w.states(t, ids...), "after %s", step.cmd)
	}

	require.NoError(t, w.coord.Shutdown(ctx, "Node1D", models.RecurseAll()))

	for _, n := range w.coord.Nodes() {
		assert.False(t, n.Running, n.NodeID)
		assert.Empty(t, n.ProcessID, n.NodeID)
	}

	require.Eventually(t, func() bool { return w.launcher.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.gate.Pending())
}

func TestOnlyInitializeLeavesUninitialized(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SinglePlatform, nil)

	_, err := w.coord.StartNode(ctx, "LJ01D")
	require.NoError(t, err)

	for _, cmd := range []models.Command{
		models.CommandGoActive, models.CommandRun, models.CommandStartMonitoring,
		models.CommandPause, models.CommandClear, models.CommandGoInactive,
	} {
		err := w.coord.Execute(ctx, "LJ01D", models.NewAgentCommand(cmd, models.RecurseSelf()))
		require.ErrorIs(t, err, models.ErrInvalidState, "command %s", cmd)
	}

	// RESET from UNINITIALIZED publishes no event and is confirmed by querying the agent.
	require.NoError(t, w.coord.Reset(ctx, "LJ01D", models.RecurseSelf()))
	require.NoError(t, w.coord.Initialize(ctx, "LJ01D", models.RecurseSelf()))

	state, err := w.coord.State("LJ01D")
	require.NoError(t, err)
	assert.Equal(t, models.StateInactive, state)
	assert.Equal(t, 0, w.gate.Pending())
}

func TestStopNodeTwice(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SinglePlatform, nil)

	h, err := w.coord.StartNode(ctx, "LJ01D")
	require.NoError(t, err)
	require.NotNil(t, h)

	again, err := w.coord.StartNode(ctx, "LJ01D")
	require.NoError(t, err)
	assert.Same(t, h, again)

	require.NoError(t, w.coord.StopNode(ctx, "LJ01D"))
	require.NoError(t, w.coord.StopNode(ctx, "LJ01D"))

	_, ok := w.coord.Handle("LJ01D")
	assert.False(t, ok)
	assert.Equal(t, 0, w.launcher.Len())
}

func TestStopNodeAfterProcessExited(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SinglePlatform, nil)

	_, err := w.coord.StartNode(ctx, "LJ01D")
	require.NoError(t, err)

	require.NoError(t, w.launcher.Stop(ctx, deviceOf("LJ01D")+"-agent"))
	require.NoError(t, w.coord.StopNode(ctx, "LJ01D"))

	_, ok := w.coord.Handle("LJ01D")
	assert.False(t, ok)
}

func TestRecursionDepth(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SmallHierarchyRoot, nil)
	ids := []string{"Node1D", "MJ01C", "LJ01D"}

	require.NoError(t, w.coord.StartTree(ctx, "Node1D"))

	require.NoError(t, w.coord.Initialize(ctx, "Node1D", models.RecurseSelf()))
	assert.Equal(t, map[string]models.AgentState{
		"Node1D": models.StateInactive,
		"MJ01C":  models.StateUninitialized,
		"LJ01D":  models.StateUninitialized,
	}, w.states(t, ids...))

	require.NoError(t, w.coord.Reset(ctx, "Node1D", models.RecurseSelf()))

	require.NoError(t, w.coord.Initialize(ctx, "Node1D", models.RecurseDepth(2)))
	assert.Equal(t, map[string]models.AgentState{
		"Node1D": models.StateInactive,
		"MJ01C":  models.StateInactive,
		"LJ01D":  models.StateUninitialized,
	}, w.states(t, ids...))

	require.NoError(t, w.coord.Reset(ctx, "Node1D", models.RecurseAll()))

	require.NoError(t, w.coord.Initialize(ctx, "Node1D", models.RecurseAll()))
	assert.Equal(t, allIn(models.StateInactive, ids...), w.states(t, ids...))

	require.NoError(t, w.coord.Reset(ctx, "Node1D", models.RecurseAll()))

	require.NoError(t, w.coord.Initialize(ctx, "Node1D", models.RecurseDepth(3)))
	assert.Equal(t, allIn(models.StateInactive, ids...), w.states(t, ids...))

	require.NoError(t, w.coord.StopTree(ctx, "Node1D"))
	assert.Equal(t, 0, w.launcher.Len())
}

func TestRecursionDepthReachesInstruments(t *testing.T) {
	tests := []struct {
		name string
		root string
		want map[string]models.AgentState
	}{
		{
			name: "two platform levels",
			root: "MJ01C",
			want: map[string]models.AgentState{
				"MJ01C":               models.StateInactive,
				"LJ01D":               models.StateInactive,
				instrumentOf("MJ01C"): models.StateInactive,
				instrumentOf("LJ01D"): models.StateInactive,
			},
		},
		{
			name: "three platform levels",
			root: "Node1D",
			want: map[string]models.AgentState{
				"Node1D":              models.StateInactive,
				"MJ01C":               models.StateInactive,
				"LJ01D":               models.StateInactive,
				instrumentOf("MJ01C"): models.StateInactive,
				instrumentOf("LJ01D"): models.StateUninitialized,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			w := newWorld(t, tt.root, []string{"MJ01C", "LJ01D"})

			ids := make([]string, 0, len(tt.want))
			for id := range tt.want {
				ids = append(ids, id)
			}

			require.NoError(t, w.coord.StartTree(ctx, tt.root))
			require.NoError(t, w.coord.Initialize(ctx, tt.root, models.RecurseDepth(3)))
			assert.Equal(t, tt.want, w.states(t, ids...))

			require.NoError(t, w.coord.StopTree(ctx, tt.root))
			assert.Equal(t, 0, w.launcher.Len())
		})
	}
}

func TestMalformedRecursionIsRejected(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SmallHierarchyRoot, nil)
	ids := []string{"Node1D", "MJ01C", "LJ01D"}

	require.NoError(t, w.coord.StartTree(ctx, "Node1D"))

	for _, v := range []interface{}{"1", 1.5, []interface{}{true}} {
		cmd := &models.AgentCommand{
			Command: models.CommandInitialize,
			Kwargs:  map[string]interface{}{"recursion": v},
		}

		err := w.coord.Execute(ctx, "Node1D", cmd)
		require.ErrorIs(t, err, models.ErrInvalidRecursion, "recursion %v", v)
		assert.Equal(t, allIn(models.StateUninitialized, ids...), w.states(t, ids...))
	}

	assert.Equal(t, 0, w.gate.Pending())

	require.NoError(t, w.coord.StopTree(ctx, "Node1D"))
}

func TestFullHierarchyWithInstruments(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.FullHierarchyRoot, topology.InstrumentHostPlatforms)

	require.Equal(t, 13+len(topology.InstrumentHostPlatforms), w.coord.Len())

	hosts := make(map[string]bool)
	for _, id := range topology.InstrumentHostPlatforms {
		hosts[id] = true
	}

	instruments := make(map[string]int)
	platforms := 0

	for _, n := range w.coord.Nodes() {
		if n.Kind == models.DeviceKindInstrument {
			instruments[n.ParentID]++
			assert.Empty(t, n.Children)

			continue
		}

		platforms++
	}

	assert.Equal(t, 13, platforms)

	for _, n := range w.coord.Nodes() {
		if n.Kind != models.DeviceKindPlatform {
			continue
		}

		if hosts[n.NodeID] {
			assert.Equal(t, 1, instruments[n.NodeID], n.NodeID)
		} else {
			assert.Zero(t, instruments[n.NodeID], n.NodeID)
		}
	}

	require.NoError(t, w.coord.StartTree(ctx, topology.FullHierarchyRoot))
	assert.Equal(t, w.coord.Len(), w.launcher.Len())

	require.NoError(t, w.coord.Initialize(ctx, topology.FullHierarchyRoot, models.RecurseAll()))
	require.NoError(t, w.coord.GoActive(ctx, topology.FullHierarchyRoot, models.RecurseAll()))

	for _, n := range w.coord.Nodes() {
		assert.Equal(t, models.StateIdle, n.State, n.NodeID)
	}

	reply, err := w.coord.PingResource(ctx, instrumentOf("MJ01C"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply)

	require.NoError(t, w.coord.Shutdown(ctx, topology.FullHierarchyRoot, models.RecurseAll()))
	require.Eventually(t, func() bool { return w.launcher.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.gate.Pending())
}

func TestStartupConfirmationTimeout(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SinglePlatform, nil, launcher.WithAgentOptions(
		func(string, *models.AgentInstanceConfig) []simulator.Option {
			return []simulator.Option{simulator.Silent()}
		}))
	w.coord.cfg.ReceiveTimeout = models.Duration(30 * time.Millisecond)

	h, err := w.coord.StartNode(ctx, "LJ01D")
	require.ErrorIs(t, err, ErrStartupConfirmationTimeout)
	assert.Nil(t, h)

	_, ok := w.coord.Handle("LJ01D")
	assert.False(t, ok)
	assert.Equal(t, 0, w.launcher.Len())
	assert.Equal(t, 0, w.gate.Pending())
}

func TestChildFailuresAreAggregated(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SmallHierarchyRoot, nil, launcher.WithAgentOptions(
		func(instanceID string, _ *models.AgentInstanceConfig) []simulator.Option {
			if instanceID == deviceOf("LJ01D")+"-agent" {
				return []simulator.Option{simulator.FailCommands(models.CommandInitialize)}
			}

			return nil
		}))

	require.NoError(t, w.coord.StartTree(ctx, "Node1D"))

	err := w.coord.Initialize(ctx, "Node1D", models.RecurseAll())
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"LJ01D"}, agg.NodeIDs())
	require.ErrorIs(t, err, agent.ErrAgentFailure)

	assert.Equal(t, map[string]models.AgentState{
		"Node1D": models.StateInactive,
		"MJ01C":  models.StateInactive,
		"LJ01D":  models.StateUninitialized,
	}, w.states(t, "Node1D", "MJ01C", "LJ01D"))
}

func TestParentFailureSkipsChildren(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SmallHierarchyRoot, nil)

	require.NoError(t, w.coord.StartTree(ctx, "Node1D"))
	require.NoError(t, w.coord.Initialize(ctx, "MJ01C", models.RecurseAll()))

	err := w.coord.GoActive(ctx, "Node1D", models.RecurseAll())
	require.ErrorIs(t, err, models.ErrInvalidState)

	var agg *AggregateError
	assert.False(t, errors.As(err, &agg))

	assert.Equal(t, map[string]models.AgentState{
		"Node1D": models.StateUninitialized,
		"MJ01C":  models.StateInactive,
		"LJ01D":  models.StateInactive,
	}, w.states(t, "Node1D", "MJ01C", "LJ01D"))
}

func TestUnknownAndNotRunningNodes(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, topology.SinglePlatform, nil)

	require.ErrorIs(t, w.coord.Execute(ctx, "nope", models.NewAgentCommand(models.CommandInitialize, models.RecurseSelf())), ErrUnknownNode)
	require.ErrorIs(t, w.coord.Initialize(ctx, "LJ01D", models.RecurseSelf()), ErrNotRunning)
	require.ErrorIs(t, w.coord.Execute(ctx, "LJ01D", nil), errNilCommand)

	_, err := w.coord.PingResource(ctx, "LJ01D")
	require.ErrorIs(t, err, ErrNotRunning)

	tests := []struct {
		name string
		spec NodeSpec
		err  error
	}{
		{name: "duplicate", spec: NodeSpec{NodeID: "LJ01D", DeviceID: "x"}, err: ErrNodeExists},
		{name: "unknown parent", spec: NodeSpec{NodeID: "n", DeviceID: "d", ParentID: "ghost"}, err: ErrUnknownNode},
		{name: "missing device", spec: NodeSpec{NodeID: "n"}, err: errInvalidNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, w.coord.Register(tt.spec), tt.err)
		})
	}
}

func newMockCoordinator(t *testing.T) (*Coordinator, *MockLauncher, *eventgate.Gate) {
	t.Helper()

	ctrl := gomock.NewController(t)
	l := NewMockLauncher(ctrl)
	a := NewMockAssembler(ctrl)
	d := NewMockDialer(ctrl)

	a.EXPECT().BuildAgent(models.DeviceKindPlatform, "LJ01D", "dev-LJ01D", "").
		Return(models.NewAgentInstanceConfig("TestOrg", models.DeviceKindPlatform, "dev-LJ01D"), nil).AnyTimes()

	gate := eventgate.New(eventgate.NewLocalBus(), logger.NewTestLogger())
	c := New(l, gate, d, a, logger.NewTestLogger(), Config{StartupTimeout: models.Duration(time.Second)})

	require.NoError(t, c.Register(NodeSpec{NodeID: "LJ01D", DeviceID: "dev-LJ01D"}))

	return c, l, gate
}

func TestLaunchTimeoutCancelsProcess(t *testing.T) {
	ctx := context.Background()
	c, l, gate := newMockCoordinator(t)

	l.EXPECT().Start(gomock.Any(), "dev-LJ01D-agent", gomock.Any()).Return("pid-1", nil)
	l.EXPECT().AwaitRunning(gomock.Any(), "pid-1", time.Second).Return(false, nil)
	l.EXPECT().Cancel(gomock.Any(), "pid-1").Return(nil)

	h, err := c.StartNode(ctx, "LJ01D")
	require.ErrorIs(t, err, ErrLaunchTimeout)
	assert.Nil(t, h)
	assert.Equal(t, 0, gate.Pending())
}

func TestBusyNodeRejectsSecondOperation(t *testing.T) {
	ctx := context.Background()
	c, l, _ := newMockCoordinator(t)

	entered := make(chan struct{})
	release := make(chan struct{})

	l.EXPECT().Start(gomock.Any(), "dev-LJ01D-agent", gomock.Any()).Return("pid-1", nil)
	l.EXPECT().AwaitRunning(gomock.Any(), "pid-1", gomock.Any()).DoAndReturn(
		func(context.Context, string, time.Duration) (bool, error) {
			close(entered)
			<-release

			return false, nil
		})
	l.EXPECT().Cancel(gomock.Any(), "pid-1").Return(models.ErrProcessNotFound)

	done := make(chan error, 1)

	go func() {
		_, err := c.StartNode(ctx, "LJ01D")
		done <- err
	}()

	<-entered

	_, err := c.StartNode(ctx, "LJ01D")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, c.StopNode(ctx, "LJ01D"), ErrBusy)
	require.ErrorIs(t, c.Initialize(ctx, "LJ01D", models.RecurseSelf()), ErrBusy)

	close(release)
	require.ErrorIs(t, <-done, ErrLaunchTimeout)

	require.ErrorIs(t, c.Initialize(ctx, "LJ01D", models.RecurseSelf()), ErrNotRunning)
}

func TestAggregateError(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	nested := newAggregateError()
	nested.add("b", errB)

	agg := newAggregateError()
	agg.add("a", errA)
	agg.add("parent", nested)

	assert.Equal(t, []string{"a", "b"}, agg.NodeIDs())
	assert.Equal(t, "2 node(s) failed: a: a failed; b: b failed", agg.Error())
	require.ErrorIs(t, agg, errA)
	require.ErrorIs(t, agg, errB)
	assert.NoError(t, newAggregateError().orNil())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultReceiveTimeout, cfg.receiveTimeout())
	assert.Equal(t, DefaultStartupTimeout, cfg.startupTimeout())

	cfg.ReceiveTimeout = models.Duration(-time.Second)
	require.ErrorIs(t, cfg.Validate(), errInvalidTimeout)
}

func TestCommandMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	recordCommand(ctx, "RUN", nil)
	recordCommand(ctx, "RUN", errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := make(map[string]int64)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), totals[metricCommandsTotal])
	assert.Equal(t, int64(1), totals[metricCommandFailures])
}
