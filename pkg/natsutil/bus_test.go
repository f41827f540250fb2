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

package natsutil

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := RunEmbedded(EmbeddedOptions{StoreDir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(srv.Shutdown)

	return srv
}

func connect(t *testing.T, srv *server.Server) *nats.Conn {
	t.Helper()

	nc, err := Connect(context.Background(), &models.NATSConfig{URL: srv.ClientURL(), Name: t.Name()}, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

func TestEventBusDeliversToGate(t *testing.T) {
	srv := runJetStreamServer(t)
	bus := NewEventBus(connect(t, srv), logger.NewTestLogger())
	publisher := NewEventBus(connect(t, srv), logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gate := eventgate.New(bus, logger.NewTestLogger())

	w, err := gate.Expect(ctx, "dev-1", eventgate.StateIs(models.StateIdle))
	require.NoError(t, err)

	require.NoError(t, publisher.PublishEvent(ctx, &models.AgentEvent{
		Type: models.EventTypeAgentState, Origin: "dev-2", State: models.StateIdle,
	}))
	require.NoError(t, publisher.PublishEvent(ctx, &models.AgentEvent{
		Type: models.EventTypeAgentState, Origin: "dev-1", State: models.StateIdle,
		Values: map[string]interface{}{"k": "v"},
	}))

	ev, err := w.Await(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", ev.Origin)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "v", ev.Values["k"])
	assert.Equal(t, 0, gate.Pending())
}

func TestEventBusPersistsThroughJetStream(t *testing.T) {
	srv := runJetStreamServer(t)
	nc := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &models.EventsConfig{Enabled: true}
	pub, err := CreateEventPublisher(ctx, nc, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "AGENT_EVENTS", pub.Stream())

	bus := NewEventBus(nc, logger.NewTestLogger(), WithEventPublisher(pub))

	var seen atomic.Int32

	sub, err := bus.Subscribe(ctx, models.EventFilter{Origin: "dev-1"}, func(*models.AgentEvent) { seen.Add(1) })
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	defer func() { _ = sub.Unsubscribe() }()

	for _, typ := range []models.EventType{models.EventTypeAgentState, models.EventTypeAgentLifecycle} {
		require.NoError(t, bus.PublishEvent(ctx, &models.AgentEvent{Type: typ, Origin: "dev-1"}))
	}

	require.Eventually(t, func() bool { return seen.Load() == 2 }, 5*time.Second, 20*time.Millisecond)

	stream, err := pub.js.Stream(ctx, "AGENT_EVENTS")
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	msg, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)

	var ce map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &ce))
	assert.Equal(t, "1.0", ce["specversion"])
	assert.Equal(t, "com.carverauto.observatory.ResourceAgentStateEvent", ce["type"])

	// Reopening extends nothing when the subjects are already covered.
	again, err := CreateEventPublisher(ctx, nc, &models.EventsConfig{Enabled: true}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"events.agent.>"}, again.subjects)
}

func TestStreamBusQueueGroup(t *testing.T) {
	srv := runJetStreamServer(t)
	bus := NewStreamBus(connect(t, srv), logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var a, b atomic.Int32

	subA, err := bus.Subscribe(ctx, "parsed", "stream-1", func(*models.DataSample) { a.Add(1) })
	require.NoError(t, err)

	defer func() { _ = subA.Unsubscribe() }()

	subB, err := bus.Subscribe(ctx, "parsed", "stream-1", func(*models.DataSample) { b.Add(1) })
	require.NoError(t, err)

	defer func() { _ = subB.Unsubscribe() }()

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(ctx, &models.DataSample{StreamID: "stream-1", StreamName: "parsed"}))
	}

	require.Eventually(t, func() bool { return a.Load()+b.Load() == 10 }, 5*time.Second, 20*time.Millisecond)
}

func TestWaitForSample(t *testing.T) {
	srv := runJetStreamServer(t)
	bus := NewStreamBus(connect(t, srv), logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := bus.WaitForSample(ctx, "parsed", "quiet", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrDataTimeout)

	go func() {
		for ctx.Err() == nil {
			_ = bus.Publish(ctx, &models.DataSample{
				StreamID: "busy", StreamName: "parsed", Origin: "dev-1",
				Values: map[string]interface{}{"temp": 12.5},
			})

			time.Sleep(20 * time.Millisecond)
		}
	}()

	sample, err := bus.WaitForSample(ctx, "parsed", "busy", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", sample.Origin)
	assert.InDelta(t, 12.5, sample.Values["temp"], 0.001)
}

func TestRPCRoundTrip(t *testing.T) {
	srv := runJetStreamServer(t)
	nc := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := ServeRPC(ctx, nc, "dev-1", func(_ context.Context, req *models.AgentRequest) *models.AgentResponse {
		if req.Op == models.OpPingAgent {
			return &models.AgentResponse{State: models.StateIdle, Result: json.RawMessage(`"PONG"`)}
		}

		return &models.AgentResponse{Error: &models.RPCError{Code: models.ErrorCodeUnknownCommand, Message: string(req.Op)}}
	}, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	client := NewRPCClient(connect(t, srv))

	resp, err := client.Call(ctx, "dev-1", &models.AgentRequest{Op: models.OpPingAgent})
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, resp.State)
	assert.JSONEq(t, `"PONG"`, string(resp.Result))

	resp, err = client.Call(ctx, "dev-1", &models.AgentRequest{Op: models.OpGetAgentState})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrorCodeUnknownCommand, resp.Error.Code)

	_, err = client.Call(ctx, "nobody", &models.AgentRequest{Op: models.OpPingAgent})
	require.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestConnectValidates(t *testing.T) {
	_, err := Connect(context.Background(), &models.NATSConfig{}, logger.NewTestLogger())
	require.Error(t, err)

	_, err = TLSConfig(&models.SecurityConfig{Mode: models.SecurityModeNone})
	require.ErrorIs(t, err, ErrTLSRequired)
}
