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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/observatory/pkg/models"
)

func TestExecuteAgentReturnsState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockClient(ctrl)
	cmd := models.NewAgentCommand(models.CommandInitialize, models.RecurseAll())

	client.EXPECT().Call(gomock.Any(), "dev-1", &models.AgentRequest{Op: models.OpExecuteAgent, Command: cmd}).
		DoAndReturn(func(ctx context.Context, _ string, _ *models.AgentRequest) (*models.AgentResponse, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)

			return &models.AgentResponse{State: models.StateInactive}, nil
		})

	h := NewHandle("dev-1", "proc-1", client, time.Second)
	assert.Equal(t, "dev-1", h.Origin())
	assert.Equal(t, "proc-1", h.ProcessID())

	state, err := h.ExecuteAgent(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, models.StateInactive, state)
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{name: "invalid state", code: models.ErrorCodeInvalidState, want: models.ErrInvalidState},
		{name: "unknown command", code: models.ErrorCodeUnknownCommand, want: models.ErrUnknownCommand},
		{name: "internal", code: models.ErrorCodeInternal, want: ErrAgentFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			client := NewMockClient(ctrl)
			client.EXPECT().Call(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&models.AgentResponse{Error: &models.RPCError{Code: tt.code, Message: "nope"}}, nil)

			h := NewHandle("dev-1", "", client, 0)

			_, err := h.ExecuteAgent(context.Background(), models.NewAgentCommand(models.CommandRun, models.RecurseSelf()))
			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestExecuteResourceFalsyResult(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		wantErr bool
	}{
		{name: "missing", result: "", wantErr: true},
		{name: "null", result: "null", wantErr: true},
		{name: "false", result: "false", wantErr: true},
		{name: "empty object", result: " {} ", wantErr: true},
		{name: "empty list", result: "[]", wantErr: true},
		{name: "empty string", result: `""`, wantErr: true},
		{name: "pong", result: `"PONG"`},
		{name: "object", result: `{"ports":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			client := NewMockClient(ctrl)
			client.EXPECT().Call(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&models.AgentResponse{State: models.StateCommand, Result: json.RawMessage(tt.result)}, nil)

			h := NewHandle("dev-1", "", client, time.Second)

			got, err := h.ExecuteResource(context.Background(), models.NewAgentCommand(models.CommandGetResource, models.RecurseSelf()))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrEmptyResult)

				return
			}

			require.NoError(t, err)
			assert.JSONEq(t, tt.result, string(got))
		})
	}
}

func TestGetStateAndPing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Call(gomock.Any(), "dev-1", &models.AgentRequest{Op: models.OpGetAgentState}).
			Return(&models.AgentResponse{State: models.StateIdle}, nil),
		client.EXPECT().Call(gomock.Any(), "dev-1", &models.AgentRequest{Op: models.OpGetAgentState}).
			Return(&models.AgentResponse{}, nil),
		client.EXPECT().Call(gomock.Any(), "dev-1", &models.AgentRequest{Op: models.OpPingAgent}).
			Return(&models.AgentResponse{Result: json.RawMessage(`"PONG"`)}, nil),
		client.EXPECT().Call(gomock.Any(), "dev-1", &models.AgentRequest{Op: models.OpPingAgent}).
			Return(&models.AgentResponse{Error: &models.RPCError{Code: models.ErrorCodeInvalidState, Message: "uninitialized"}}, nil),
	)

	h := NewHandle("dev-1", "", client, time.Second)
	ctx := context.Background()

	state, err := h.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, state)

	_, err = h.GetState(ctx)
	require.ErrorIs(t, err, ErrNoState)

	reply, err := h.PingAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply)

	_, err = h.PingAgent(ctx)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestTransportErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("no responders")
	client := NewMockClient(ctrl)
	client.EXPECT().Call(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom)

	h, err := NewDialer(client, time.Second).Dial(context.Background(), "dev-9", "p")
	require.NoError(t, err)

	_, err = h.GetState(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "dev-9")
}
