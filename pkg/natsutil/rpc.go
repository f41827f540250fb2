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
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

// RPCClient sends agent requests over NATS request/reply.
type RPCClient struct {
	nc *nats.Conn
}

func NewRPCClient(nc *nats.Conn) *RPCClient {
	return &RPCClient{nc: nc}
}

// Call sends req to the agent serving origin and decodes its reply. The
// deadline comes from ctx.
func (c *RPCClient) Call(ctx context.Context, origin string, req *models.AgentRequest) (*models.AgentResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", req.Op, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, RPCSubject(origin), payload)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, fmt.Errorf("%w: %s", ErrAgentUnavailable, origin)
	}

	if err != nil {
		return nil, fmt.Errorf("%s request to %s failed: %w", req.Op, origin, err)
	}

	var resp models.AgentResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s reply from %s: %w", req.Op, origin, err)
	}

	return &resp, nil
}

// RPCHandler answers one agent request.
type RPCHandler func(ctx context.Context, req *models.AgentRequest) *models.AgentResponse

// ServeRPC answers requests for origin until ctx ends or the subscription is dropped.
// Requests are handled one at a time in arrival order.
func ServeRPC(ctx context.Context, nc *nats.Conn, origin string, handler RPCHandler, log logger.Logger) (*nats.Subscription, error) {
	subject := RPCSubject(origin)

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var (
			req  models.AgentRequest
			resp *models.AgentResponse
		)

		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp = &models.AgentResponse{Error: &models.RPCError{
				Code:    models.ErrorCodeInternal,
				Message: fmt.Sprintf("malformed request: %v", err),
			}}
		} else {
			resp = handler(ctx, &req)
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Str("origin", origin).Msg("Failed to marshal agent reply")

			return
		}

		if err := msg.Respond(payload); err != nil {
			log.Warn().Err(err).Str("origin", origin).Msg("Failed to send agent reply")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serve %s: %w", subject, err)
	}

	if err := flush(ctx, nc); err != nil {
		_ = sub.Unsubscribe()

		return nil, fmt.Errorf("failed to flush %s: %w", subject, err)
	}

	return sub, nil
}
