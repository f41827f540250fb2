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

//go:generate mockgen -destination=mock_agent.go -package=agent github.com/carverauto/observatory/pkg/agent Client

// Package agent is the client side of a running device agent.
package agent

import (
	"context"

	"github.com/carverauto/observatory/pkg/models"
)

// Client carries agent requests to the agent serving origin.
type Client interface {
	Call(ctx context.Context, origin string, req *models.AgentRequest) (*models.AgentResponse, error)
}
