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

//go:generate mockgen -destination=mock_coordinator.go -package=coordinator github.com/carverauto/observatory/pkg/coordinator Assembler,Dialer,Launcher

package coordinator

import (
	"context"
	"time"

	"github.com/carverauto/observatory/pkg/agent"
	"github.com/carverauto/observatory/pkg/models"
)

// Launcher starts and stops agent processes.
type Launcher interface {
	Start(ctx context.Context, instanceID string, cfg *models.AgentInstanceConfig) (string, error)
	AwaitRunning(ctx context.Context, processID string, timeout time.Duration) (bool, error)
	Stop(ctx context.Context, instanceID string) error
	Cancel(ctx context.Context, processID string) error
}

// Dialer opens a handle on a running agent.
type Dialer interface {
	Dial(ctx context.Context, origin, processID string) (*agent.Handle, error)
}

// Assembler builds the launch configuration of a node.
type Assembler interface {
	BuildAgent(kind models.DeviceKind, nodeID, deviceID, parentDeviceID string) (*models.AgentInstanceConfig, error)
}
