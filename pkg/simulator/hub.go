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
	"fmt"
	"sync"

	"github.com/carverauto/observatory/pkg/models"
)

// Hub routes agent requests to simulated agents in this process.
type Hub struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewHub() *Hub {
	return &Hub{agents: make(map[string]*Agent)}
}

// Register makes a reachable under its origin, replacing any previous agent.
func (h *Hub) Register(a *Agent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.agents[a.Origin()] = a
}

// Deregister removes a only if it is still the agent registered for its origin.
func (h *Hub) Deregister(a *Agent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.agents[a.Origin()] == a {
		delete(h.agents, a.Origin())
	}
}

// Agent returns the agent serving origin.
func (h *Hub) Agent(origin string) (*Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.agents[origin]

	return a, ok
}

// Len reports the number of reachable agents.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.agents)
}

// Call implements agent.Client.
func (h *Hub) Call(ctx context.Context, origin string, req *models.AgentRequest) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a, ok := h.Agent(origin)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, origin)
	}

	return a.Handle(ctx, req), nil
}
