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

//go:generate mockgen -destination=mock_eventgate.go -package=eventgate github.com/carverauto/observatory/pkg/eventgate Bus,Publisher,Subscription

package eventgate

import (
	"context"

	"github.com/carverauto/observatory/pkg/models"
)

// Handler receives events delivered to a subscription. It may be called
// concurrently and must not block.
type Handler func(ev *models.AgentEvent)

// Subscription is a live registration on a Bus.
type Subscription interface {
	// Ready blocks until the subscription is guaranteed to see events
	// published after it returns.
	Ready(ctx context.Context) error
	Unsubscribe() error
}

// Bus delivers agent events to filtered subscribers.
type Bus interface {
	Subscribe(ctx context.Context, filter models.EventFilter, handler Handler) (Subscription, error)
}

// Publisher emits agent events.
type Publisher interface {
	PublishEvent(ctx context.Context, ev *models.AgentEvent) error
}
