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
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

// EventBus carries agent events as CloudEvents on core NATS subjects
// events.agent.<type>.<origin>. When a JetStream publisher is attached, publishes
// go through the stream and are acknowledged; subscribers still read core NATS.
type EventBus struct {
	nc        *nats.Conn
	logger    logger.Logger
	publisher *EventPublisher
}

var (
	_ eventgate.Bus       = (*EventBus)(nil)
	_ eventgate.Publisher = (*EventBus)(nil)
)

type EventBusOption func(*EventBus)

// WithEventPublisher persists published events through p.
func WithEventPublisher(p *EventPublisher) EventBusOption {
	return func(b *EventBus) {
		b.publisher = p
	}
}

func NewEventBus(nc *nats.Conn, log logger.Logger, opts ...EventBusOption) *EventBus {
	b := &EventBus{nc: nc, logger: log}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// PublishEvent implements eventgate.Publisher.
func (b *EventBus) PublishEvent(ctx context.Context, ev *models.AgentEvent) error {
	if b.publisher != nil {
		return b.publisher.PublishAgentEvent(ctx, ev)
	}

	subject, payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s event from %q: %w", ev.Type, ev.Origin, err)
	}

	return nil
}

// Subscribe implements eventgate.Bus.
func (b *EventBus) Subscribe(_ context.Context, filter models.EventFilter, handler eventgate.Handler) (eventgate.Subscription, error) {
	subject := eventFilterSubject(filter)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := decodeEvent(msg.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable agent event")

			return
		}

		// Subject tokens are sanitized; the decoded event is authoritative.
		if !filter.Matches(ev) {
			return
		}

		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return &eventSubscription{nc: b.nc, sub: sub}, nil
}

type eventSubscription struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// Ready round-trips to the server so the interest is registered before returning.
func (s *eventSubscription) Ready(ctx context.Context) error {
	if err := flush(ctx, s.nc); err != nil {
		return fmt.Errorf("failed to flush subscription %s: %w", s.sub.Subject, err)
	}

	return nil
}

func (s *eventSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}

	return s.sub.Unsubscribe()
}
