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

package eventgate

import (
	"context"
	"sync"

	"github.com/carverauto/observatory/pkg/models"
)

// LocalBus is an in-process Bus. Publish delivers synchronously, so a
// subscription is ready as soon as Subscribe returns.
type LocalBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*localSubscription
}

var (
	_ Bus       = (*LocalBus)(nil)
	_ Publisher = (*LocalBus)(nil)
)

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[uint64]*localSubscription)}
}

type localSubscription struct {
	bus     *LocalBus
	id      uint64
	filter  models.EventFilter
	handler Handler
}

func (b *LocalBus) Subscribe(_ context.Context, filter models.EventFilter, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &localSubscription{bus: b, id: b.next, filter: filter, handler: handler}
	b.subs[sub.id] = sub

	return sub, nil
}

// PublishEvent delivers ev to every matching subscriber.
func (b *LocalBus) PublishEvent(_ context.Context, ev *models.AgentEvent) error {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))

	for _, sub := range b.subs {
		if sub.filter.Matches(ev) {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(ev)
	}

	return nil
}

// Subscribers reports the number of live subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

func (*localSubscription) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (s *localSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.id)

	return nil
}
