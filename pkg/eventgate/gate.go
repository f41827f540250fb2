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

// Package eventgate turns asynchronous agent events into bounded, one-shot waits.
//
// A wait is registered (and its subscription confirmed live) before the action
// that triggers the event, so the event cannot be missed.
package eventgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

// ErrTimeout is returned when an expected event does not arrive in time.
var ErrTimeout = errors.New("timed out waiting for event")

// DefaultReceiveTimeout applies when Await is called without a timeout.
const DefaultReceiveTimeout = 30 * time.Second

// Predicate selects the event that fulfils a wait.
type Predicate func(ev *models.AgentEvent) bool

// StateIs matches state events reporting the given state.
func StateIs(state models.AgentState) Predicate {
	return func(ev *models.AgentEvent) bool {
		return ev.State == state
	}
}

// AnyEvent matches every event that passes the subscription filter.
func AnyEvent() Predicate {
	return func(*models.AgentEvent) bool { return true }
}

type Gate struct {
	bus            Bus
	logger         logger.Logger
	defaultTimeout time.Duration
	pending        atomic.Int64
}

type Option func(*Gate)

// WithDefaultTimeout sets the timeout used when Await receives a non-positive one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.defaultTimeout = d
		}
	}
}

func New(bus Bus, log logger.Logger, opts ...Option) *Gate {
	g := &Gate{
		bus:            bus,
		logger:         log,
		defaultTimeout: DefaultReceiveTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Pending reports registrations that have not been released yet.
func (g *Gate) Pending() int {
	return int(g.pending.Load())
}

// DefaultTimeout is the timeout applied by Await when none is given.
func (g *Gate) DefaultTimeout() time.Duration {
	return g.defaultTimeout
}

// Expect registers a wait for the first state event from origin matching pred.
func (g *Gate) Expect(ctx context.Context, origin string, pred Predicate) (*Wait, error) {
	return g.ExpectN(ctx, models.EventFilter{Type: models.EventTypeAgentState, Origin: origin}, pred, 1)
}

// ExpectEvent registers a wait for the first event passing filter and pred.
func (g *Gate) ExpectEvent(ctx context.Context, filter models.EventFilter, pred Predicate) (*Wait, error) {
	return g.ExpectN(ctx, filter, pred, 1)
}

// ExpectN registers a wait fulfilled once n matching events have arrived.
func (g *Gate) ExpectN(ctx context.Context, filter models.EventFilter, pred Predicate, n int) (*Wait, error) {
	if pred == nil {
		pred = AnyEvent()
	}

	if n < 1 {
		n = 1
	}

	w := &Wait{
		gate:   g,
		filter: filter,
		pred:   pred,
		need:   n,
		done:   make(chan struct{}),
	}

	sub, err := g.bus.Subscribe(ctx, filter, w.deliver)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for %s events from %q: %w", filter.Type, filter.Origin, err)
	}

	if err := sub.Ready(ctx); err != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			g.logger.Debug().Err(uerr).Str("origin", filter.Origin).Msg("Unsubscribe after failed readiness")
		}

		return nil, fmt.Errorf("subscription for %q not ready: %w", filter.Origin, err)
	}

	w.sub = sub
	g.pending.Add(1)

	return w, nil
}

// Wait is a single pending expectation. It is fulfilled at most once and its
// subscription is released by Await or Cancel, whichever comes first.
type Wait struct {
	gate   *Gate
	filter models.EventFilter
	pred   Predicate
	need   int
	sub    Subscription

	mu     sync.Mutex
	events []*models.AgentEvent
	closed bool
	done   chan struct{}

	releaseOnce sync.Once
}

func (w *Wait) deliver(ev *models.AgentEvent) {
	if ev == nil || !w.pred(ev) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.events = append(w.events, ev)

	if len(w.events) >= w.need {
		w.closed = true
		close(w.done)
	}
}

// Done is closed when the wait is fulfilled.
func (w *Wait) Done() <-chan struct{} {
	return w.done
}

// Await blocks until the wait is fulfilled, the timeout elapses or ctx ends.
// A non-positive timeout uses the gate default. It returns the last matching event.
func (w *Wait) Await(ctx context.Context, timeout time.Duration) (*models.AgentEvent, error) {
	defer w.release()

	if timeout <= 0 {
		timeout = w.gate.defaultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()

		return w.events[len(w.events)-1], nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s from %q after %s", ErrTimeout, w.filter.Type, w.filter.Origin, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Events returns the matching events received so far.
func (w *Wait) Events() []*models.AgentEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]*models.AgentEvent(nil), w.events...)
}

// Cancel releases the wait without waiting.
func (w *Wait) Cancel() {
	w.release()
}

func (w *Wait) release() {
	w.releaseOnce.Do(func() {
		if err := w.sub.Unsubscribe(); err != nil {
			w.gate.logger.Debug().Err(err).Str("origin", w.filter.Origin).Msg("Failed to release event subscription")
		}

		w.gate.pending.Add(-1)
	})
}
