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

// Package launcher runs simulated agents as in-process "processes" addressed
// by agent instance id and process id.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/natsutil"
	"github.com/carverauto/observatory/pkg/simulator"
)

var (
	// ErrProcessNotFound is returned when no live process matches an instance or process id.
	ErrProcessNotFound = models.ErrProcessNotFound
	// ErrAlreadyRunning is returned when an agent instance already has a live process.
	ErrAlreadyRunning = errors.New("agent instance already running")
)

// AgentOptions returns extra simulator options for one agent instance.
type AgentOptions func(instanceID string, cfg *models.AgentInstanceConfig) []simulator.Option

// SimLauncher starts simulated agents. Agents are reachable through the hub
// and, when a NATS connection is configured, over NATS agent RPC.
type SimLauncher struct {
	events     eventgate.Publisher
	hub        *simulator.Hub
	logger     logger.Logger
	nc         *nats.Conn
	samples    simulator.SamplePublisher
	startDelay time.Duration
	interval   time.Duration
	agentOpts  AgentOptions

	mu         sync.Mutex
	procs      map[string]*process
	byInstance map[string]string
}

type process struct {
	id         string
	instanceID string
	agent      *simulator.Agent
	running    chan struct{}
	stopped    chan struct{}
	cancel     context.CancelFunc

	once sync.Once
	mu   sync.Mutex
	sub  *nats.Subscription
}

type Option func(*SimLauncher)

// WithNATS serves each agent's RPC subject on nc.
func WithNATS(nc *nats.Conn) Option {
	return func(l *SimLauncher) { l.nc = nc }
}

// WithSamplePublisher lets monitoring agents publish data samples.
func WithSamplePublisher(p simulator.SamplePublisher) Option {
	return func(l *SimLauncher) { l.samples = p }
}

// WithStartDelay delays each agent becoming reachable.
func WithStartDelay(d time.Duration) Option {
	return func(l *SimLauncher) { l.startDelay = d }
}

func WithSampleInterval(d time.Duration) Option {
	return func(l *SimLauncher) { l.interval = d }
}

func WithAgentOptions(fn AgentOptions) Option {
	return func(l *SimLauncher) { l.agentOpts = fn }
}

func New(events eventgate.Publisher, hub *simulator.Hub, log logger.Logger, opts ...Option) *SimLauncher {
	l := &SimLauncher{
		events:     events,
		hub:        hub,
		logger:     log,
		procs:      make(map[string]*process),
		byInstance: make(map[string]string),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start launches the agent for instanceID with cfg and returns its process id.
// The agent becomes reachable asynchronously; see AwaitRunning.
func (l *SimLauncher) Start(ctx context.Context, instanceID string, cfg *models.AgentInstanceConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pid, ok := l.byInstance[instanceID]; ok {
		return "", fmt.Errorf("%w: %s (process %s)", ErrAlreadyRunning, instanceID, pid)
	}

	pid := uuid.New().String()

	opts := []simulator.Option{
		simulator.WithShutdownHook(func() {
			l.logger.Debug().Str("process_id", pid).Msg("Agent shut down, terminating process")
			l.terminate(pid)
		}),
	}

	if l.samples != nil {
		opts = append(opts, simulator.WithSamplePublisher(l.samples))
	}

	if l.interval > 0 {
		opts = append(opts, simulator.WithSampleInterval(l.interval))
	}

	if l.agentOpts != nil {
		opts = append(opts, l.agentOpts(instanceID, cfg)...)
	}

	a, err := simulator.New(cfg, l.events, l.logger, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create agent for %s: %w", instanceID, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())

	p := &process{
		id:         pid,
		instanceID: instanceID,
		agent:      a,
		running:    make(chan struct{}),
		stopped:    make(chan struct{}),
		cancel:     cancel,
	}

	l.procs[pid] = p
	l.byInstance[instanceID] = pid

	go l.run(procCtx, p)

	l.logger.Info().Str("instance_id", instanceID).Str("process_id", pid).Str("origin", a.Origin()).Msg("Launched agent")

	return pid, nil
}

func (l *SimLauncher) run(ctx context.Context, p *process) {
	if l.startDelay > 0 {
		timer := time.NewTimer(l.startDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}

	l.hub.Register(p.agent)

	if l.nc != nil {
		sub, err := natsutil.ServeRPC(ctx, l.nc, p.agent.Origin(), p.agent.Handle, l.logger)
		if err != nil {
			l.logger.Error().Err(err).Str("process_id", p.id).Msg("Failed to serve agent RPC")
			l.terminate(p.id)

			return
		}

		p.mu.Lock()
		p.sub = sub
		p.mu.Unlock()
	}

	if ctx.Err() != nil {
		l.release(p)

		return
	}

	if err := p.agent.Start(ctx); err != nil {
		l.logger.Error().Err(err).Str("process_id", p.id).Msg("Agent failed to start")
		l.terminate(p.id)

		return
	}

	close(p.running)
}

// AwaitRunning waits until the process is serving requests. It returns false
// without error when the timeout elapses or the process exits first.
func (l *SimLauncher) AwaitRunning(ctx context.Context, processID string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	p, ok := l.procs[processID]
	l.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("%w: process %s", ErrProcessNotFound, processID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.running:
		return true, nil
	case <-p.stopped:
		return false, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stop terminates the process of instanceID.
func (l *SimLauncher) Stop(_ context.Context, instanceID string) error {
	l.mu.Lock()
	pid, ok := l.byInstance[instanceID]
	l.mu.Unlock()

	if !ok || !l.terminate(pid) {
		return fmt.Errorf("%w: instance %s", ErrProcessNotFound, instanceID)
	}

	return nil
}

// Cancel terminates processID.
func (l *SimLauncher) Cancel(_ context.Context, processID string) error {
	if !l.terminate(processID) {
		return fmt.Errorf("%w: process %s", ErrProcessNotFound, processID)
	}

	return nil
}

// Len reports live processes.
func (l *SimLauncher) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.procs)
}

// Agent returns the agent running for instanceID.
func (l *SimLauncher) Agent(instanceID string) (*simulator.Agent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pid, ok := l.byInstance[instanceID]
	if !ok {
		return nil, false
	}

	return l.procs[pid].agent, true
}

// Shutdown terminates every process.
func (l *SimLauncher) Shutdown() {
	l.mu.Lock()
	pids := make([]string, 0, len(l.procs))

	for pid := range l.procs {
		pids = append(pids, pid)
	}
	l.mu.Unlock()

	for _, pid := range pids {
		l.terminate(pid)
	}
}

func (l *SimLauncher) terminate(pid string) bool {
	l.mu.Lock()
	p, ok := l.procs[pid]

	if ok {
		delete(l.procs, pid)
		delete(l.byInstance, p.instanceID)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}

	l.release(p)
	l.logger.Info().Str("instance_id", p.instanceID).Str("process_id", pid).Msg("Terminated agent process")

	return true
}

// release frees everything the process holds. It is safe to call again to
// drop resources acquired by a start that raced with termination.
func (l *SimLauncher) release(p *process) {
	p.once.Do(func() {
		p.cancel()
		close(p.stopped)
		p.agent.Close()
	})

	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			l.logger.Debug().Err(err).Str("process_id", p.id).Msg("Failed to drop agent RPC subscription")
		}
	}

	l.hub.Deregister(p.agent)
}
