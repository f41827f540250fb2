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

// Package observatory runs the coordinator end to end: it provisions a
// platform subtree in the registry and drives its agents through a full
// lifecycle over NATS.
package observatory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/observatory/pkg/agent"
	"github.com/carverauto/observatory/pkg/agentconfig"
	"github.com/carverauto/observatory/pkg/config"
	"github.com/carverauto/observatory/pkg/coordinator"
	"github.com/carverauto/observatory/pkg/deployment"
	"github.com/carverauto/observatory/pkg/eventgate"
	"github.com/carverauto/observatory/pkg/kv"
	"github.com/carverauto/observatory/pkg/launcher"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/natsutil"
	"github.com/carverauto/observatory/pkg/registry"
	"github.com/carverauto/observatory/pkg/simulator"
	"github.com/carverauto/observatory/pkg/topology"
)

var (
	errPendingWaits = errors.New("event waits left pending")
	errNoDataStream = errors.New("root platform has no data stream")
)

const parsedStream = "parsed"

// lifecycleSequence is the command sequence driven from the root platform.
// Every command recurses through the whole tree.
//
//nolint:gochecknoglobals // fixed sequence
var lifecycleSequence = []models.Command{
	models.CommandInitialize,
	models.CommandGoActive,
	models.CommandRun,
	models.CommandStartMonitoring,
	models.CommandStopMonitoring,
	models.CommandPause,
	models.CommandResume,
	models.CommandClear,
	models.CommandGoInactive,
	models.CommandReset,
}

// Report summarizes a completed run.
type Report struct {
	RootPlatform    string                       `json:"root_platform"`
	Platforms       int                          `json:"platforms"`
	Instruments     int                          `json:"instruments"`
	Commands        []models.Command             `json:"commands"`
	LifecycleEvents int                          `json:"lifecycle_events"`
	FirstSample     *models.DataSample           `json:"first_sample,omitempty"`
	Ping            string                       `json:"ping,omitempty"`
	FinalStates     map[string]models.AgentState `json:"final_states"`
}

// Service implements lifecycle.Service. Start provisions and runs the full
// lifecycle, returning when the tree has been shut down.
type Service struct {
	cfg        *ServiceConfig
	configPath string
	logger     logger.Logger

	mu       sync.Mutex
	embedded *server.Server
	storeDir string
	nc       *nats.Conn
	store    *kv.NatsStore
	launcher *launcher.SimLauncher
	coord    *coordinator.Coordinator
	report   Report
}

type Option func(*Service)

// WithConfigPath seeds the registry bucket with the loaded configuration
// under the key derived from path.
func WithConfigPath(path string) Option {
	return func(s *Service) { s.configPath = path }
}

func NewService(cfg *ServiceConfig, log logger.Logger, opts ...Option) *Service {
	s := &Service{cfg: cfg, logger: log}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Report returns the summary of the last run.
func (s *Service) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.report
}

func (s *Service) connect(ctx context.Context) (*nats.Conn, error) {
	natsCfg := *s.cfg.NATS

	if natsCfg.Embedded {
		dir := s.cfg.StoreDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "observatory-js-")
			if err != nil {
				return nil, fmt.Errorf("failed to create JetStream store dir: %w", err)
			}

			dir = tmp

			s.mu.Lock()
			s.storeDir = tmp
			s.mu.Unlock()
		}

		srv, err := natsutil.RunEmbedded(natsutil.EmbeddedOptions{StoreDir: dir})
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.embedded = srv
		s.mu.Unlock()

		natsCfg.URL = srv.ClientURL()

		s.logger.Info().Str("url", natsCfg.URL).Msg("Started embedded NATS server")
	}

	return natsutil.Connect(ctx, &natsCfg, s.logger)
}

// Start implements lifecycle.Service.
func (s *Service) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	return s.run(ctx)
}

type runtime struct {
	gate    *eventgate.Gate
	streams *natsutil.StreamBus
	coord   *coordinator.Coordinator
	root    *deployment.Platform
}

//nolint:funlen // linear wiring of the run
func (s *Service) setup(ctx context.Context) error {
	nc, err := s.connect(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.nc = nc
	s.mu.Unlock()

	store, err := kv.NewNatsStore(ctx, nc, s.cfg.Registry, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open registry bucket: %w", err)
	}

	s.mu.Lock()
	s.store = store
	s.mu.Unlock()

	if s.configPath != "" {
		seeded, err := config.BootstrapKV(ctx, store, s.configPath, s.cfg)
		if err != nil {
			return err
		}

		s.logger.Debug().Bool("seeded", seeded).Str("key", config.KeyFor(s.configPath)).Msg("Configuration published to registry bucket")
	}

	return nil
}

func (s *Service) network() (*topology.Network, error) {
	if s.cfg.NetworkFile != "" {
		return topology.LoadFile(s.cfg.NetworkFile)
	}

	return topology.DefaultNetwork()
}

//nolint:funlen // linear wiring of the run
func (s *Service) build(ctx context.Context) (*runtime, error) {
	s.mu.Lock()
	nc, store := s.nc, s.store
	s.mu.Unlock()

	net, err := s.network()
	if err != nil {
		return nil, err
	}

	reg := registry.New(store, s.logger)
	dir := agentconfig.NewDirectory()
	catalog := deployment.DefaultCatalog(s.cfg.InstrumentDefaults)
	prov := deployment.NewProvisioner(reg, net, dir, catalog, s.logger)

	plan := s.cfg.Plan(catalog)
	if _, err := prov.Deploy(ctx, plan); err != nil {
		return nil, err
	}

	var busOpts []natsutil.EventBusOption

	if s.cfg.Events.Enabled {
		pub, err := natsutil.CreateEventPublisher(ctx, nc, s.cfg.Events, s.cfg.NATS.Domain)
		if err != nil {
			return nil, err
		}

		busOpts = append(busOpts, natsutil.WithEventPublisher(pub))
	}

	bus := natsutil.NewEventBus(nc, s.logger, busOpts...)
	streams := natsutil.NewStreamBus(nc, s.logger)
	gate := eventgate.New(bus, s.logger, eventgate.WithDefaultTimeout(s.cfg.ReceiveTimeout.Or(coordinator.DefaultReceiveTimeout)))

	l := launcher.New(bus, simulator.NewHub(), s.logger,
		launcher.WithNATS(nc),
		launcher.WithSamplePublisher(streams),
		launcher.WithSampleInterval(s.cfg.SampleInterval.Or(DefaultSampleInterval)),
	)

	orgName := s.cfg.OrgName
	if orgName == "" {
		orgName = agentconfig.DefaultOrgName
	}

	assembler := agentconfig.NewAssembler(net, dir, agentconfig.WithOrgName(orgName))
	dialer := agent.NewDialer(natsutil.NewRPCClient(nc), s.cfg.RPCTimeout.Or(DefaultRPCTimeout))
	coord := coordinator.New(l, gate, dialer, assembler, s.logger, *s.cfg.coordinatorConfig())

	if err := prov.Register(coord, plan.Root); err != nil {
		return nil, err
	}

	root, _ := prov.Platform(plan.Root)

	s.mu.Lock()
	s.launcher = l
	s.coord = coord
	s.mu.Unlock()

	return &runtime{gate: gate, streams: streams, coord: coord, root: root}, nil
}

//nolint:funlen // the lifecycle is one linear sequence
func (s *Service) run(ctx context.Context) error {
	rt, err := s.build(ctx)
	if err != nil {
		return err
	}

	rootID := rt.root.NodeID
	report := Report{RootPlatform: rootID, FinalStates: make(map[string]models.AgentState)}

	for _, n := range rt.coord.Nodes() {
		if n.Kind == models.DeviceKindInstrument {
			report.Instruments++
		} else {
			report.Platforms++
		}
	}

	s.logger.Info().Str("root_platform", rootID).Int("platforms", report.Platforms).
		Int("instruments", report.Instruments).Msg("Starting agent tree")

	if err := rt.coord.StartTree(ctx, rootID); err != nil {
		return fmt.Errorf("failed to start tree %s: %w", rootID, err)
	}

	lifecycleEvents, err := rt.gate.ExpectN(ctx,
		models.EventFilter{Type: models.EventTypeAgentLifecycle, Origin: rt.root.DeviceID},
		eventgate.AnyEvent(), len(lifecycleSequence))
	if err != nil {
		return err
	}
	defer lifecycleEvents.Cancel()

	for _, cmd := range lifecycleSequence {
		if err := rt.coord.Execute(ctx, rootID, models.NewAgentCommand(cmd, models.RecurseAll())); err != nil {
			return fmt.Errorf("%s on %s: %w", cmd, rootID, err)
		}

		report.Commands = append(report.Commands, cmd)

		switch cmd {
		case models.CommandGoActive:
			if report.Ping, err = rt.coord.PingResource(ctx, rootID); err != nil {
				return err
			}
		case models.CommandStartMonitoring:
			if report.FirstSample, err = s.awaitData(ctx, rt); err != nil {
				return err
			}
		default:
		}
	}

	last, err := lifecycleEvents.Await(ctx, 0)
	if err != nil {
		return fmt.Errorf("lifecycle events from %s: %w", rootID, err)
	}

	report.LifecycleEvents = len(lifecycleEvents.Events())

	s.logger.Debug().Str("origin", last.Origin).Str("sub_type", last.SubType).Msg("Last lifecycle event received")

	for _, n := range rt.coord.Nodes() {
		report.FinalStates[n.NodeID] = n.State
	}

	if err := rt.coord.Shutdown(ctx, rootID, models.RecurseAll()); err != nil {
		return fmt.Errorf("shutdown of %s: %w", rootID, err)
	}

	if err := rt.coord.StopTree(ctx, rootID); err != nil {
		return err
	}

	if pending := rt.gate.Pending(); pending != 0 {
		return fmt.Errorf("%w: %d", errPendingWaits, pending)
	}

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	s.logger.Info().Str("root_platform", rootID).Int("lifecycle_events", report.LifecycleEvents).
		Msg("Lifecycle completed")

	return nil
}

// awaitData waits for a sample on the root platform's parsed stream.
func (s *Service) awaitData(ctx context.Context, rt *runtime) (*models.DataSample, error) {
	if len(rt.root.Streams) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoDataStream, rt.root.NodeID)
	}

	stream := rt.root.Streams[0]

	for _, sc := range rt.root.Streams {
		if sc.StreamName == parsedStream {
			stream = sc

			break
		}
	}

	timeout := s.cfg.DataTimeout.Or(DefaultDataTimeout)

	sample, err := rt.streams.WaitForSample(ctx, stream.StreamName, stream.StreamID, timeout)
	if err != nil {
		return nil, fmt.Errorf("no data on %s within %s: %w", stream.StreamName, timeout, err)
	}

	s.logger.Info().Str("stream", stream.StreamName).Str("stream_id", stream.StreamID).Msg("Received data sample")

	return sample, nil
}

// Stop implements lifecycle.Service. It tears down anything a failed or
// interrupted run left behind.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	coord, l, store, nc, srv, dir := s.coord, s.launcher, s.store, s.nc, s.embedded, s.storeDir
	s.mu.Unlock()

	var errs []error

	if coord != nil {
		for _, n := range coord.Nodes() {
			if n.ParentID != "" {
				continue
			}

			if err := coord.StopTree(ctx, n.NodeID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if l != nil {
		l.Shutdown()
	}

	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}

	if srv != nil {
		srv.Shutdown()
		srv.WaitForShutdown()
	}

	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
