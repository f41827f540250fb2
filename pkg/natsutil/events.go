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
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/observatory/pkg/models"
)

const (
	cloudEventSpecVersion = "1.0"
	cloudEventTypePrefix  = "com.carverauto.observatory."
	cloudEventSource      = "observatory/agent/"
)

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js       jetstream.JetStream
	stream   string
	subjects []string
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, subjects []string) *EventPublisher {
	return &EventPublisher{
		js:       js,
		stream:   streamName,
		subjects: subjects,
	}
}

// Stream is the JetStream stream events are persisted to.
func (p *EventPublisher) Stream() string {
	return p.stream
}

// PublishAgentEvent persists ev to the events stream and waits for the ack.
func (p *EventPublisher) PublishAgentEvent(ctx context.Context, ev *models.AgentEvent) error {
	subject, payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s event from %q: %w", ev.Type, ev.Origin, err)
	}

	return nil
}

// CreateEventPublisher creates an EventPublisher with optional NATS domain support,
// creating the stream or extending its subjects as needed.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, cfg *models.EventsConfig, domain string) (*EventPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	subjects := append([]string(nil), cfg.Subjects...)

	stream, err := js.Stream(ctx, cfg.StreamName)

	switch {
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: subjects,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.StreamName, err)
	default:
		info := stream.CachedInfo()
		merged := append([]string(nil), info.Config.Subjects...)

		for _, s := range subjects {
			merged = ensureSubjectList(merged, s)
		}

		if len(merged) != len(info.Config.Subjects) {
			conf := info.Config
			conf.Subjects = merged

			if _, err := js.UpdateStream(ctx, conf); err != nil {
				return nil, fmt.Errorf("failed to update stream %s subjects: %w", cfg.StreamName, err)
			}
		}

		subjects = merged
	}

	return NewEventPublisher(js, cfg.StreamName, subjects), nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// newCloudEvent wraps ev in a CloudEvents 1.0 envelope.
func newCloudEvent(ev *models.AgentEvent) *models.CloudEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	ts := ev.Timestamp

	return &models.CloudEvent{
		SpecVersion:     cloudEventSpecVersion,
		ID:              ev.ID,
		Source:          cloudEventSource + ev.Origin,
		Type:            cloudEventTypePrefix + string(ev.Type),
		DataContentType: "application/json",
		Subject:         EventSubject(ev.Type, ev.Origin),
		Time:            &ts,
		Data:            ev,
	}
}

func encodeEvent(ev *models.AgentEvent) (string, []byte, error) {
	if ev == nil {
		return "", nil, errNilEvent
	}

	ce := newCloudEvent(ev)

	payload, err := json.Marshal(ce)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	return ce.Subject, payload, nil
}

func decodeEvent(data []byte) (*models.AgentEvent, error) {
	var envelope struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}

	if len(envelope.Data) == 0 {
		return nil, errNoEventData
	}

	var ev models.AgentEvent
	if err := json.Unmarshal(envelope.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent event %s: %w", envelope.ID, err)
	}

	return &ev, nil
}
