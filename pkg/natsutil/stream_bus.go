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
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

// SampleHandler receives data samples from a stream subscription.
type SampleHandler func(sample *models.DataSample)

// StreamBus publishes and consumes device data samples.
type StreamBus struct {
	nc     *nats.Conn
	logger logger.Logger
}

func NewStreamBus(nc *nats.Conn, log logger.Logger) *StreamBus {
	return &StreamBus{nc: nc, logger: log}
}

// Publish sends sample on the subject of its stream id.
func (b *StreamBus) Publish(_ context.Context, sample *models.DataSample) error {
	if sample == nil {
		return errNilSample
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample for stream %s: %w", sample.StreamID, err)
	}

	if err := b.nc.Publish(StreamSubject(sample.StreamID), payload); err != nil {
		return fmt.Errorf("failed to publish sample on stream %s: %w", sample.StreamID, err)
	}

	return nil
}

// Subscribe joins the <streamName>_queue group on the stream's subject. The
// subscription is live on the server when Subscribe returns.
func (b *StreamBus) Subscribe(ctx context.Context, streamName, streamID string, handler SampleHandler) (*nats.Subscription, error) {
	subject := StreamSubject(streamID)

	sub, err := b.nc.QueueSubscribe(subject, QueueGroup(streamName), func(msg *nats.Msg) {
		var sample models.DataSample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable data sample")

			return
		}

		handler(&sample)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to stream %s: %w", streamID, err)
	}

	if err := flush(ctx, b.nc); err != nil {
		_ = sub.Unsubscribe()

		return nil, fmt.Errorf("failed to flush stream subscription %s: %w", streamID, err)
	}

	return sub, nil
}

// WaitForSample blocks until one sample arrives on the stream or the timeout elapses.
func (b *StreamBus) WaitForSample(ctx context.Context, streamName, streamID string, timeout time.Duration) (*models.DataSample, error) {
	got := make(chan *models.DataSample, 1)

	sub, err := b.Subscribe(ctx, streamName, streamID, func(sample *models.DataSample) {
		select {
		case got <- sample:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug().Err(err).Str("stream_id", streamID).Msg("Failed to release stream subscription")
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sample := <-got:
		return sample, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: stream %s (%s) after %s", ErrDataTimeout, streamName, streamID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
