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

package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/observatory/pkg/logger"
)

// NatsStore is a Store on a JetStream KV bucket. It borrows the connection;
// Close stops watches but leaves the connection open.
type NatsStore struct {
	kv     jetstream.KeyValue
	logger logger.Logger
	done   chan struct{}
	once   sync.Once
}

var _ Store = (*NatsStore)(nil)

// NewNatsStore opens the bucket described by cfg, creating or updating it.
func NewNatsStore(ctx context.Context, nc *nats.Conn, cfg *Config, log logger.Logger) (*NatsStore, error) {
	if nc == nil {
		return nil, errNATSConnRequired
	}

	if cfg == nil {
		cfg = &Config{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		js  jetstream.JetStream
		err error
	)

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	config := jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		History:  uint8(cfg.BucketHistory), //nolint:gosec // bounded by Validate
		MaxBytes: cfg.BucketMaxBytes,
		Replicas: cfg.Replicas,
	}

	if cfg.BucketTTL > 0 {
		config.TTL = time.Duration(cfg.BucketTTL) // TTL is bucket level
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", cfg.Bucket, err)
	}

	return &NatsStore{
		kv:     kv,
		logger: log,
		done:   make(chan struct{}),
	}, nil
}

func (n *NatsStore) closed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *NatsStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if n.closed() {
		return nil, false, ErrClosed
	}

	var entry jetstream.KeyValueEntry

	entry, err = n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), true, nil
}

func (n *NatsStore) Put(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if n.closed() {
		return ErrClosed
	}

	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	return nil
}

func (n *NatsStore) Create(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if n.closed() {
		return ErrClosed
	}

	_, err := n.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("%w: %s", ErrKeyExists, key)
	}

	if err != nil {
		return fmt.Errorf("failed to create key %s: %w", key, err)
	}

	return nil
}

func (n *NatsStore) PutMany(ctx context.Context, entries []KeyValueEntry, ttl time.Duration) error {
	for _, e := range entries {
		if err := n.Put(ctx, e.Key, e.Value, ttl); err != nil {
			return err
		}
	}

	return nil
}

func (n *NatsStore) Delete(ctx context.Context, key string) error {
	if n.closed() {
		return ErrClosed
	}

	err := n.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

func (n *NatsStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if n.closed() {
		return nil, ErrClosed
	}

	lister, err := n.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	defer func() {
		if err := lister.Stop(); err != nil {
			n.logger.Debug().Err(err).Msg("Failed to stop key lister")
		}
	}()

	var keys []string

	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

func (n *NatsStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	if n.closed() {
		return nil, ErrClosed
	}

	watcher, err := n.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key %s: %w", key, err)
	}

	ch := make(chan []byte, 1)
	go n.handleWatchUpdates(ctx, key, watcher, ch)

	return ch, nil
}

// handleWatchUpdates processes updates from the watcher and sends them to the channel.
func (n *NatsStore) handleWatchUpdates(ctx context.Context, key string, watcher jetstream.KeyWatcher, ch chan<- []byte) {
	defer func() {
		if err := watcher.Stop(); err != nil {
			n.logger.Debug().Err(err).Str("key", key).Msg("Failed to stop watcher")
		}

		close(ch)
	}()

	for {
		var update jetstream.KeyValueEntry

		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case u, ok := <-watcher.Updates():
			if !ok {
				return
			}

			update = u
		}

		// A nil entry marks the end of the initial values.
		if update == nil {
			continue
		}

		var value []byte
		if op := update.Operation(); op != jetstream.KeyValueDelete && op != jetstream.KeyValuePurge {
			value = update.Value()
		}

		select {
		case ch <- value:
		case <-ctx.Done():
			return
		case <-n.done:
			return
		}
	}
}

// Close ends all watches. The NATS connection stays open.
func (n *NatsStore) Close() error {
	n.once.Do(func() { close(n.done) })

	return nil
}
