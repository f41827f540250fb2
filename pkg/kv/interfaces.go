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

//go:generate mockgen -destination=mock_kv.go -package=kv github.com/carverauto/observatory/pkg/kv Store

// Package kv is the key-value storage behind the resource registry.
package kv

import (
	"context"
	"time"
)

// Store is a key-value store.
type Store interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key. A zero ttl keeps the value until deleted;
	// backends with bucket-level expiry ignore it.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Create stores value only if key does not exist yet, returning ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutMany stores several entries.
	PutMany(ctx context.Context, entries []KeyValueEntry, ttl time.Duration) error

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Watch streams the values of key, nil on deletion. The channel closes when
	// ctx ends or the store is closed.
	Watch(ctx context.Context, key string) (<-chan []byte, error)

	Close() error
}

// KeyValueEntry is one entry of a PutMany batch.
type KeyValueEntry struct {
	Key   string
	Value []byte
}
