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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]*memoryWatch
	closed   bool
}

type memoryWatch struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (w *memoryWatch) stop() {
	w.once.Do(func() { close(w.done) })
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*memoryWatch),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.setLocked(key, value)

	return nil
}

func (m *MemoryStore) Create(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, ok := m.data[key]; ok {
		return fmt.Errorf("%w: %s", ErrKeyExists, key)
	}

	m.setLocked(key, value)

	return nil
}

func (m *MemoryStore) PutMany(ctx context.Context, entries []KeyValueEntry, ttl time.Duration) error {
	for _, e := range entries {
		if err := m.Put(ctx, e.Key, e.Value, ttl); err != nil {
			return err
		}
	}

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, ok := m.data[key]; !ok {
		return nil
	}

	delete(m.data, key)
	m.notifyLocked(key, nil)

	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var keys []string

	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// Watch delivers the current value, if any, followed by every change.
// Updates are dropped for a watcher that falls behind by more than one value.
func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	w := &memoryWatch{ch: make(chan []byte, 1), done: make(chan struct{})}

	if v, ok := m.data[key]; ok {
		w.ch <- append([]byte(nil), v...)
	}

	m.watchers[key] = append(m.watchers[key], w)

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer m.dropWatch(key, w)

		for {
			select {
			case v := <-w.ch:
				select {
				case out <- v:
				case <-ctx.Done():
					return
				case <-w.done:
					return
				}
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}()

	return out, nil
}

func (m *MemoryStore) dropWatch(key string, w *memoryWatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.watchers[key]
	for i := range list {
		if list[i] == w {
			m.watchers[key] = append(list[:i], list[i+1:]...)

			break
		}
	}

	if len(m.watchers[key]) == 0 {
		delete(m.watchers, key)
	}
}

func (m *MemoryStore) setLocked(key string, value []byte) {
	v := append([]byte(nil), value...)
	m.data[key] = v
	m.notifyLocked(key, v)
}

func (m *MemoryStore) notifyLocked(key string, value []byte) {
	for _, w := range m.watchers[key] {
		select {
		case w.ch <- append([]byte(nil), value...):
		default:
		}
	}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	for _, list := range m.watchers {
		for _, w := range list {
			w.stop()
		}
	}

	return nil
}
