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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/carverauto/observatory/pkg/kv"
)

var errKVKeyNotFound = errors.New("key not found in KV store")

// KVConfigLoader loads configuration from a KV store.
type KVConfigLoader struct {
	store kv.Store
}

func NewKVConfigLoader(store kv.Store) *KVConfigLoader {
	return &KVConfigLoader{store: store}
}

// KeyFor returns the KV key holding the configuration file at path.
func KeyFor(configPath string) string {
	return "config." + kvToken(path.Base(configPath))
}

func kvToken(s string) string {
	out := []byte(s)

	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}

	return string(out)
}

// Load implements ConfigLoader by fetching and unmarshaling data from the KV store.
func (k *KVConfigLoader) Load(ctx context.Context, configPath string, dst interface{}) error {
	key := KeyFor(configPath)

	data, found, err := k.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get key '%s' from KV store: %w", key, err)
	}

	if !found {
		return fmt.Errorf("%w: '%s'", errKVKeyNotFound, key)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from key '%s': %w", key, err)
	}

	return nil
}

// BootstrapKV stores cfg under the key for configPath unless a value is
// already present. It reports whether it wrote the value.
func BootstrapKV(ctx context.Context, store kv.Store, configPath string, cfg interface{}) (bool, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("failed to encode configuration: %w", err)
	}

	err = store.Create(ctx, KeyFor(configPath), data, 0)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrKeyExists):
		return false, nil
	default:
		return false, fmt.Errorf("failed to seed configuration: %w", err)
	}
}
