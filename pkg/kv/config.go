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
	"github.com/carverauto/observatory/pkg/models"
)

const (
	// DefaultBucket holds registry records when no bucket is configured.
	DefaultBucket = "observatory-registry"

	maxBucketHistory = 64
)

// Config describes the JetStream KV bucket.
type Config struct {
	Bucket         string          `json:"bucket,omitempty"`
	Domain         string          `json:"domain,omitempty"`           // Optional JetStream domain
	BucketMaxBytes int64           `json:"bucket_max_bytes,omitempty"` // Hard cap for bucket size (bytes)
	BucketTTL      models.Duration `json:"bucket_ttl,omitempty"`       // TTL for entries (0 = no expiry)
	BucketHistory  uint32          `json:"bucket_history,omitempty"`   // History depth per key
	Replicas       int             `json:"replicas,omitempty"`
}

// Validate fills defaults and rejects values JetStream would refuse.
func (c *Config) Validate() error {
	c.setDefaultBucket()
	c.setDefaultBucketOptions()

	if c.BucketHistory > maxBucketHistory {
		return errBucketHistoryTooLarge
	}

	return nil
}

// setDefaultBucket assigns a default bucket name if none is specified.
func (c *Config) setDefaultBucket() {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
}

func (c *Config) setDefaultBucketOptions() {
	if c.BucketHistory == 0 {
		c.BucketHistory = 1
	}

	if c.BucketTTL < 0 {
		c.BucketTTL = 0
	}

	if c.BucketMaxBytes < 0 {
		c.BucketMaxBytes = 0
	}

	if c.Replicas < 1 {
		c.Replicas = 1
	}
}
