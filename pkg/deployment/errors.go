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

package deployment

import "errors"

var (
	// ErrUnknownInstrument is returned for a key missing from the catalog.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrAlreadyProvisioned is returned when a platform or instrument is created twice.
	ErrAlreadyProvisioned = errors.New("already provisioned")
	// ErrNotProvisioned is returned when a platform or instrument has not been created.
	ErrNotProvisioned = errors.New("not provisioned")
)
