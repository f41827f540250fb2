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

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Recursion bounds how far a command propagates below the node it targets.
//
// On the wire it is either a boolean or an integer. true means the whole subtree,
// false means the target only, and n >= 1 means n levels counting the target itself.
// Zero and negative depths behave like false.
type Recursion struct {
	all   bool
	depth int
}

// RecurseAll propagates through the whole subtree.
func RecurseAll() Recursion { return Recursion{all: true} }

// RecurseSelf applies a command to the target node only.
func RecurseSelf() Recursion { return Recursion{depth: 1} }

// RecurseDepth propagates through n levels, the target being level one.
func RecurseDepth(n int) Recursion {
	if n < 1 {
		n = 1
	}

	return Recursion{depth: n}
}

// Unbounded reports whether the recursion covers the full subtree.
func (r Recursion) Unbounded() bool { return r.all }

// Depth returns the bounded depth, or 0 when unbounded.
func (r Recursion) Depth() int {
	if r.all {
		return 0
	}

	if r.depth < 1 {
		return 1
	}

	return r.depth
}

// Descend returns the recursion to hand to children and whether children
// should receive the command at all.
func (r Recursion) Descend() (Recursion, bool) {
	if r.all {
		return r, true
	}

	if r.depth <= 1 {
		return Recursion{}, false
	}

	return Recursion{depth: r.depth - 1}, true
}

// Value returns the wire representation placed in command kwargs.
func (r Recursion) Value() interface{} {
	if r.all {
		return true
	}

	if r.depth <= 1 {
		return false
	}

	return r.depth
}

func (r Recursion) String() string {
	if r.all {
		return "all"
	}

	return strconv.Itoa(r.Depth())
}

// MarshalJSON implements json.Marshaler.
func (r Recursion) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Recursion) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	parsed, err := ParseRecursion(v)
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// ParseRecursion converts a decoded kwargs value into a Recursion.
func ParseRecursion(v interface{}) (Recursion, error) {
	switch value := v.(type) {
	case bool:
		if value {
			return RecurseAll(), nil
		}

		return RecurseSelf(), nil
	case int:
		return RecurseDepth(value), nil
	case int64:
		return RecurseDepth(int(value)), nil
	case float64:
		if value != math.Trunc(value) {
			return Recursion{}, fmt.Errorf("%w: %v", ErrInvalidRecursion, value)
		}

		return RecurseDepth(int(value)), nil
	case Recursion:
		return value, nil
	default:
		return Recursion{}, fmt.Errorf("%w: %T", ErrInvalidRecursion, v)
	}
}
