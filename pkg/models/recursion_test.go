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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecursion(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		unbounded bool
		depth     int
		wantErr   bool
	}{
		{name: "true", raw: `true`, unbounded: true},
		{name: "false", raw: `false`, depth: 1},
		{name: "three", raw: `3`, depth: 3},
		{name: "zero clamps to self", raw: `0`, depth: 1},
		{name: "negative clamps to self", raw: `-2`, depth: 1},
		{name: "fraction", raw: `1.5`, wantErr: true},
		{name: "string", raw: `"all"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Recursion

			err := json.Unmarshal([]byte(tt.raw), &r)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRecursion)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.unbounded, r.Unbounded())

			if !tt.unbounded {
				assert.Equal(t, tt.depth, r.Depth())
			}
		})
	}
}

func TestRecursionDescend(t *testing.T) {
	all, ok := RecurseAll().Descend()
	require.True(t, ok)
	assert.True(t, all.Unbounded())

	_, ok = RecurseSelf().Descend()
	assert.False(t, ok)

	r := RecurseDepth(3)
	levels := 1

	for {
		next, more := r.Descend()
		if !more {
			break
		}

		levels++
		r = next
	}

	assert.Equal(t, 3, levels)
}

func TestRecursionValue(t *testing.T) {
	assert.Equal(t, true, RecurseAll().Value())
	assert.Equal(t, false, RecurseSelf().Value())
	assert.Equal(t, 4, RecurseDepth(4).Value())
}
