// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func TestRandomGenerator_UniformVector(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.UniformVector(1000, -1, 1)
	assert.Len(t, vec, 1000)
	for _, v := range vec {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.Less(t, v, float32(1))
	}
	// same seed, same vector
	vec2 := NewRandomGenerator(0).UniformVector(1000, -1, 1)
	assert.Equal(t, vec, vec2)
	// different seed, different vector
	vec3 := NewRandomGenerator(1).UniformVector(1000, -1, 1)
	assert.NotEqual(t, vec, vec3)
}

func TestRandomGenerator_Sample(t *testing.T) {
	rng := NewRandomGenerator(42)
	exclude := mapset.NewSet[int](0, 1, 2)
	sampled := rng.Sample(0, 10, 5, exclude)
	assert.Len(t, sampled, 5)
	for _, v := range sampled {
		assert.False(t, exclude.Contains(v))
	}
}

func TestNewMatrix32(t *testing.T) {
	m := NewMatrix32(3, 4)
	assert.Len(t, m, 3)
	for _, row := range m {
		assert.Len(t, row, 4)
	}
}
