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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams(t *testing.T) {
	p := Params{
		MaxEpochs:   10,
		MinEpsilon:  1e-3,
		RandomState: 42,
	}
	assert.Equal(t, 10, p.GetInt(MaxEpochs, 100))
	assert.Equal(t, 100, p.GetInt(NIters, 100))
	assert.Equal(t, float32(1e-3), p.GetFloat32(MinEpsilon, 1e-10))
	assert.Equal(t, int64(42), p.GetInt64(RandomState, 0))
	// type mismatch falls back to the default
	assert.Equal(t, 7, p.GetInt(MinEpsilon, 7))
	assert.True(t, p.GetBool("Missing", true))
	assert.Equal(t, "x", p.GetString("Missing", "x"))
}

func TestParamsCopyOverwrite(t *testing.T) {
	p := Params{MaxEpochs: 10}
	q := p.Copy()
	q[MaxEpochs] = 20
	assert.Equal(t, 10, p.GetInt(MaxEpochs, 0))

	merged := p.Overwrite(Params{MaxEpochs: 30, NIters: 5})
	assert.Equal(t, 30, merged.GetInt(MaxEpochs, 0))
	assert.Equal(t, 5, merged.GetInt(NIters, 0))
	assert.Equal(t, 10, p.GetInt(MaxEpochs, 0))
}

func TestBaseModel(t *testing.T) {
	var m BaseModel
	m.SetParams(Params{RandomState: 7})
	assert.Equal(t, Params{RandomState: 7}, m.GetParams())
	a := m.GetRandomGenerator().Float32()
	m.SetParams(Params{RandomState: 7})
	b := m.GetRandomGenerator().Float32()
	assert.Equal(t, a, b)
}
