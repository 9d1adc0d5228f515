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

package ranking

import (
	"testing"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/matching/base"
	"github.com/gorse-io/matching/score"
	"github.com/stretchr/testify/assert"
)

func TestAssignTopK(t *testing.T) {
	device := score.CPU()
	defer device.Reset()
	m := score.Dense([][]float32{
		{0.9, 0.1, 0.5, 0.3},
		{0.2, 0.8, 0.7, 0.1},
		{0.4, 0.4, 0.9, 0.6},
	})
	assignment, err := AssignTopK(m, 2, 0, 0, device)
	assert.NoError(t, err)
	rows, cols := assignment.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, 2, assignment.K())
	assert.Equal(t, []int32{0, 2}, assignment.Columns(0))
	assert.Equal(t, []int32{1, 2}, assignment.Columns(1))
	assert.Equal(t, []int32{2, 3}, assignment.Columns(2))
	assert.True(t, assignment.Contains(0, 0))
	assert.False(t, assignment.Contains(0, 1))
	assert.Equal(t, [][]float32{
		{1, 0, 1, 0},
		{0, 1, 1, 0},
		{0, 0, 1, 1},
	}, assignment.Dense())
}

func TestAssignTopKTieBreaking(t *testing.T) {
	device := score.CPU()
	defer device.Reset()
	// every entry ties, so selection is decided by the seeded noise
	data := base.NewMatrix32(8, 16)
	m := score.Dense(data)

	first, err := AssignTopK(m, 4, 1e-10, 42, device)
	assert.NoError(t, err)
	second, err := AssignTopK(m, 4, 1e-10, 42, device)
	assert.NoError(t, err)
	assert.Equal(t, first.Dense(), second.Dense())

	// a different seed breaks ties differently on at least one row
	other, err := AssignTopK(m, 4, 1e-10, 43, device)
	assert.NoError(t, err)
	assert.NotEqual(t, first.Dense(), other.Dense())

	// every tied row still gets exactly k picks
	for i := 0; i < 8; i++ {
		picked := mapset.NewSet[int32](first.Columns(i)...)
		assert.Equal(t, 4, picked.Cardinality())
	}
}

func TestAssignTopKTieBreakingNonzeroScores(t *testing.T) {
	device := score.CPU()
	defer device.Reset()
	// ties away from zero: the noise is far below the float32 spacing at 0.5,
	// so it only survives because ranking accumulates in float64
	data := base.NewMatrix32(8, 16)
	for i := range data {
		for j := range data[i] {
			data[i][j] = 0.5
		}
	}
	m := score.Dense(data)

	first, err := AssignTopK(m, 4, 1e-10, 42, device)
	assert.NoError(t, err)
	second, err := AssignTopK(m, 4, 1e-10, 42, device)
	assert.NoError(t, err)
	assert.Equal(t, first.Dense(), second.Dense())

	other, err := AssignTopK(m, 4, 1e-10, 43, device)
	assert.NoError(t, err)
	assert.NotEqual(t, first.Dense(), other.Dense())

	for i := 0; i < 8; i++ {
		picked := mapset.NewSet[int32](first.Columns(i)...)
		assert.Equal(t, 4, picked.Cardinality())
	}
}

func TestAssignTopKExcludesNegInf(t *testing.T) {
	device := score.CPU()
	defer device.Reset()
	negInf := math32.Inf(-1)
	m := score.Dense([][]float32{
		{negInf, 0.1, negInf, 0.3},
		{0.2, negInf, 0.7, 0.1},
	})
	assignment, err := AssignTopK(m, 2, 1e-10, 0, device)
	assert.NoError(t, err)
	assert.Equal(t, []int32{3, 1}, assignment.Columns(0))
	assert.False(t, assignment.Contains(0, 0))
	assert.False(t, assignment.Contains(0, 2))
	assert.False(t, assignment.Contains(1, 1))

	// a row with fewer finite entries than k fails
	_, err = AssignTopK(m, 3, 0, 0, device)
	assert.Error(t, err)
	_, err = AssignTopK(m, 5, 0, 0, device)
	assert.Error(t, err)
}

func TestAssignTopKBatched(t *testing.T) {
	// tiny budget forces row batches; result must not depend on batching
	unbatched := score.CPU()
	defer unbatched.Reset()
	batched := score.NewDevice(1, 160)
	defer batched.Reset()
	rng := base.NewRandomGenerator(7)
	m := score.Dense(rng.UniformMatrix(30, 4, -1, 1))

	want, err := AssignTopK(m, 2, 0, 0, unbatched)
	assert.NoError(t, err)
	got, err := AssignTopK(m, 2, 0, 0, batched)
	assert.NoError(t, err)
	assert.Equal(t, want.Dense(), got.Dense())
}

func TestArgsort(t *testing.T) {
	device := score.CPU()
	defer device.Reset()
	m := score.Dense([][]float32{
		{0.3, 0.9},
		{0.5, 0.1},
	})
	rows, cols, err := Argsort(m, 0, 0, device)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1}, rows)
	assert.Equal(t, []int{1, 0, 0, 1}, cols)

	// ties resolve identically under the same seed
	flat := base.NewMatrix32(4, 4)
	r1, c1, err := Argsort(score.Dense(flat), 1e-10, 9, device)
	assert.NoError(t, err)
	r2, c2, err := Argsort(score.Dense(flat), 1e-10, 9, device)
	assert.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, c1, c2)

	// -Inf entries sort last
	negInf := math32.Inf(-1)
	rows, cols, err = Argsort(score.Dense([][]float32{{negInf, 1, 2}}), 0, 0, device)
	assert.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, cols)
	assert.Equal(t, []int{0, 0, 0}, rows)
}
