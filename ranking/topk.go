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

// Package ranking hardens soft assignment matrices into discrete
// recommendation slates. Scores are consumed through score.Matrix so
// hardening streams over row batches without materializing the whole matrix.
package ranking

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/matching/base"
	"github.com/gorse-io/matching/base/heap"
	"github.com/gorse-io/matching/score"
	"github.com/juju/errors"
)

// TopKMatrix is a sparse binary assignment with exactly k selected columns
// per row, stored in compressed sparse row form.
type TopKMatrix struct {
	rows, cols int
	k          int
	indptr     []int
	indices    []int32
	member     *bitset.BitSet
}

// Shape returns the assignment dimensions.
func (m *TopKMatrix) Shape() (rows, cols int) {
	return m.rows, m.cols
}

// K returns the number of selected columns per row.
func (m *TopKMatrix) K() int {
	return m.k
}

// Columns returns the selected columns of a row in descending score order.
// The returned slice is a view into the CSR storage.
func (m *TopKMatrix) Columns(i int) []int32 {
	return m.indices[m.indptr[i]:m.indptr[i+1]]
}

// Contains reports whether column j is selected in row i.
func (m *TopKMatrix) Contains(i, j int) bool {
	return m.member.Test(uint(i*m.cols + j))
}

// Dense materializes the assignment as a 0/1 matrix.
func (m *TopKMatrix) Dense() [][]float32 {
	out := base.NewMatrix32(m.rows, m.cols)
	for i := 0; i < m.rows; i++ {
		for _, j := range m.Columns(i) {
			out[i][j] = 1
		}
	}
	return out
}

// AssignTopK selects the k highest-scoring columns of every row. Uniform
// noise in [0, tieBreaker) is added before ranking so exact ties split
// reproducibly under a fixed seed; ranking happens in double precision so
// the noise is not rounded away next to large scores. Entries of -Inf are
// never selected; a row with fewer than k finite entries fails.
func AssignTopK(m score.Matrix, k int, tieBreaker float32, seed int64, device *score.Device) (*TopKMatrix, error) {
	rows, cols := m.Shape()
	if k < 1 || k > cols {
		return nil, errors.Errorf("ranking: top-%d assignment out of %d columns", k, cols)
	}
	out := &TopKMatrix{
		rows:    rows,
		cols:    cols,
		k:       k,
		indptr:  make([]int, 1, rows+1),
		indices: make([]int32, 0, rows*k),
		member:  bitset.New(uint(rows * cols)),
	}
	rng := base.NewRandomGenerator(seed)
	batchSize := device.BatchSize(cols)
	if batchSize > rows {
		batchSize = rows
	}
	for b0 := 0; b0 < rows; b0 += batchSize {
		b1 := b0 + batchSize
		if b1 > rows {
			b1 = rows
		}
		mark := device.Mark()
		e, err := m.Eval(b0, b1, device)
		if err != nil {
			device.Release(mark)
			return nil, errors.Trace(err)
		}
		for r, row := range e {
			filter := heap.NewTopKFilter[int32, float64](k)
			for j, s := range row {
				if math32.IsInf(s, -1) {
					continue
				}
				w := float64(s)
				if tieBreaker > 0 {
					w += float64(rng.Float32()) * float64(tieBreaker)
				}
				filter.Push(int32(j), w)
			}
			if filter.Len() < k {
				device.Release(mark)
				return nil, errors.Errorf("ranking: row %d has %d finite entries, need %d", b0+r, filter.Len(), k)
			}
			selected, _ := filter.PopAll()
			out.indices = append(out.indices, selected...)
			out.indptr = append(out.indptr, len(out.indices))
			for _, j := range selected {
				out.member.Set(uint((b0+r)*cols + int(j)))
			}
		}
		device.Release(mark)
	}
	return out, nil
}

// Argsort ranks every entry of the matrix in descending order and returns the
// row and column index of each rank position. Ties are split by the same
// seeded noise contract as AssignTopK.
func Argsort(m score.Matrix, tieBreaker float32, seed int64, device *score.Device) (rows, cols []int, err error) {
	nRows, nCols := m.Shape()
	weights := make([]float64, 0, nRows*nCols)
	rng := base.NewRandomGenerator(seed)
	batchSize := device.BatchSize(nCols)
	if batchSize > nRows {
		batchSize = nRows
	}
	for b0 := 0; b0 < nRows; b0 += batchSize {
		b1 := b0 + batchSize
		if b1 > nRows {
			b1 = nRows
		}
		mark := device.Mark()
		e, evalErr := m.Eval(b0, b1, device)
		if evalErr != nil {
			device.Release(mark)
			return nil, nil, errors.Trace(evalErr)
		}
		for _, row := range e {
			for _, s := range row {
				w := float64(s)
				if tieBreaker > 0 && !math32.IsInf(s, -1) {
					w += float64(rng.Float32()) * float64(tieBreaker)
				}
				weights = append(weights, w)
			}
		}
		device.Release(mark)
	}
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]] > weights[order[b]]
	})
	rows = make([]int, len(order))
	cols = make([]int, len(order))
	for rank, flat := range order {
		rows[rank] = flat / nCols
		cols[rank] = flat % nCols
	}
	return rows, cols, nil
}
