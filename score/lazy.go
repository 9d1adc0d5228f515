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

package score

import (
	"github.com/chewxy/math32"
	"github.com/gorse-io/matching/common/floats"
	"github.com/gorse-io/matching/common/parallel"
)

type lowRank struct {
	u, v [][]float32
	rank int
}

// LowRank represents the product U*V^T without materializing it. U has one
// row per matrix row and V one row per matrix column; both share the factor
// dimension.
func LowRank(u, v [][]float32) (Matrix, error) {
	rank := 0
	if len(u) > 0 {
		rank = len(u[0])
	} else if len(v) > 0 {
		rank = len(v[0])
	}
	for _, row := range u {
		if len(row) != rank {
			return nil, shapeErrorf("low_rank", "ragged row factor: want rank %d, got %d", rank, len(row))
		}
	}
	for _, row := range v {
		if len(row) != rank {
			return nil, shapeErrorf("low_rank", "column factor rank %d does not match row factor rank %d", len(row), rank)
		}
	}
	return &lowRank{u: u, v: v, rank: rank}, nil
}

func (m *lowRank) Shape() (int, int) {
	return len(m.u), len(m.v)
}

func (m *lowRank) Eval(begin, end int, device *Device) ([][]float32, error) {
	if err := checkRowRange("low_rank", begin, end, len(m.u)); err != nil {
		return nil, err
	}
	out := device.Alloc(end-begin, len(m.v))
	parallel.For(end-begin, device.Jobs(), func(r int) {
		u := m.u[begin+r]
		row := out[r]
		for j := range m.v {
			row[j] = floats.Dot(u, m.v[j])
		}
	})
	return out, nil
}

func (m *lowRank) transposeView() Matrix {
	return &lowRank{u: m.v, v: m.u, rank: m.rank}
}

type sum struct {
	a, b Matrix
}

// Sum adds two matrices elementwise.
func Sum(a, b Matrix) (Matrix, error) {
	ar, ac := a.Shape()
	br, bc := b.Shape()
	if ar != br || ac != bc {
		return nil, shapeErrorf("sum", "cannot add %dx%d and %dx%d matrices", ar, ac, br, bc)
	}
	return &sum{a: a, b: b}, nil
}

func (m *sum) Shape() (int, int) {
	return m.a.Shape()
}

func (m *sum) Eval(begin, end int, device *Device) ([][]float32, error) {
	ea, err := m.a.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	eb, err := m.b.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	_, cols := m.a.Shape()
	out := device.Alloc(end-begin, cols)
	for r := range out {
		floats.AddTo(ea[r], eb[r], out[r])
	}
	return out, nil
}

type scale struct {
	a Matrix
	c float32
}

// Scale multiplies every entry by a constant. Infinite entries keep their
// sign; scaling by zero yields an all-zero matrix rather than NaN.
func Scale(a Matrix, c float32) Matrix {
	return &scale{a: a, c: c}
}

func (m *scale) Shape() (int, int) {
	return m.a.Shape()
}

func (m *scale) Eval(begin, end int, device *Device) ([][]float32, error) {
	_, cols := m.a.Shape()
	out := device.Alloc(end-begin, cols)
	if m.c == 0 {
		for r := range out {
			floats.Zero(out[r])
		}
		return out, nil
	}
	e, err := m.a.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	for r := range out {
		floats.MulConstTo(e[r], m.c, out[r])
	}
	return out, nil
}

type rowBias struct {
	a    Matrix
	bias []float32
}

// RowBias adds bias[i] to every entry of row i. The bias length must equal
// the row count.
func RowBias(a Matrix, bias []float32) (Matrix, error) {
	rows, _ := a.Shape()
	if len(bias) != rows {
		return nil, shapeErrorf("row_bias", "bias length %d does not match %d rows", len(bias), rows)
	}
	return &rowBias{a: a, bias: bias}, nil
}

func (m *rowBias) Shape() (int, int) {
	return m.a.Shape()
}

func (m *rowBias) Eval(begin, end int, device *Device) ([][]float32, error) {
	e, err := m.a.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	_, cols := m.a.Shape()
	out := device.Alloc(end-begin, cols)
	for r := range out {
		copy(out[r], e[r])
		floats.AddConst(out[r], m.bias[begin+r])
	}
	return out, nil
}

type colBias struct {
	a    Matrix
	bias []float32
}

// ColBias adds bias[j] to every entry of column j. The bias length must equal
// the column count.
func ColBias(a Matrix, bias []float32) (Matrix, error) {
	_, cols := a.Shape()
	if len(bias) != cols {
		return nil, shapeErrorf("col_bias", "bias length %d does not match %d columns", len(bias), cols)
	}
	return &colBias{a: a, bias: bias}, nil
}

func (m *colBias) Shape() (int, int) {
	return m.a.Shape()
}

func (m *colBias) Eval(begin, end int, device *Device) ([][]float32, error) {
	e, err := m.a.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	_, cols := m.a.Shape()
	out := device.Alloc(end-begin, cols)
	for r := range out {
		floats.AddTo(e[r], m.bias, out[r])
	}
	return out, nil
}

// Activation is an elementwise mapping applied lazily.
type Activation int

const (
	// Exp maps x to exp(x).
	Exp Activation = iota + 1
	// Sigmoid maps x to 1/(1+exp(-x)) with saturation instead of overflow.
	Sigmoid
	// Softplus maps x to log(1+exp(x)) in the overflow-safe form.
	Softplus
)

type activate struct {
	a  Matrix
	fn Activation
}

// Activate applies an elementwise activation.
func Activate(a Matrix, fn Activation) Matrix {
	return &activate{a: a, fn: fn}
}

func (m *activate) Shape() (int, int) {
	return m.a.Shape()
}

func (m *activate) Eval(begin, end int, device *Device) ([][]float32, error) {
	e, err := m.a.Eval(begin, end, device)
	if err != nil {
		return nil, err
	}
	_, cols := m.a.Shape()
	out := device.Alloc(end-begin, cols)
	for r := range out {
		src, dst := e[r], out[r]
		switch m.fn {
		case Exp:
			for j := range src {
				dst[j] = math32.Exp(src[j])
			}
		case Sigmoid:
			for j := range src {
				dst[j] = floats.Sigmoid(src[j])
			}
		case Softplus:
			for j := range src {
				dst[j] = floats.Softplus(src[j])
			}
		}
	}
	return out, nil
}

type transposer interface {
	transposeView() Matrix
}

type transposed struct {
	base Matrix
}

// Transpose returns a view with swapped row and column roles. No data is
// copied: variants with a structural transpose (dense blocks, low-rank
// products) swap roles directly, everything else gathers columns by
// streaming row batches of the underlying matrix on evaluation.
func Transpose(a Matrix) Matrix {
	if t, ok := a.(transposer); ok {
		return t.transposeView()
	}
	return &transposed{base: a}
}

func (m *transposed) Shape() (int, int) {
	rows, cols := m.base.Shape()
	return cols, rows
}

func (m *transposed) transposeView() Matrix {
	return m.base
}

func (m *transposed) Eval(begin, end int, device *Device) ([][]float32, error) {
	baseRows, baseCols := m.base.Shape()
	if err := checkRowRange("transpose", begin, end, baseCols); err != nil {
		return nil, err
	}
	out := device.Alloc(end-begin, baseRows)
	batchSize := device.BatchSize(baseCols)
	if batchSize > baseRows {
		batchSize = baseRows
	}
	for b0 := 0; b0 < baseRows; b0 += batchSize {
		b1 := b0 + batchSize
		if b1 > baseRows {
			b1 = baseRows
		}
		mark := device.Mark()
		e, err := m.base.Eval(b0, b1, device)
		if err != nil {
			device.Release(mark)
			return nil, err
		}
		for i, row := range e {
			for j := begin; j < end; j++ {
				out[j-begin][b0+i] = row[j]
			}
		}
		device.Release(mark)
	}
	return out, nil
}

type reindex struct {
	a          Matrix
	rows, cols []int
}

// Reindex selects and reorders rows and columns by index. A nil index keeps
// the corresponding axis unchanged. Indices out of range fail with a
// ShapeError.
func Reindex(a Matrix, rowIndex, colIndex []int) (Matrix, error) {
	rows, cols := a.Shape()
	for _, i := range rowIndex {
		if i < 0 || i >= rows {
			return nil, shapeErrorf("reindex", "row index %d out of matrix with %d rows", i, rows)
		}
	}
	for _, j := range colIndex {
		if j < 0 || j >= cols {
			return nil, shapeErrorf("reindex", "column index %d out of matrix with %d columns", j, cols)
		}
	}
	return &reindex{a: a, rows: rowIndex, cols: colIndex}, nil
}

func (m *reindex) Shape() (int, int) {
	rows, cols := m.a.Shape()
	if m.rows != nil {
		rows = len(m.rows)
	}
	if m.cols != nil {
		cols = len(m.cols)
	}
	return rows, cols
}

func (m *reindex) Eval(begin, end int, device *Device) ([][]float32, error) {
	rows, cols := m.Shape()
	if err := checkRowRange("reindex", begin, end, rows); err != nil {
		return nil, err
	}
	out := device.Alloc(end-begin, cols)
	for r := begin; r < end; r++ {
		i := r
		if m.rows != nil {
			i = m.rows[r]
		}
		mark := device.Mark()
		e, err := m.a.Eval(i, i+1, device)
		if err != nil {
			device.Release(mark)
			return nil, err
		}
		if m.cols == nil {
			copy(out[r-begin], e[0])
		} else {
			for c, j := range m.cols {
				out[r-begin][c] = e[0][j]
			}
		}
		device.Release(mark)
	}
	return out, nil
}
