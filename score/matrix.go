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

// Package score represents user-item score matrices that may be too large to
// materialize at once. A matrix is an expression tree of primitive variants
// (dense blocks, low-rank factor products, biases, activations, transposes
// and reindexings) evaluated by row batches on a compute device. Evaluating a
// row slice of any composition is equivalent, within floating tolerance, to
// slicing the fully materialized matrix.
package score

// Matrix is a conceptual dense matrix evaluated lazily by row batches.
type Matrix interface {
	// Shape returns the number of rows and columns.
	Shape() (rows, cols int)
	// Eval materializes rows [begin, end) on the device. The returned rows
	// are owned by the device pool and must be treated as read-only; they
	// stay valid until the device is reset.
	Eval(begin, end int, device *Device) ([][]float32, error)
}

func checkRowRange(op string, begin, end, rows int) error {
	if begin < 0 || end > rows || begin > end {
		return shapeErrorf(op, "row range [%d, %d) out of matrix with %d rows", begin, end, rows)
	}
	return nil
}

type dense struct {
	data [][]float32
	cols int
}

// Dense wraps a literal row-major matrix. All rows must have equal length.
func Dense(data [][]float32) Matrix {
	cols := 0
	if len(data) > 0 {
		cols = len(data[0])
	}
	for _, row := range data {
		if len(row) != cols {
			panic("score: ragged rows in dense matrix")
		}
	}
	return &dense{data: data, cols: cols}
}

func (m *dense) Shape() (int, int) {
	return len(m.data), m.cols
}

func (m *dense) Eval(begin, end int, _ *Device) ([][]float32, error) {
	if err := checkRowRange("dense", begin, end, len(m.data)); err != nil {
		return nil, err
	}
	return m.data[begin:end], nil
}

func (m *dense) transposeView() Matrix {
	return &denseTransposed{base: m}
}

type denseTransposed struct {
	base *dense
}

func (m *denseTransposed) Shape() (int, int) {
	return m.base.cols, len(m.base.data)
}

func (m *denseTransposed) Eval(begin, end int, device *Device) ([][]float32, error) {
	if err := checkRowRange("transpose", begin, end, m.base.cols); err != nil {
		return nil, err
	}
	out := device.Alloc(end-begin, len(m.base.data))
	for j := begin; j < end; j++ {
		row := out[j-begin]
		for i := range m.base.data {
			row[i] = m.base.data[i][j]
		}
	}
	return out, nil
}

func (m *denseTransposed) transposeView() Matrix {
	return m.base
}

type rowSlice struct {
	base       Matrix
	begin, end int
	cols       int
}

// RowSlice returns a cheap view of rows [begin, end) of a matrix.
func RowSlice(base Matrix, begin, end int) (Matrix, error) {
	rows, cols := base.Shape()
	if err := checkRowRange("slice", begin, end, rows); err != nil {
		return nil, err
	}
	return &rowSlice{base: base, begin: begin, end: end, cols: cols}, nil
}

func (m *rowSlice) Shape() (int, int) {
	return m.end - m.begin, m.cols
}

func (m *rowSlice) Eval(begin, end int, device *Device) ([][]float32, error) {
	if err := checkRowRange("slice", begin, end, m.end-m.begin); err != nil {
		return nil, err
	}
	return m.base.Eval(m.begin+begin, m.begin+end, device)
}
