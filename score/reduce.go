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
)

// ReduceOp selects the reduction applied by Reduce.
type ReduceOp int

const (
	// Min reduces to the minimal entry.
	Min ReduceOp = iota + 1
	// Max reduces to the maximal entry.
	Max
)

// Reduce computes the scalar min or max of a matrix by streaming row batches,
// never holding more than one materialized batch.
func Reduce(m Matrix, op ReduceOp, device *Device) (float32, error) {
	rows, cols := m.Shape()
	var acc float32
	switch op {
	case Min:
		acc = math32.Inf(1)
	case Max:
		acc = math32.Inf(-1)
	default:
		return 0, shapeErrorf("reduce", "unknown reduce op %d", op)
	}
	if rows == 0 || cols == 0 {
		return 0, nil
	}
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
			return 0, err
		}
		for _, row := range e {
			switch op {
			case Min:
				acc = math32.Min(acc, floats.Min(row))
			case Max:
				acc = math32.Max(acc, floats.Max(row))
			}
		}
		device.Release(mark)
	}
	return acc, nil
}
