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
	"math"
	"runtime"
	"sync"
)

const (
	bytesPerValue = 4
	// memorySafetyFactor leaves headroom for intermediate buffers when
	// deriving batch sizes from the memory budget.
	memorySafetyFactor = 10
)

// Device is the compute target for matrix evaluation. It carries the worker
// count used for within-batch parallel arithmetic and a memory budget that
// bounds the size of materialized row batches. Buffers handed out by Eval
// remain valid until Reset is called.
type Device struct {
	jobs   int
	budget int64

	mu   sync.Mutex
	free []buffer
	used []buffer
}

type buffer struct {
	data []float32
}

// NewDevice creates a device with the given worker count and memory budget in
// bytes. A non-positive budget means unbounded batches.
func NewDevice(jobs int, memoryBudget int64) *Device {
	if jobs < 1 {
		jobs = 1
	}
	return &Device{jobs: jobs, budget: memoryBudget}
}

// CPU creates a host device with one worker per logical CPU and no memory
// budget, so matrices evaluate in a single batch.
func CPU() *Device {
	return NewDevice(runtime.NumCPU(), 0)
}

// Jobs returns the worker count.
func (d *Device) Jobs() int {
	return d.jobs
}

// BatchSize returns the number of rows of the given width that fit within the
// memory budget, at least 1. Without a budget all rows fit in one batch.
func (d *Device) BatchSize(cols int) int {
	if d.budget <= 0 || cols <= 0 {
		return math.MaxInt
	}
	rows := int(d.budget / bytesPerValue / memorySafetyFactor / int64(cols))
	if rows < 1 {
		rows = 1
	}
	return rows
}

// Alloc returns a rows*cols matrix backed by pooled device memory. The matrix
// is valid until Reset.
func (d *Device) Alloc(rows, cols int) [][]float32 {
	n := rows * cols
	d.mu.Lock()
	var data []float32
	for i, b := range d.free {
		if cap(b.data) >= n {
			data = b.data[:n]
			d.free = append(d.free[:i], d.free[i+1:]...)
			break
		}
	}
	if data == nil {
		data = make([]float32, n)
	}
	d.used = append(d.used, buffer{data: data})
	d.mu.Unlock()
	ret := make([][]float32, rows)
	for i := range ret {
		ret[i] = data[i*cols : (i+1)*cols]
	}
	return ret
}

// Mark returns a checkpoint of the allocation stack for a scoped release.
func (d *Device) Mark() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.used)
}

// Release returns every buffer allocated since the checkpoint to the pool,
// including intermediates of composed evaluations. Streaming consumers call
// it after each batch so only one batch stays materialized at a time; buffers
// allocated before the checkpoint are untouched.
func (d *Device) Release(mark int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mark < 0 || mark > len(d.used) {
		return
	}
	d.free = append(d.free, d.used[mark:]...)
	d.used = d.used[:mark]
}

// Reset releases every buffer handed out since the previous Reset back to the
// pool. Matrices obtained from Eval or Alloc must not be used afterwards.
// Callers defer a Reset around each top-level fit or transform call so device
// memory cannot grow across calls.
func (d *Device) Reset() {
	d.mu.Lock()
	d.free = append(d.free, d.used...)
	d.used = d.used[:0]
	d.mu.Unlock()
}
