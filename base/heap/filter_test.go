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

package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKFilter(t *testing.T) {
	filter := NewTopKFilter[int32, float32](3)
	filter.Push(10, 2)
	filter.Push(20, 8)
	filter.Push(30, 1)
	filter.Push(40, 5)
	items, weights := filter.PopAll()
	assert.Equal(t, []int32{20, 40, 10}, items)
	assert.Equal(t, []float32{8, 5, 2}, weights)
}

func TestTopKFilter_MinWeight(t *testing.T) {
	filter := NewTopKFilter[int, float32](2)
	filter.Push(1, 3)
	filter.Push(2, 1)
	filter.Push(3, 7)
	assert.Equal(t, float32(3), filter.MinWeight())
}
