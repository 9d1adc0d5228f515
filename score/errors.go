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

import "fmt"

// ShapeError reports incompatible shapes in a matrix composition, an
// out-of-range index or an invalid row range.
type ShapeError struct {
	Op     string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("score: %s: %s", e.Op, e.Detail)
}

func shapeErrorf(op, format string, args ...interface{}) error {
	return &ShapeError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
