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

package match

import "fmt"

// NumericalError reports NaN contamination in a dual solve. The whole fit or
// transform call fails; there is no partial recovery.
type NumericalError struct {
	Stage string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("match: numerical failure in %s dual solve", e.Stage)
}

// InfeasibleError reports exposure budgets that no assignment can satisfy.
// It is returned at construction, before any scores are seen.
type InfeasibleError struct {
	AlphaLB, AlphaUB float32
	BetaLB, BetaUB   float32
	Reason           string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("match: infeasible budgets alpha=[%v, %v] beta=[%v, %v]: %s",
		e.AlphaLB, e.AlphaUB, e.BetaLB, e.BetaUB, e.Reason)
}
