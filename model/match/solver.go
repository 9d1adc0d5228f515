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

import (
	"github.com/chewxy/math32"
	"github.com/gorse-io/matching/base/heap"
	"github.com/gorse-io/matching/common/floats"
	"github.com/gorse-io/matching/common/parallel"
)

const (
	// hessFloor keeps Newton steps bounded when the marginal saturates.
	hessFloor = 1e-3
	// armijoSlack tolerates float32 rounding in the sufficient-decrease test.
	armijoSlack = 1e-6
)

type solverOptions struct {
	nIters      int
	nBacktracks int
	gradTol     float32
	jobs        int
}

type solveStats struct {
	iterations int
	gradNorm   float32
}

// rowObjective evaluates the dual objective of one row together with its
// gradient and Hessian:
//
//	f(u)  = epsilon * mean_j softplus((u+a_j)/epsilon) - u*alpha
//	f'(u) = mean_j sigmoid((u+a_j)/epsilon) - alpha
//	f''(u) = mean_j sigmoid(z)*sigmoid(-z)/epsilon
//
// Entries of -Inf contribute zero mass on every term.
func rowObjective(a []float32, u, alpha, epsilon float32) (f, grad, hess float32) {
	var sp, sg, sh float32
	for _, aj := range a {
		z := (u + aj) / epsilon
		sp += floats.Softplus(z)
		s := floats.Sigmoid(z)
		sg += s
		sh += s * (1 - s)
	}
	n := float32(len(a))
	f = epsilon*sp/n - u*alpha
	grad = sg/n - alpha
	hess = sh / n / epsilon
	return
}

// rowValue evaluates the dual objective only, for backtracking.
func rowValue(a []float32, u, alpha, epsilon float32) float32 {
	var sp float32
	for _, aj := range a {
		sp += floats.Softplus((u + aj) / epsilon)
	}
	return epsilon*sp/float32(len(a)) - u*alpha
}

// warmStart places u at the negated k-th largest entry of each row, where
// k = floor(alpha*n)+1, so roughly an alpha-fraction of entries start above
// the sigmoid midpoint. Rows whose k-th entry is infinite start at zero.
func warmStart(a [][]float32, alpha float32, jobs int) []float32 {
	u := make([]float32, len(a))
	parallel.For(len(a), jobs, func(i int) {
		row := a[i]
		k := int(alpha*float32(len(row))) + 1
		if k > len(row) {
			k = len(row)
		}
		filter := heap.NewTopKFilter[int, float32](k)
		for j, aj := range row {
			filter.Push(j, aj)
		}
		if kth := filter.MinWeight(); !math32.IsInf(kth, 0) {
			u[i] = -kth
		}
	})
	return u
}

// solveNewton finds per-row duals u_i with
//
//	mean_j sigmoid((u_i + a_ij)/epsilon) = alpha
//
// by damped Newton iteration with a backtracking step size shared across the
// batch: the step starts at 1 and is halved for everyone until the Armijo
// sufficient-decrease test passes for every row, up to nBacktracks halvings.
// Iteration stops early once the mean absolute marginal violation drops below
// gradTol. Rows that have not converged keep their best iterate; only NaN is
// fatal.
func solveNewton(a [][]float32, alpha, epsilon float32, opts solverOptions) ([]float32, solveStats, error) {
	rows := len(a)
	u := warmStart(a, alpha, opts.jobs)
	uNew := make([]float32, rows)
	fOld := make([]float32, rows)
	fNew := make([]float32, rows)
	grad := make([]float32, rows)
	hess := make([]float32, rows)
	var stats solveStats
	for iter := 0; iter < opts.nIters; iter++ {
		parallel.For(rows, opts.jobs, func(i int) {
			fOld[i], grad[i], hess[i] = rowObjective(a[i], u[i], alpha, epsilon)
		})
		var gradNorm float32
		for _, g := range grad {
			gradNorm += math32.Abs(g)
		}
		gradNorm /= float32(rows)
		stats.gradNorm = gradNorm
		if gradNorm < opts.gradTol {
			break
		}
		eta := float32(1)
		for bt := 0; ; bt++ {
			parallel.For(rows, opts.jobs, func(i int) {
				uNew[i] = u[i] - eta*grad[i]/math32.Max(hess[i], hessFloor)
				fNew[i] = rowValue(a[i], uNew[i], alpha, epsilon)
			})
			accepted := true
			for i := 0; i < rows; i++ {
				if fNew[i]-fOld[i] > 0.5*grad[i]*(uNew[i]-u[i])+armijoSlack {
					accepted = false
					break
				}
			}
			if accepted || bt >= opts.nBacktracks {
				break
			}
			eta /= 2
		}
		copy(u, uNew)
		stats.iterations = iter + 1
		if floats.HasNaN(u) {
			return nil, stats, &NumericalError{Stage: "newton"}
		}
	}
	return u, stats, nil
}

// dualRange solves a two-sided budget by complementary slackness: the lower
// and upper bounds are solved as independent equality problems and clipped to
// the side where each can be active. The marginal is increasing in u, so the
// upper-bound dual can only push down (negative part) and the lower-bound
// dual can only push up (positive part). Inactive sides (lb <= 0, ub >= 1)
// and a degenerate zero upper bound contribute exactly zero and are never
// solved.
func dualRange(a [][]float32, lb, ub, epsilon float32, opts solverOptions) ([]float32, solveStats, error) {
	u := make([]float32, len(a))
	var stats solveStats
	if ub > 0 && ub < 1 {
		uUB, st, err := solveNewton(a, ub, epsilon, opts)
		if err != nil {
			return nil, st, err
		}
		stats.iterations += st.iterations
		stats.gradNorm = math32.Max(stats.gradNorm, st.gradNorm)
		for i := range u {
			u[i] += math32.Min(uUB[i], 0)
		}
	}
	if lb > 0 {
		uLB, st, err := solveNewton(a, lb, epsilon, opts)
		if err != nil {
			return nil, st, err
		}
		stats.iterations += st.iterations
		stats.gradNorm = math32.Max(stats.gradNorm, st.gradNorm)
		for i := range u {
			u[i] += math32.Max(uLB[i], 0)
		}
	}
	return u, stats, nil
}
