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

// Package match fits soft assignment matrices under exposure budgets. Given a
// score matrix, the matcher produces probabilities
//
//	pi_ij = sigmoid((s_ij + u_i + v_j)/epsilon)
//
// whose row means stay inside [alphaLB, alphaUB] and column means inside
// [betaLB, betaUB]. The column duals v are learned by alternating dual solves
// over sequential row batches while epsilon anneals geometrically towards
// MinEpsilon, so the soft assignment approaches a hard one.
package match

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/matching/base"
	"github.com/gorse-io/matching/base/encoding"
	"github.com/gorse-io/matching/base/log"
	"github.com/gorse-io/matching/base/progress"
	"github.com/gorse-io/matching/common/floats"
	"github.com/gorse-io/matching/common/parallel"
	"github.com/gorse-io/matching/model"
	"github.com/gorse-io/matching/score"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Score reports the outcome of a fit.
type Score struct {
	Loss    float32
	Epsilon float32
}

type FitConfig struct {
	Jobs         int
	Verbose      int
	MemoryBudget int64
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// SetMemoryBudget bounds the bytes materialized per row batch. Zero means
// single-batch evaluation.
func (config *FitConfig) SetMemoryBudget(bytes int64) *FitConfig {
	config.MemoryBudget = bytes
	return config
}

// Matcher learns column duals for budget-constrained soft assignment. A
// matcher must not be shared between concurrent Fit or Transform calls.
type Matcher struct {
	model.BaseModel
	AlphaLB, AlphaUB float32
	BetaLB, BetaUB   float32
	// Fitted state
	V       []float32
	Epsilon float32
	Scale   float32
	// Hyper parameters
	maxEpochs   int
	nIters      int
	nBacktracks int
	minEpsilon  float32
	gradTol     float32
}

// NewMatcher creates a matcher with row exposure budget [alphaLB, alphaUB]
// and column exposure budget [betaLB, betaUB], both as fractions of the
// respective dimension. A lower bound <= 0 or an upper bound >= 1 disables
// that side. Budgets that no assignment can satisfy fail with
// InfeasibleError.
func NewMatcher(alphaLB, alphaUB, betaLB, betaUB float32, params model.Params) (*Matcher, error) {
	m := &Matcher{AlphaLB: alphaLB, AlphaUB: alphaUB, BetaLB: betaLB, BetaUB: betaUB}
	m.SetParams(params)
	infeasible := func(reason string) error {
		return &InfeasibleError{AlphaLB: alphaLB, AlphaUB: alphaUB, BetaLB: betaLB, BetaUB: betaUB, Reason: reason}
	}
	if alphaLB > 0 && alphaUB < 1 && alphaLB > alphaUB {
		return nil, infeasible("row lower bound exceeds row upper bound")
	}
	if betaLB > 0 && betaUB < 1 && betaLB > betaUB {
		return nil, infeasible("column lower bound exceeds column upper bound")
	}
	// Both marginals average the same total mass, so the bounds of one axis
	// cap the other.
	if alphaUB < 1 && betaLB > 0 && alphaUB < betaLB {
		return nil, infeasible("row upper bound caps total mass below the column lower bound")
	}
	if betaUB < 1 && alphaLB > 0 && betaUB < alphaLB {
		return nil, infeasible("column upper bound caps total mass below the row lower bound")
	}
	return m, nil
}

// SetParams sets hyper-parameters for the matcher.
func (m *Matcher) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.maxEpochs = m.Params.GetInt(model.MaxEpochs, 100)
	m.minEpsilon = m.Params.GetFloat32(model.MinEpsilon, 1e-10)
	m.nIters = m.Params.GetInt(model.NIters, 10)
	m.nBacktracks = m.Params.GetInt(model.NBacktracks, 4)
	m.gradTol = m.Params.GetFloat32(model.GradTol, 1e-5)
}

func (m *Matcher) Clear() {
	m.V = nil
	m.Epsilon = 0
	m.Scale = 0
}

func (m *Matcher) Invalid() bool {
	return m == nil || m.V == nil
}

func (m *Matcher) solverOptions(device *score.Device) solverOptions {
	return solverOptions{
		nIters:      m.nIters,
		nBacktracks: m.nBacktracks,
		gradTol:     m.gradTol,
		jobs:        device.Jobs(),
	}
}

// batchRange clips the device batch size to the row count.
func batchRange(device *score.Device, rows, cols int) int {
	batchSize := device.BatchSize(cols)
	if batchSize > rows {
		batchSize = rows
	}
	return batchSize
}

// Fit learns the column duals. Scores are normalized by their maximum before
// solving, row batches are processed strictly sequentially, and every epoch
// tightens epsilon by a constant factor so the final epoch lands on
// MinEpsilon. Calling Fit again retrains from scratch.
func (m *Matcher) Fit(ctx context.Context, s score.Matrix, config *FitConfig) (Score, error) {
	if config == nil {
		config = NewFitConfig()
	}
	rows, cols := s.Shape()
	if rows == 0 || cols == 0 {
		return Score{}, &score.ShapeError{Op: "fit", Detail: fmt.Sprintf("cannot fit %dx%d score matrix", rows, cols)}
	}
	log.Logger().Info("fit matcher",
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.Any("params", m.GetParams()),
		zap.Any("config", config))
	device := score.NewDevice(config.Jobs, config.MemoryBudget)
	defer device.Reset()

	scoreMax, err := score.Reduce(s, score.Max, device)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	m.Scale = 1
	if scoreMax > 0 {
		m.Scale = scoreMax
	}
	normalized := score.Scale(s, 1/m.Scale)

	// Start the column duals on the side of the KKT clip where they can be
	// active: non-positive when only the upper bound binds, non-negative when
	// only the lower bound binds.
	rng := m.GetRandomGenerator()
	v := make([]float32, cols)
	colLB, colUB := m.BetaLB > 0, m.BetaUB < 1
	switch {
	case colLB && colUB:
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
	case colUB:
		for j := range v {
			v[j] = -rng.Float32()
		}
	case colLB:
		for j := range v {
			v[j] = rng.Float32()
		}
	}

	batchSize := batchRange(device, rows, cols)
	nBatches := (rows + batchSize - 1) / batchSize
	lr := float32(cols) / float32(nBatches)
	opts := m.solverOptions(device)
	decay := math32.Pow(m.minEpsilon, 1/float32(m.maxEpochs))
	epsilon := float32(1)
	var loss float32
	_, span := progress.Start(ctx, "Matcher.Fit", m.maxEpochs)
	for epoch := 1; epoch <= m.maxEpochs; epoch++ {
		fitStart := time.Now()
		epsilon *= decay
		loss = 0
		var newtonIters int
		for b0 := 0; b0 < rows; b0 += batchSize {
			b1 := b0 + batchSize
			if b1 > rows {
				b1 = rows
			}
			mark := device.Mark()
			e, err := normalized.Eval(b0, b1, device)
			if err != nil {
				span.Fail(err)
				return Score{}, errors.Trace(err)
			}
			// Row duals against the current column duals.
			aRow := device.Alloc(b1-b0, cols)
			for i := range aRow {
				floats.AddTo(e[i], v, aRow[i])
			}
			u, uStats, err := dualRange(aRow, m.AlphaLB, m.AlphaUB, epsilon, opts)
			if err != nil {
				span.Fail(err)
				return Score{}, errors.Trace(err)
			}
			// Column duals against the fresh row duals.
			aCol := device.Alloc(cols, b1-b0)
			parallel.For(cols, device.Jobs(), func(j int) {
				for i := 0; i < b1-b0; i++ {
					aCol[j][i] = e[i][j] + u[i]
				}
			})
			vNew, vStats, err := dualRange(aCol, m.BetaLB, m.BetaUB, epsilon, opts)
			if err != nil {
				span.Fail(err)
				return Score{}, errors.Trace(err)
			}
			newtonIters += uStats.iterations + vStats.iterations
			// SGD step towards the batch solution.
			var batchLoss float32
			for j := range v {
				d := v[j] - vNew[j]
				batchLoss += d * d
				v[j] -= lr * d / float32(cols)
			}
			loss += batchLoss / float32(cols) / 2
			device.Release(mark)
		}
		span.Add(1)
		if epoch%config.Verbose == 0 || epoch == m.maxEpochs {
			log.Logger().Info(fmt.Sprintf("fit matcher %v/%v", epoch, m.maxEpochs),
				zap.String("fit_time", time.Since(fitStart).String()),
				zap.Float32("epsilon", epsilon),
				zap.Float32("loss", loss),
				zap.Int("newton_iterations", newtonIters))
		}
	}
	span.End()
	m.V = v
	m.Epsilon = epsilon
	v64 := lo.Map(v, func(x float32, _ int) float64 { return float64(x) })
	log.Logger().Info("fit matcher complete",
		zap.Float32("loss", loss),
		zap.Float32("epsilon", epsilon),
		zap.Float64("v_mean", stat.Mean(v64, nil)),
		zap.Float64("v_std", stat.StdDev(v64, nil)))
	return Score{Loss: loss, Epsilon: epsilon}, nil
}

func (m *Matcher) checkTransform(s score.Matrix) error {
	if m.Invalid() {
		return errors.New("match: transform called before fit")
	}
	if _, cols := s.Shape(); cols != len(m.V) {
		return errors.Errorf("match: score matrix has %d columns but %d duals were fitted", cols, len(m.V))
	}
	return nil
}

// Transform materializes assignment probabilities for new rows against the
// fitted column duals. Row duals are re-solved per batch at the fitted
// epsilon; -Inf scores map to probability exactly zero. Transforming the
// training matrix twice yields identical output.
func (m *Matcher) Transform(ctx context.Context, s score.Matrix, config *FitConfig) ([][]float32, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if err := m.checkTransform(s); err != nil {
		return nil, errors.Trace(err)
	}
	rows, cols := s.Shape()
	device := score.NewDevice(config.Jobs, config.MemoryBudget)
	defer device.Reset()
	normalized := score.Scale(s, 1/m.Scale)
	opts := m.solverOptions(device)
	out := base.NewMatrix32(rows, cols)
	batchSize := batchRange(device, rows, cols)
	_, span := progress.Start(ctx, "Matcher.Transform", rows)
	for b0 := 0; b0 < rows; b0 += batchSize {
		b1 := b0 + batchSize
		if b1 > rows {
			b1 = rows
		}
		e, err := normalized.Eval(b0, b1, device)
		if err != nil {
			span.Fail(err)
			return nil, errors.Trace(err)
		}
		aRow := device.Alloc(b1-b0, cols)
		for i := range aRow {
			floats.AddTo(e[i], m.V, aRow[i])
		}
		u, _, err := dualRange(aRow, m.AlphaLB, m.AlphaUB, m.Epsilon, opts)
		if err != nil {
			span.Fail(err)
			return nil, errors.Trace(err)
		}
		parallel.For(b1-b0, device.Jobs(), func(i int) {
			for j := 0; j < cols; j++ {
				out[b0+i][j] = floats.Sigmoid((aRow[i][j] + u[i]) / m.Epsilon)
			}
		})
		device.Reset()
		span.Add(b1 - b0)
	}
	span.End()
	return out, nil
}

// TransformLazy solves the row duals but defers the probability matrix: the
// second return value is an unevaluated composition over the input scores
// that downstream consumers can slice, transpose or reduce without
// materializing it.
func (m *Matcher) TransformLazy(ctx context.Context, s score.Matrix, config *FitConfig) ([]float32, score.Matrix, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if err := m.checkTransform(s); err != nil {
		return nil, nil, errors.Trace(err)
	}
	rows, cols := s.Shape()
	device := score.NewDevice(config.Jobs, config.MemoryBudget)
	defer device.Reset()
	normalized := score.Scale(s, 1/m.Scale)
	opts := m.solverOptions(device)
	u := make([]float32, rows)
	batchSize := batchRange(device, rows, cols)
	_, span := progress.Start(ctx, "Matcher.TransformLazy", rows)
	for b0 := 0; b0 < rows; b0 += batchSize {
		b1 := b0 + batchSize
		if b1 > rows {
			b1 = rows
		}
		e, err := normalized.Eval(b0, b1, device)
		if err != nil {
			span.Fail(err)
			return nil, nil, errors.Trace(err)
		}
		aRow := device.Alloc(b1-b0, cols)
		for i := range aRow {
			floats.AddTo(e[i], m.V, aRow[i])
		}
		uBatch, _, err := dualRange(aRow, m.AlphaLB, m.AlphaUB, m.Epsilon, opts)
		if err != nil {
			span.Fail(err)
			return nil, nil, errors.Trace(err)
		}
		copy(u[b0:b1], uBatch)
		device.Reset()
		span.Add(b1 - b0)
	}
	span.End()
	withV, err := score.ColBias(normalized, m.V)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	withU, err := score.RowBias(withV, u)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	probs := score.Activate(score.Scale(withU, 1/m.Epsilon), score.Sigmoid)
	return u, probs, nil
}

// Marshal writes hyper-parameters, budgets and fitted duals to a byte stream.
func (m *Matcher) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, m.Params); err != nil {
		return errors.Trace(err)
	}
	for _, value := range []float32{m.AlphaLB, m.AlphaUB, m.BetaLB, m.BetaUB, m.Scale, m.Epsilon} {
		if err := binary.Write(w, binary.LittleEndian, value); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(encoding.WriteVector(w, m.V))
}

// Unmarshal restores a matcher from a byte stream.
func (m *Matcher) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &m.Params); err != nil {
		return errors.Trace(err)
	}
	for _, field := range []*float32{&m.AlphaLB, &m.AlphaUB, &m.BetaLB, &m.BetaUB, &m.Scale, &m.Epsilon} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return errors.Trace(err)
		}
	}
	v, err := encoding.ReadVector(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(v) > 0 {
		m.V = v
	} else {
		m.V = nil
	}
	m.SetParams(m.Params)
	return nil
}
