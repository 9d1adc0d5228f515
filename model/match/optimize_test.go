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
	"testing"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/matching/base"
	"github.com/gorse-io/matching/model"
	"github.com/gorse-io/matching/score"
	"github.com/stretchr/testify/assert"
)

func TestModelSearch(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	s := score.Dense(rng.UniformMatrix(6, 6, 0, 1))
	m, err := NewMatcher(0, 0.5, 0, 0.5, model.Params{model.RandomState: 1})
	assert.NoError(t, err)
	search := NewModelSearch(m, s, quietConfig())
	study, err := goptuna.CreateStudy("TestModelSearch",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	assert.NoError(t, err)
	err = study.Optimize(search.Objective, 3)
	assert.NoError(t, err)

	result := search.Result()
	assert.NotNil(t, result.Params)
	assert.Contains(t, result.Params, model.MaxEpochs)
	assert.Contains(t, result.Params, model.MinEpsilon)
	best, err := study.GetBestValue()
	assert.NoError(t, err)
	assert.Equal(t, float64(result.Score.Loss), best)
}
