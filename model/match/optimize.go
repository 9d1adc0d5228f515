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
	"context"

	"github.com/c-bata/goptuna"
	"github.com/gorse-io/matching/model"
	"github.com/gorse-io/matching/score"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// SuggestParams samples hyper-parameters for one search trial.
func (m *Matcher) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.MaxEpochs:  lo.Must(trial.SuggestStepInt(string(model.MaxEpochs), 20, 200, 20)),
		model.MinEpsilon: lo.Must(trial.SuggestLogFloat(string(model.MinEpsilon), 1e-10, 1e-2)),
	}
}

// SearchResult is the best trial seen by a ModelSearch.
type SearchResult struct {
	Params model.Params
	Score  Score
}

// ModelSearch is a goptuna objective that tunes matcher hyper-parameters by
// minimizing the final fit loss on a score matrix.
type ModelSearch struct {
	matcher *Matcher
	scores  score.Matrix
	config  *FitConfig
	result  SearchResult
}

func NewModelSearch(matcher *Matcher, scores score.Matrix, config *FitConfig) *ModelSearch {
	return &ModelSearch{
		matcher: matcher,
		scores:  scores,
		config:  config,
	}
}

func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	ms.matcher.Clear()
	ms.matcher.SetParams(ms.matcher.GetParams().Overwrite(ms.matcher.SuggestParams(trial)))
	result, err := ms.matcher.Fit(context.Background(), ms.scores, ms.config)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if ms.result.Params == nil || result.Loss < ms.result.Score.Loss {
		ms.result = SearchResult{
			Params: ms.matcher.GetParams().Copy(),
			Score:  result,
		}
	}
	return float64(result.Loss), nil
}

func (ms *ModelSearch) Result() SearchResult {
	return ms.result
}
