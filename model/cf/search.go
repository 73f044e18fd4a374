// Copyright 2020 gorse Project Authors
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

package cf

import (
	"context"
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SearchResult is the best trial of a model search.
type SearchResult struct {
	Params model.Params
	Score  Score
}

// ParamsSuggester proposes hyper-parameters for a trial.
type ParamsSuggester func(trial goptuna.Trial) model.Params

// SuggestParams searches factors, learning rate, regularization and output transform.
func SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors:   lo.Must(trial.SuggestInt(string(model.NFactors), 2, 32)),
		model.Lr:         lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.001, 0.1)),
		model.Reg:        lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.0001, 0.1)),
		model.InitStdDev: lo.Must(trial.SuggestLogFloat(string(model.InitStdDev), 0.001, 0.1)),
		model.Scaling: lo.Must(trial.SuggestCategorical(string(model.Scaling),
			[]string{model.ScalingLogistic, model.ScalingLinear, model.ScalingIdentity})),
	}
}

// ModelSearch finds the hyper-parameters of BiasedMF with the lowest validation RMSE.
type ModelSearch struct {
	dataset    *dataset.Dataset
	baseParams model.Params
	suggest    ParamsSuggester
	config     *FitConfig
	mu         sync.Mutex
	result     SearchResult
}

func NewModelSearch(d *dataset.Dataset, baseParams model.Params, suggest ParamsSuggester, config *FitConfig) *ModelSearch {
	if suggest == nil {
		suggest = SuggestParams
	}
	return &ModelSearch{
		dataset:    d,
		baseParams: baseParams,
		suggest:    suggest,
		config:     config,
	}
}

// Objective fits a model with the suggested hyper-parameters and returns its RMSE.
// Trials fail once ctx is done.
func (ms *ModelSearch) Objective(ctx context.Context) goptuna.FuncObjective {
	return func(trial goptuna.Trial) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, errors.Trace(err)
		}
		params := ms.baseParams.Overwrite(ms.suggest(trial))
		m := NewBiasedMF(params)
		score, err := m.Fit(ctx, ms.dataset, ms.config)
		if err != nil {
			return 0, errors.Trace(err)
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.result.Params == nil || score.RMSE < ms.result.Score.RMSE {
			ms.result = SearchResult{
				Params: m.GetParams(),
				Score:  score,
			}
		}
		return float64(score.RMSE), nil
	}
}

func (ms *ModelSearch) Result() SearchResult {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.result
}

// Search runs nTrials trials of TPE and returns the best result. It stops with the
// error of ctx once ctx is done.
func (ms *ModelSearch) Search(ctx context.Context, nTrials int) (SearchResult, error) {
	study, err := goptuna.CreateStudy("BiasedMF",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	err = study.Optimize(ms.Objective(ctx), nTrials)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SearchResult{}, errors.Annotate(ctxErr, "search cancelled")
	}
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	result := ms.Result()
	log.Logger().Info("search biased mf",
		zap.Int("n_trials", nTrials),
		zap.Any("params", result.Params),
		zap.Float32("rmse", result.Score.RMSE))
	return result, nil
}
