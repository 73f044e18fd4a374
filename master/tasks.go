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

package master

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/model"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const (
	TaskFitModel    = "Fit rating model"
	TaskSearchModel = "Search rating model"
)

func (m *Master) fitConfig() *cf.FitConfig {
	return cf.NewFitConfig().
		SetJobs(m.Config.Model.Jobs).
		SetVerbose(m.Config.Model.Verbose).
		SetPatience(m.Config.Model.Patience)
}

// Fit trains the rating model on the loaded dataset. Epoch events are published
// to subscribers. The previous model keeps serving until the fit succeeds.
func (m *Master) Fit(ctx context.Context) (cf.Score, error) {
	if !m.busy.CompareAndSwap(false, true) {
		FitTotal.WithLabelValues(ResultBusy).Inc()
		return cf.Score{}, errors.Trace(cf.ErrBusy)
	}
	defer m.busy.Store(false)
	d, _ := m.Dataset()
	if d == nil {
		return cf.Score{}, errors.Trace(ErrNoDataset)
	}

	jobId := uuid.NewString()
	nEpochs := m.model.GetParams().GetInt(model.NEpochs, m.Config.Model.NEpochs)
	m.updateStatus(func(status *Status) {
		status.Phase = PhaseTraining
		status.Message = fmt.Sprintf("Epoch 0/%d", nEpochs)
		status.JobID = jobId
		status.Epoch = 0
		status.NEpochs = nEpochs
		status.TrainingLoss = 0
		status.ValidationLoss = 0
	})
	ctx, span := m.tracer.Start(ctx, TaskFitModel, 1)
	config := m.fitConfig().SetCallback(func(score cf.EpochScore) {
		TrainingEpoch.Set(float64(score.Epoch))
		TrainingLoss.Set(float64(score.TrainingLoss))
		ValidationLoss.Set(float64(score.ValidationLoss))
		m.updateStatus(func(status *Status) {
			status.Message = fmt.Sprintf("Epoch %d/%d - Loss: %.4f", score.Epoch, nEpochs, score.TrainingLoss)
			status.Epoch = score.Epoch
			status.TrainingLoss = score.TrainingLoss
			status.ValidationLoss = score.ValidationLoss
		})
		m.broadcast(score)
	})

	startTime := time.Now()
	score, err := m.model.Fit(ctx, d, config)
	if err != nil {
		span.Fail(err)
		FitTotal.WithLabelValues(ResultFailure).Inc()
		m.updateStatus(func(status *Status) {
			status.Phase = PhaseFailed
			status.Message = fmt.Sprintf("Training failed: %v", err)
		})
		log.Logger().Error("failed to fit rating model", zap.String("job_id", jobId), zap.Error(err))
		return cf.Score{}, errors.Trace(err)
	}
	span.Add(1)
	span.End()
	FitTotal.WithLabelValues(ResultSuccess).Inc()
	FitSeconds.Set(time.Since(startTime).Seconds())
	ModelRMSE.Set(float64(score.RMSE))
	ModelMAE.Set(float64(score.MAE))
	m.updateStatus(func(status *Status) {
		status.Phase = PhaseReady
		status.Message = fmt.Sprintf("Training completed - RMSE: %.4f", score.RMSE)
		status.Score = &score
	})
	log.Logger().Info("fit rating model complete",
		zap.String("job_id", jobId),
		zap.Int("n_epochs", score.NEpochs),
		zap.Float32("rmse", score.RMSE),
		zap.Float32("mae", score.MAE),
		zap.Duration("fit_time", time.Since(startTime)))
	return score, nil
}

// Search looks for better hyper-parameters with nTrials fits on the loaded dataset.
// The best parameters are applied to the rating model but it is not refitted.
func (m *Master) Search(ctx context.Context, nTrials int) (cf.SearchResult, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return cf.SearchResult{}, errors.Trace(cf.ErrBusy)
	}
	defer m.busy.Store(false)
	d, _ := m.Dataset()
	if d == nil {
		return cf.SearchResult{}, errors.Trace(ErrNoDataset)
	}
	ctx, span := m.tracer.Start(ctx, TaskSearchModel, nTrials)
	search := cf.NewModelSearch(d, m.model.GetParams(), nil, m.fitConfig())
	result, err := search.Search(ctx, nTrials)
	if err != nil {
		span.Fail(err)
		return cf.SearchResult{}, errors.Trace(err)
	}
	span.Add(nTrials)
	span.End()
	m.model.SetParams(result.Params)
	return result, nil
}
