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

package cf

import (
	"context"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrating/base"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/base/progress"
	"github.com/gorse-io/mfrating/common/floats"
	"github.com/gorse-io/mfrating/common/nn"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// EpochScore is reported after every epoch.
type EpochScore struct {
	Epoch          int     `json:"epoch"`
	TrainingLoss   float32 `json:"training_loss"`
	ValidationLoss float32 `json:"validation_loss"`
}

// Score summarizes a fit.
type Score struct {
	NEpochs        int     `json:"n_epochs"`
	TrainingLoss   float32 `json:"training_loss"`
	ValidationLoss float32 `json:"validation_loss"`
	BestEpoch      int     `json:"best_epoch"`
	RMSE           float32 `json:"rmse"`
	MAE            float32 `json:"mae"`
}

// maxTableSize is the largest number of entries of a factor table.
const maxTableSize = 1 << 28

type FitConfig struct {
	Jobs     int
	Verbose  int
	Patience int
	Callback func(EpochScore)
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 1,
	}
}

func (config *FitConfig) SetJobs(nJobs int) *FitConfig {
	config.Jobs = nJobs
	return config
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetPatience(patience int) *FitConfig {
	config.Patience = patience
	return config
}

func (config *FitConfig) SetCallback(callback func(EpochScore)) *FitConfig {
	config.Callback = callback
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

func (m *BiasedMF) validate(d *dataset.Dataset) error {
	if d == nil || len(d.Ratings) == 0 {
		return &TrainingError{Param: "ratings", Reason: "training set is empty"}
	}
	if err := d.Validate(); err != nil {
		return &TrainingError{Param: "dataset", Reason: err.Error()}
	}
	if m.nFactors < 1 {
		return &TrainingError{Param: string(model.NFactors), Reason: fmt.Sprintf("must be at least 1, but got %d", m.nFactors)}
	}
	if n := max(d.NumUsers, d.NumItems); n > maxTableSize/m.nFactors {
		return &TrainingError{Param: string(model.NFactors), Reason: fmt.Sprintf("%d factors of %d users or items exceed %d parameters", m.nFactors, n, maxTableSize)}
	}
	if m.nEpochs <= 0 {
		return &TrainingError{Param: string(model.NEpochs), Reason: fmt.Sprintf("must be positive, but got %d", m.nEpochs)}
	}
	if m.batchSize <= 0 {
		return &TrainingError{Param: string(model.BatchSize), Reason: fmt.Sprintf("must be positive, but got %d", m.batchSize)}
	}
	if !(m.lr > 0) || math32.IsInf(m.lr, 1) {
		return &TrainingError{Param: string(model.Lr), Reason: fmt.Sprintf("must be positive and finite, but got %v", m.lr)}
	}
	if !(m.validSize > 0 && m.validSize < 1) {
		return &TrainingError{Param: string(model.ValidSize), Reason: fmt.Sprintf("must be in (0, 1), but got %v", m.validSize)}
	}
	if !(m.reg >= 0) || math32.IsInf(m.reg, 1) {
		return &TrainingError{Param: string(model.Reg), Reason: fmt.Sprintf("must be non-negative and finite, but got %v", m.reg)}
	}
	if math32.IsNaN(m.initMean) || math32.IsInf(m.initMean, 0) {
		return &TrainingError{Param: string(model.InitMean), Reason: fmt.Sprintf("must be finite, but got %v", m.initMean)}
	}
	if !(m.initStdDev >= 0) || math32.IsInf(m.initStdDev, 1) {
		return &TrainingError{Param: string(model.InitStdDev), Reason: fmt.Sprintf("must be non-negative and finite, but got %v", m.initStdDev)}
	}
	if m.optimizer != model.Adam && m.optimizer != model.SGD {
		return &TrainingError{Param: string(model.Optimizer), Reason: fmt.Sprintf("unknown optimizer %q", m.optimizer)}
	}
	if newScaling(m.scaling) == nil {
		return &TrainingError{Param: string(model.Scaling), Reason: fmt.Sprintf("unknown scaling %q", m.scaling)}
	}
	return nil
}

func (m *BiasedMF) init(d *dataset.Dataset, trainSet []dataset.Rating, rng base.RandomGenerator) *parameters {
	p := &parameters{
		numUsers:        d.NumUsers,
		numItems:        d.NumItems,
		nFactors:        m.nFactors,
		userFactor:      nn.FromMatrix(rng.NormalMatrix(d.NumUsers, m.nFactors, m.initMean, m.initStdDev)),
		itemFactor:      nn.FromMatrix(rng.NormalMatrix(d.NumItems, m.nFactors, m.initMean, m.initStdDev)),
		userBias:        nn.Zeros(d.NumUsers),
		itemBias:        nn.Zeros(d.NumItems),
		scaling:         newScaling(m.scaling),
		userPredictable: bitset.New(uint(d.NumUsers)),
		itemPredictable: bitset.New(uint(d.NumItems)),
	}
	var sum float32
	for _, r := range trainSet {
		sum += r.Value
		p.userPredictable.Set(uint(r.UserID))
		p.itemPredictable.Set(uint(r.ItemID))
	}
	globalBias, a, c := p.scaling.Init(sum / float32(len(trainSet)))
	p.globalBias = nn.NewScalar(globalBias)
	p.scaleA = nn.NewScalar(a)
	p.scaleC = nn.NewScalar(c)
	return p
}

// optimizers update groups of parameters with different weight decay.
type optimizers []nn.Optimizer

func (o optimizers) ZeroGrad() {
	for _, optimizer := range o {
		optimizer.ZeroGrad()
	}
}

func (o optimizers) Step() {
	for _, optimizer := range o {
		optimizer.Step()
	}
}

// newOptimizer regularizes the factor tables only.
func (m *BiasedMF) newOptimizer(p *parameters) optimizers {
	create := nn.NewAdam
	if m.optimizer == model.SGD {
		create = nn.NewSGD
	}
	factors := create([]*nn.Tensor{p.userFactor, p.itemFactor}, m.lr)
	factors.SetWeightDecay(m.reg)
	params := []*nn.Tensor{p.userBias, p.itemBias, p.globalBias}
	if p.scaling.Trainable() {
		params = append(params, p.scaleA, p.scaleC)
	}
	return optimizers{factors, create(params, m.lr)}
}

// Fit trains the model on a dataset. The ratings are split into a training split
// and a held-out validation split. Parameters are trained into fresh tables and
// committed only if the fit succeeds, so a failed or cancelled fit leaves the
// previous parameters untouched. Cancellation is checked between epochs. With
// early stopping, the parameters of the epoch with the lowest validation loss are
// committed.
func (m *BiasedMF) Fit(ctx context.Context, d *dataset.Dataset, config *FitConfig) (Score, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Score{}, errors.Trace(ErrBusy)
	}
	defer m.busy.Store(false)
	if err := m.validate(d); err != nil {
		return Score{}, errors.Trace(err)
	}
	config = config.LoadDefaultIfNil()
	rng := base.NewRandomGenerator(m.GetRandomState())
	trainSet, validSet := dataset.Split(d.Ratings, float64(m.validSize), rng)
	log.Logger().Info("fit biased mf",
		zap.Int("train_set_size", len(trainSet)),
		zap.Int("valid_set_size", len(validSet)),
		zap.Any("params", m.GetParams()),
		zap.Any("config", config))

	p := m.init(d, trainSet, rng)
	optimizer := m.newOptimizer(p)
	_, span := progress.Start(ctx, "BiasedMF.Fit", m.nEpochs)
	var (
		score     Score
		best      *parameters
		bestScore = EpochScore{ValidationLoss: math32.Inf(1)}
	)
	for epoch := 1; epoch <= m.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			span.Fail(err)
			return Score{}, errors.Annotatef(err, "fit cancelled before epoch %d", epoch)
		}
		fitStart := time.Now()
		rng.Shuffle(len(trainSet), func(i, j int) {
			trainSet[i], trainSet[j] = trainSet[j], trainSet[i]
		})
		var sumLoss float32
		for begin := 0; begin < len(trainSet); begin += m.batchSize {
			end := min(begin+m.batchSize, len(trainSet))
			sumLoss += m.step(p, optimizer, trainSet[begin:end])
		}
		epochScore := EpochScore{Epoch: epoch, TrainingLoss: sumLoss / float32(len(trainSet))}
		if len(validSet) > 0 {
			validLoss, err := loss(ctx, p, validSet, config.Jobs)
			if err != nil {
				span.Fail(err)
				return Score{}, errors.Trace(err)
			}
			epochScore.ValidationLoss = validLoss
		} else {
			// nothing held out
			epochScore.ValidationLoss = epochScore.TrainingLoss
		}
		fitTime := time.Since(fitStart)
		span.Add(1)
		score.NEpochs = epoch
		score.TrainingLoss = epochScore.TrainingLoss
		score.ValidationLoss = epochScore.ValidationLoss
		if config.Callback != nil {
			config.Callback(epochScore)
		}
		if config.Verbose <= 1 || epoch%config.Verbose == 0 || epoch == m.nEpochs {
			log.Logger().Info(fmt.Sprintf("fit biased mf %v/%v", epoch, m.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.Float32("training_loss", epochScore.TrainingLoss),
				zap.Float32("validation_loss", epochScore.ValidationLoss))
		}
		if math32.IsNaN(epochScore.TrainingLoss) || math32.IsInf(epochScore.TrainingLoss, 0) {
			log.Logger().Warn("training loss diverged", zap.Int("epoch", epoch))
		}
		// early stopping
		if epochScore.ValidationLoss < bestScore.ValidationLoss {
			bestScore = epochScore
			if config.Patience > 0 {
				best = p.clone()
			}
		} else if config.Patience > 0 && epoch-bestScore.Epoch >= config.Patience {
			log.Logger().Info("early stop biased mf",
				zap.Int("epoch", epoch),
				zap.Int("best_epoch", bestScore.Epoch),
				zap.Float32("best_validation_loss", bestScore.ValidationLoss))
			break
		}
	}
	score.BestEpoch = score.NEpochs
	if best != nil && bestScore.Epoch < score.NEpochs {
		p = best
		score.BestEpoch = bestScore.Epoch
		score.TrainingLoss = bestScore.TrainingLoss
		score.ValidationLoss = bestScore.ValidationLoss
	}

	evalSet := validSet
	if len(evalSet) == 0 {
		evalSet = trainSet
	}
	rmse, mae, err := evaluate(ctx, p, evalSet, config.Jobs)
	if err != nil {
		span.Fail(err)
		return Score{}, errors.Trace(err)
	}
	score.RMSE, score.MAE = rmse, mae
	span.End()
	m.commit(p)
	return score, nil
}

// step runs forward and backward passes on a mini-batch, updates parameters and
// returns the sum of squared errors of the batch.
func (m *BiasedMF) step(p *parameters, optimizer optimizers, batch []dataset.Rating) float32 {
	optimizer.ZeroGrad()
	a, c := p.scaleA.Data()[0], p.scaleC.Data()[0]
	n := float32(len(batch))
	gradA, gradC := p.scaleA.Grad().Data(), p.scaleC.Grad().Data()
	gradGlobalBias := p.globalBias.Grad().Data()
	var sumLoss float32
	for _, r := range batch {
		userFactor, itemFactor := p.userFactor.Row(r.UserID), p.itemFactor.Row(r.ItemID)
		s := p.score(r.UserID, r.ItemID)
		out := p.scaling.Forward(s, a, c)
		diff := out - r.Value
		sumLoss += diff * diff
		// d(mean squared error)/d(output)
		g := 2 * diff / n
		ds, da, dc := p.scaling.Backward(s, a, c)
		gradA[0] += g * da
		gradC[0] += g * dc
		gs := g * ds
		gradGlobalBias[0] += gs
		p.userBias.GradRow(r.UserID)[0] += gs
		p.itemBias.GradRow(r.ItemID)[0] += gs
		userGrad, itemGrad := p.userFactor.GradRow(r.UserID), p.itemFactor.GradRow(r.ItemID)
		floats.MulConstAdd(itemFactor, gs, userGrad)
		floats.MulConstAdd(userFactor, gs, itemGrad)
	}
	optimizer.Step()
	return sumLoss
}
