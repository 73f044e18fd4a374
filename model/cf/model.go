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
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/mfrating/common/floats"
	"github.com/gorse-io/mfrating/common/nn"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model"
	"go.uber.org/atomic"
)

// parameters are the trained tables of a BiasedMF. They are never mutated after
// being committed to a model.
type parameters struct {
	numUsers        int
	numItems        int
	nFactors        int
	userFactor      *nn.Tensor // (numUsers, nFactors)
	itemFactor      *nn.Tensor // (numItems, nFactors)
	userBias        *nn.Tensor // (numUsers)
	itemBias        *nn.Tensor // (numItems)
	globalBias      *nn.Tensor // scalar
	scaleA          *nn.Tensor // scalar
	scaleC          *nn.Tensor // scalar
	scaling         scaling
	userPredictable *bitset.BitSet
	itemPredictable *bitset.BitSet
}

// clone copies the trainable tables. Tables fixed after init are shared.
func (p *parameters) clone() *parameters {
	c := *p
	c.userFactor = p.userFactor.Clone()
	c.itemFactor = p.itemFactor.Clone()
	c.userBias = p.userBias.Clone()
	c.itemBias = p.itemBias.Clone()
	c.globalBias = p.globalBias.Clone()
	c.scaleA = p.scaleA.Clone()
	c.scaleC = p.scaleC.Clone()
	return &c
}

func (p *parameters) score(userId, itemId int) float32 {
	return p.userBias.Data()[userId] +
		p.itemBias.Data()[itemId] +
		p.globalBias.Data()[0] +
		floats.Dot(p.userFactor.Row(userId), p.itemFactor.Row(itemId))
}

func (p *parameters) output(score float32) float32 {
	return p.scaling.Forward(score, p.scaleA.Data()[0], p.scaleC.Data()[0])
}

func (p *parameters) predict(userId, itemId int) float32 {
	return floats.Clip(p.output(p.score(userId, itemId)), dataset.MinRating, dataset.MaxRating)
}

// Snapshot is a copy of the trained parameters of a BiasedMF.
type Snapshot struct {
	UserFactor [][]float32
	ItemFactor [][]float32
	UserBias   []float32
	ItemBias   []float32
	GlobalBias float32
	ScaleA     float32
	ScaleC     float32
}

// BiasedMF is the matrix factorization with user bias, item bias and global bias:
//
//	score(u, i) = b_u + b_i + μ + <p_u, q_i>
//
// The score is mapped to a rating by a trained output transform and clipped into [1, 5].
// A model is created untrained, mutated only by Fit and safe for concurrent prediction.
type BiasedMF struct {
	model.BaseModel
	mu         sync.RWMutex
	params     *parameters
	generation atomic.Uint64
	busy       atomic.Bool
	// Hyper parameters
	nFactors   int
	nEpochs    int
	batchSize  int
	lr         float32
	validSize  float32
	reg        float32
	initMean   float32
	initStdDev float32
	optimizer  string
	scaling    string
}

// NewBiasedMF creates a BiasedMF model.
func NewBiasedMF(params model.Params) *BiasedMF {
	m := new(BiasedMF)
	m.SetParams(params)
	return m
}

// SetParams sets hyper-parameters of the BiasedMF model.
func (m *BiasedMF) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.nFactors = m.Params.GetInt(model.NFactors, 8)
	m.nEpochs = m.Params.GetInt(model.NEpochs, 20)
	m.batchSize = m.Params.GetInt(model.BatchSize, 32)
	m.lr = m.Params.GetFloat32(model.Lr, 0.01)
	m.validSize = m.Params.GetFloat32(model.ValidSize, 0.2)
	m.reg = m.Params.GetFloat32(model.Reg, 0)
	m.initMean = m.Params.GetFloat32(model.InitMean, 0)
	m.initStdDev = m.Params.GetFloat32(model.InitStdDev, 0.01)
	m.optimizer = m.Params.GetString(model.Optimizer, model.Adam)
	m.scaling = m.Params.GetString(model.Scaling, model.ScalingLogistic)
}

// Clear drops the trained parameters.
func (m *BiasedMF) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = nil
	m.generation.Inc()
}

// Ready reports whether the model has been fitted successfully.
func (m *BiasedMF) Ready() bool {
	return m.snapshot() != nil
}

// Busy reports whether a fit is running.
func (m *BiasedMF) Busy() bool {
	return m.busy.Load()
}

func (m *BiasedMF) snapshot() *parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

func (m *BiasedMF) commit(p *parameters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	m.generation.Inc()
}

// Generation is increased whenever the parameters are replaced or cleared. Results
// computed from the model are stale once its generation has changed.
func (m *BiasedMF) Generation() uint64 {
	return m.generation.Load()
}

// NumUsers returns the number of users of the fitted model, or 0 if it is not ready.
func (m *BiasedMF) NumUsers() int {
	if p := m.snapshot(); p != nil {
		return p.numUsers
	}
	return 0
}

// NumItems returns the number of items of the fitted model, or 0 if it is not ready.
func (m *BiasedMF) NumItems() int {
	if p := m.snapshot(); p != nil {
		return p.numItems
	}
	return 0
}

func (m *BiasedMF) check(p *parameters, userId, itemId int) error {
	if p == nil {
		return &PredictionError{Kind: ModelNotReady, UserID: userId, ItemID: itemId}
	}
	if userId < 0 || userId >= p.numUsers {
		return &PredictionError{Kind: UnknownUser, UserID: userId, ItemID: itemId}
	}
	if itemId < 0 || itemId >= p.numItems {
		return &PredictionError{Kind: UnknownItem, UserID: userId, ItemID: itemId}
	}
	return nil
}

// Predict returns the rating of an item by a user in [1, 5].
func (m *BiasedMF) Predict(userId, itemId int) (float32, error) {
	p := m.snapshot()
	if err := m.check(p, userId, itemId); err != nil {
		return 0, err
	}
	return p.predict(userId, itemId), nil
}

// Score returns the raw score of an item by a user before the output transform.
func (m *BiasedMF) Score(userId, itemId int) (float32, error) {
	p := m.snapshot()
	if err := m.check(p, userId, itemId); err != nil {
		return 0, err
	}
	return p.score(userId, itemId), nil
}

// IsUserPredictable reports whether a user had ratings in the training split.
func (m *BiasedMF) IsUserPredictable(userId int) bool {
	p := m.snapshot()
	return p != nil && userId >= 0 && p.userPredictable.Test(uint(userId))
}

// IsItemPredictable reports whether an item had ratings in the training split.
func (m *BiasedMF) IsItemPredictable(itemId int) bool {
	p := m.snapshot()
	return p != nil && itemId >= 0 && p.itemPredictable.Test(uint(itemId))
}

// Parameters returns a copy of the trained parameters, or nil if the model is not ready.
func (m *BiasedMF) Parameters() *Snapshot {
	p := m.snapshot()
	if p == nil {
		return nil
	}
	return &Snapshot{
		UserFactor: p.userFactor.Matrix(),
		ItemFactor: p.itemFactor.Matrix(),
		UserBias:   append([]float32(nil), p.userBias.Data()...),
		ItemBias:   append([]float32(nil), p.itemBias.Data()...),
		GlobalBias: p.globalBias.Data()[0],
		ScaleA:     p.scaleA.Data()[0],
		ScaleC:     p.scaleC.Data()[0],
	}
}
