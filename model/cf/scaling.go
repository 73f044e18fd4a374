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
	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model"
)

const ratingRange = dataset.MaxRating - dataset.MinRating

// scaling maps a raw score to a rating using the trained slope a and intercept c.
type scaling interface {
	// Forward returns the rating of score s.
	Forward(s, a, c float32) float32
	// Backward returns the derivatives of the rating by s, a and c.
	Backward(s, a, c float32) (ds, da, dc float32)
	// Trainable reports whether a and c are trained.
	Trainable() bool
	// Init returns the initial global bias, a and c given the mean rating.
	Init(mean float32) (globalBias, a, c float32)
}

func newScaling(name string) scaling {
	switch name {
	case model.ScalingLogistic:
		return logisticScaling{}
	case model.ScalingLinear:
		return linearScaling{}
	case model.ScalingIdentity:
		return identityScaling{}
	}
	return nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func logit(p float32) float32 {
	return math32.Log(p / (1 - p))
}

// logisticScaling is 1 + 4σ(a·s + c).
type logisticScaling struct{}

func (logisticScaling) Forward(s, a, c float32) float32 {
	return dataset.MinRating + ratingRange*sigmoid(a*s+c)
}

func (logisticScaling) Backward(s, a, c float32) (ds, da, dc float32) {
	y := sigmoid(a*s + c)
	dz := ratingRange * y * (1 - y)
	return dz * a, dz * s, dz
}

func (logisticScaling) Trainable() bool {
	return true
}

func (logisticScaling) Init(mean float32) (globalBias, a, c float32) {
	p := (mean - dataset.MinRating) / ratingRange
	p = math32.Max(0.01, math32.Min(0.99, p))
	return 0, 1, logit(p)
}

// linearScaling is a·s + c.
type linearScaling struct{}

func (linearScaling) Forward(s, a, c float32) float32 {
	return a*s + c
}

func (linearScaling) Backward(s, a, c float32) (ds, da, dc float32) {
	return a, s, 1
}

func (linearScaling) Trainable() bool {
	return true
}

func (linearScaling) Init(mean float32) (globalBias, a, c float32) {
	return mean, 1, 0
}

// identityScaling passes the raw score through.
type identityScaling struct{}

func (identityScaling) Forward(s, a, c float32) float32 {
	return s
}

func (identityScaling) Backward(s, a, c float32) (ds, da, dc float32) {
	return 1, 0, 0
}

func (identityScaling) Trainable() bool {
	return false
}

func (identityScaling) Init(mean float32) (globalBias, a, c float32) {
	return mean, 1, 0
}
