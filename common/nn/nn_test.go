// Copyright 2024 gorse Project Authors
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

package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTensor(t *testing.T) {
	x := FromMatrix([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []int{2, 3}, x.shape)
	assert.Equal(t, []float32{4, 5, 6}, x.Row(1))
	x.Row(1)[0] = 7
	assert.Equal(t, [][]float32{{1, 2, 3}, {7, 5, 6}}, x.Matrix())

	x.GradRow(1)[1] = 1
	y := x.Clone()
	y.Row(0)[0] = 100
	assert.Equal(t, float32(1), x.Row(0)[0])
	assert.Equal(t, x.shape, y.shape)
	assert.Nil(t, y.grad)
	x.zeroGrad()

	x.GradRow(0)[2] = 1
	assert.Equal(t, []float32{0, 0, 1, 0, 0, 0}, x.Grad().Data())
	x.zeroGrad()
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, x.Grad().Data())

	v := Zeros(4)
	v.Row(2)[0] = 3
	assert.Equal(t, []float32{0, 0, 3, 0}, v.Data())
	assert.Panics(t, func() { NewTensor([]float32{1, 2}, 3) })
}

// minimizes sum(x^2) with hand-written gradients.
func testOptimizer(optimizerCreator func(params []*Tensor, lr float32) Optimizer, lr float32, epochs int) (losses []float32) {
	x := NewTensor([]float32{1, 2, 3}, 3)
	optimizer := optimizerCreator([]*Tensor{x}, lr)
	for i := 0; i < epochs; i++ {
		var loss float32
		optimizer.ZeroGrad()
		for j, v := range x.Data() {
			loss += v * v
			x.GradRow(j)[0] = 2 * v
		}
		losses = append(losses, loss)
		optimizer.Step()
	}
	return
}

func TestSGD(t *testing.T) {
	losses := testOptimizer(NewSGD, 0.1, 50)
	assert.IsDecreasing(t, losses)
	assert.Less(t, losses[len(losses)-1], float32(0.01))
}

func TestAdam(t *testing.T) {
	losses := testOptimizer(NewAdam, 0.1, 200)
	assert.Less(t, losses[len(losses)-1], float32(0.5))
	assert.Less(t, losses[len(losses)-1], losses[0])
}

func TestWeightDecay(t *testing.T) {
	x := NewTensor([]float32{1}, 1)
	optimizer := NewSGD([]*Tensor{x}, 0.5)
	optimizer.SetWeightDecay(1)
	x.Grad()
	optimizer.Step()
	assert.Equal(t, float32(0.5), x.Data()[0])
}

func TestSkipWithoutGrad(t *testing.T) {
	x := NewTensor([]float32{1, 2}, 2)
	NewSGD([]*Tensor{x}, 0.5).Step()
	NewAdam([]*Tensor{x}, 0.5).Step()
	assert.Equal(t, []float32{1, 2}, x.Data())
}
