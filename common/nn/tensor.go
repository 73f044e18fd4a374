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
	"fmt"

	"github.com/gorse-io/mfrating/common/floats"
)

// Tensor is a dense row-major parameter table with an optional gradient buffer
// of the same shape. Gradients are written by callers, there is no autograd.
type Tensor struct {
	data  []float32
	shape []int
	grad  *Tensor
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("nn: %d elements do not fit shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// FromMatrix copies a matrix into a tensor of shape (rows, cols).
func FromMatrix(m [][]float32) *Tensor {
	if len(m) == 0 {
		return Zeros(0, 0)
	}
	cols := len(m[0])
	data := make([]float32, 0, len(m)*cols)
	for _, row := range m {
		if len(row) != cols {
			panic("nn: ragged matrix")
		}
		data = append(data, row...)
	}
	return NewTensor(data, len(m), cols)
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, numel(shape)),
		shape: shape,
	}
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// Row returns the i-th row of a matrix (or the i-th element of a vector as a
// slice of length 1). The slice aliases the tensor.
func (t *Tensor) Row(i int) []float32 {
	w := t.rowWidth()
	return t.data[i*w : (i+1)*w]
}

// GradRow returns the gradient slice matching Row(i), allocating the gradient
// buffer on first use.
func (t *Tensor) GradRow(i int) []float32 {
	w := t.rowWidth()
	return t.Grad().data[i*w : (i+1)*w]
}

// Grad returns the gradient buffer, allocating it on first use.
func (t *Tensor) Grad() *Tensor {
	if t.grad == nil {
		t.grad = Zeros(t.shape...)
	}
	return t.grad
}

func (t *Tensor) rowWidth() int {
	if len(t.shape) <= 1 {
		return 1
	}
	return numel(t.shape[1:])
}

// Clone deep copies the data. The gradient is not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return &Tensor{data: data, shape: shape}
}

// Matrix copies the tensor back into a matrix of shape (rows, cols).
func (t *Tensor) Matrix() [][]float32 {
	if len(t.shape) == 0 {
		return [][]float32{{t.data[0]}}
	}
	m := make([][]float32, t.shape[0])
	for i := range m {
		m[i] = make([]float32, t.rowWidth())
		copy(m[i], t.Row(i))
	}
	return m
}

func (t *Tensor) zeroGrad() {
	if t.grad != nil {
		floats.Zero(t.grad.data)
	}
}
