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

package dataset

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func TestGenerator(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		config := &GeneratorConfig{NumUsers: 30, NumItems: 20, Retention: 0.65, Noise: 0.5, Seed: seed}
		d := NewGenerator(config).Generate()
		assert.NoError(t, d.Validate())
		assert.Equal(t, 30, d.NumUsers)
		assert.Equal(t, 20, d.NumItems)
		assert.Len(t, d.Items, 20)

		users := mapset.NewSet[int]()
		items := mapset.NewSet[int]()
		pairs := mapset.NewSet[[2]int]()
		for _, r := range d.Ratings {
			users.Add(r.UserID)
			items.Add(r.ItemID)
			pairs.Add([2]int{r.UserID, r.ItemID})
			// half-point ratings in range
			assert.GreaterOrEqual(t, r.Value, MinRating)
			assert.LessOrEqual(t, r.Value, MaxRating)
			assert.Equal(t, r.Value*2, float32(int(r.Value*2)))
		}
		assert.Equal(t, 30, users.Cardinality())
		assert.Equal(t, 20, items.Cardinality())
		assert.Equal(t, len(d.Ratings), pairs.Cardinality())
		// sparsity close to retention
		density := float64(d.Count()) / float64(30*20)
		assert.InDelta(t, 0.65, density, 0.1)
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	config := &GeneratorConfig{NumUsers: 10, NumItems: 10, Retention: 0.5, Noise: 0.3, Seed: 7}
	a := NewGenerator(config).Generate()
	b := NewGenerator(config).Generate()
	assert.Equal(t, a, b)
}

func TestGeneratorSparse(t *testing.T) {
	// most rows would be empty without forced ratings
	d := NewGenerator(&GeneratorConfig{NumUsers: 50, NumItems: 40, Retention: 0.01, Seed: 3}).Generate()
	assert.NoError(t, d.Validate())
	assert.Equal(t, 50, d.NumUsers)
	assert.Equal(t, 40, d.NumItems)
}

func TestGeneratorDefaults(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{NumUsers: -1, Retention: 2, Noise: -1})
	assert.Equal(t, 100, g.config.NumUsers)
	assert.Equal(t, 50, g.config.NumItems)
	assert.Equal(t, 0.65, g.config.Retention)
	assert.Equal(t, float32(0), g.config.Noise)
	assert.Equal(t, NewGeneratorConfig(), NewGenerator(nil).config)
}

func TestGeneratorKeepsCallerConfig(t *testing.T) {
	config := &GeneratorConfig{NumUsers: 0, NumItems: -5, Retention: 3, Noise: -2, Seed: 9}
	g := NewGenerator(config)
	assert.Equal(t, &GeneratorConfig{NumUsers: 0, NumItems: -5, Retention: 3, Noise: -2, Seed: 9}, config)
	assert.Equal(t, 100, g.config.NumUsers)
	assert.Equal(t, int64(9), g.config.Seed)
	assert.NotSame(t, config, g.config)
}

func TestItemAffinity(t *testing.T) {
	for itemId := 0; itemId < 100; itemId++ {
		affinity := ItemAffinity(itemId)
		assert.Len(t, affinity, len(Attributes))
		assert.Equal(t, float32(primaryAffinity), affinity[itemId%len(Attributes)])
		var sum float32
		nonZero := 0
		for _, w := range affinity {
			sum += w
			if w != 0 {
				nonZero++
			}
		}
		assert.InDelta(t, 1, sum, 1e-6)
		assert.Equal(t, 2, nonZero)
	}
	assert.Equal(t, "Action Story #1", itemTitle(0))
	assert.Equal(t, "Romance Story #5", itemTitle(4))
}

func TestGeneratorPreferenceSignal(t *testing.T) {
	// ratings follow preferences, so the spread across items is wider than noise alone
	d := NewGenerator(&GeneratorConfig{NumUsers: 50, NumItems: 25, Retention: 1, Noise: 0, Seed: 0}).Generate()
	assert.Equal(t, 50*25, d.Count())
	distinct := mapset.NewSet[float32]()
	for _, r := range d.Ratings {
		distinct.Add(r.Value)
	}
	assert.Greater(t, distinct.Cardinality(), 4)
}
