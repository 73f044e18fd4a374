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
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrating/base"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/common/floats"
	"go.uber.org/zap"
)

// Attributes are the latent genres of synthetic items.
var Attributes = []string{"Action", "Drama", "Comedy", "Sci-Fi", "Romance"}

const (
	primaryAffinity   = 0.7
	secondaryAffinity = 0.3
)

type GeneratorConfig struct {
	NumUsers  int
	NumItems  int
	Retention float64 // probability that a (user, item) rating is kept
	Noise     float32 // half-width of uniform rating noise
	Seed      int64
}

func NewGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		NumUsers:  100,
		NumItems:  50,
		Retention: 0.65,
		Noise:     0.5,
	}
}

func (config *GeneratorConfig) LoadDefaultIfNil() *GeneratorConfig {
	if config == nil {
		return NewGeneratorConfig()
	}
	return config
}

// Generator produces ratings from users with random genre preferences and items
// with fixed genre affinities.
type Generator struct {
	config *GeneratorConfig
}

// NewGenerator creates a generator from a copy of the config with invalid fields
// replaced by defaults.
func NewGenerator(config *GeneratorConfig) *Generator {
	copied := *config.LoadDefaultIfNil()
	config = &copied
	defaultConfig := NewGeneratorConfig()
	if config.NumUsers <= 0 {
		config.NumUsers = defaultConfig.NumUsers
	}
	if config.NumItems <= 0 {
		config.NumItems = defaultConfig.NumItems
	}
	if config.Retention <= 0 || config.Retention > 1 {
		config.Retention = defaultConfig.Retention
	}
	if config.Noise < 0 {
		config.Noise = 0
	}
	return &Generator{config: config}
}

// ItemAffinity returns the fixed genre weights of an item.
func ItemAffinity(itemId int) []float32 {
	n := len(Attributes)
	primary := itemId % n
	secondary := (primary + 1 + (itemId/n)%(n-1)) % n
	affinity := make([]float32, n)
	affinity[primary] = primaryAffinity
	affinity[secondary] = secondaryAffinity
	return affinity
}

func itemTitle(itemId int) string {
	return fmt.Sprintf("%s Story #%d", Attributes[itemId%len(Attributes)], itemId+1)
}

// Generate creates a valid dataset. Every user and every item has at least one rating.
func (g *Generator) Generate() *Dataset {
	rng := base.NewRandomGenerator(g.config.Seed)
	numUsers, numItems := g.config.NumUsers, g.config.NumItems
	nAttr := len(Attributes)

	items := make([]Movie, numItems)
	affinities := make([][]float32, numItems)
	for i := range items {
		items[i] = Movie{ID: i, Title: itemTitle(i), OriginalID: i + 1}
		affinities[i] = ItemAffinity(i)
	}
	preferences := rng.UniformMatrix(numUsers, nAttr, -1, 1)

	rate := func(userId, itemId int) Rating {
		affinity := floats.Dot(preferences[userId], affinities[itemId])
		noise := rng.UniformFloat32(-g.config.Noise, g.config.Noise)
		value := 3 + 2*affinity + noise
		value = math32.Round(value*2) / 2
		return Rating{UserID: userId, ItemID: itemId, Value: floats.Clip(value, MinRating, MaxRating)}
	}

	var ratings []Rating
	userCovered := bitset.New(uint(numUsers))
	itemCovered := bitset.New(uint(numItems))
	for userId := 0; userId < numUsers; userId++ {
		for itemId := 0; itemId < numItems; itemId++ {
			if rng.Bernoulli(g.config.Retention) {
				ratings = append(ratings, rate(userId, itemId))
				userCovered.Set(uint(userId))
				itemCovered.Set(uint(itemId))
			}
		}
	}
	// force-include users and items without ratings
	forced := 0
	for userId := 0; userId < numUsers; userId++ {
		if !userCovered.Test(uint(userId)) {
			itemId := rng.Intn(numItems)
			ratings = append(ratings, rate(userId, itemId))
			userCovered.Set(uint(userId))
			itemCovered.Set(uint(itemId))
			forced++
		}
	}
	for itemId := 0; itemId < numItems; itemId++ {
		if !itemCovered.Test(uint(itemId)) {
			userId := rng.Intn(numUsers)
			ratings = append(ratings, rate(userId, itemId))
			itemCovered.Set(uint(itemId))
			forced++
		}
	}

	d, err := NewDataset(items, ratings)
	if err != nil {
		// unreachable with positive counts
		panic(err)
	}
	log.Logger().Info("generate synthetic ratings",
		zap.Int("n_users", d.NumUsers),
		zap.Int("n_items", d.NumItems),
		zap.Int("n_ratings", d.Count()),
		zap.Int("n_forced", forced))
	return d
}
