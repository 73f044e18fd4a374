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
	"github.com/gorse-io/mfrating/base"
)

// Split holds out int(n * fraction) randomly chosen ratings for validation. The
// order of the input does not affect which ratings are held out beyond the seed.
func Split(ratings []Rating, fraction float64, rng base.RandomGenerator) (train, valid []Rating) {
	validSize := int(float64(len(ratings)) * fraction)
	perm := rng.Perm(len(ratings))
	valid = make([]Rating, 0, validSize)
	for _, i := range perm[:validSize] {
		valid = append(valid, ratings[i])
	}
	train = make([]Rating, 0, len(ratings)-validSize)
	for _, i := range perm[validSize:] {
		train = append(train, ratings[i])
	}
	return
}
