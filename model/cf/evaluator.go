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

	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrating/common/floats"
	"github.com/gorse-io/mfrating/common/parallel"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/juju/errors"
)

// reduce sums f over ratings using nJobs workers.
func reduce(ctx context.Context, ratings []dataset.Rating, nJobs int, f func(r dataset.Rating) float32) (float32, error) {
	chunks := parallel.Split(ratings, max(nJobs, 1))
	partial := make([]float32, len(chunks))
	err := parallel.Parallel(ctx, len(chunks), nJobs, func(_, jobId int) error {
		for _, r := range chunks[jobId] {
			partial[jobId] += f(r)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return floats.Sum(partial), nil
}

// loss is the mean squared error of the unclipped output, the quantity minimized by training.
func loss(ctx context.Context, p *parameters, ratings []dataset.Rating, nJobs int) (float32, error) {
	sum, err := reduce(ctx, ratings, nJobs, func(r dataset.Rating) float32 {
		diff := p.output(p.score(r.UserID, r.ItemID)) - r.Value
		return diff * diff
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return sum / float32(len(ratings)), nil
}

// evaluate returns RMSE and MAE of clipped predictions.
func evaluate(ctx context.Context, p *parameters, ratings []dataset.Rating, nJobs int) (rmse, mae float32, err error) {
	sumSquared, err := reduce(ctx, ratings, nJobs, func(r dataset.Rating) float32 {
		diff := p.predict(r.UserID, r.ItemID) - r.Value
		return diff * diff
	})
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	sumAbsolute, err := reduce(ctx, ratings, nJobs, func(r dataset.Rating) float32 {
		return math32.Abs(p.predict(r.UserID, r.ItemID) - r.Value)
	})
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	n := float32(len(ratings))
	return math32.Sqrt(sumSquared / n), sumAbsolute / n, nil
}

// Evaluate computes RMSE and MAE of the model on ratings. Ratings must be in range of the model.
func (m *BiasedMF) Evaluate(ctx context.Context, ratings []dataset.Rating, nJobs int) (Score, error) {
	p := m.snapshot()
	if p == nil {
		return Score{}, &PredictionError{Kind: ModelNotReady}
	}
	if len(ratings) == 0 {
		return Score{}, errors.New("no ratings to evaluate")
	}
	for _, r := range ratings {
		if err := m.check(p, r.UserID, r.ItemID); err != nil {
			return Score{}, errors.Trace(err)
		}
	}
	validLoss, err := loss(ctx, p, ratings, nJobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	rmse, mae, err := evaluate(ctx, p, ratings, nJobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return Score{ValidationLoss: validLoss, RMSE: rmse, MAE: mae}, nil
}
