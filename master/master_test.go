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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/mfrating/base/progress"
	"github.com/gorse-io/mfrating/config"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/stretchr/testify/suite"
)

const (
	alphaBetaItems   = "1|Alpha\n2|Beta\n"
	alphaBetaRatings = "1\t1\t5.0\n1\t2\t3.0\n2\t1\t4.0\n"
)

type MasterTestSuite struct {
	suite.Suite
	master *Master
}

func (suite *MasterTestSuite) SetupTest() {
	cfg := config.GetDefaultConfig()
	cfg.Synthetic.NumUsers = 30
	cfg.Synthetic.NumItems = 15
	cfg.Synthetic.Seed = 1
	cfg.Model.NEpochs = 5
	cfg.Model.RandomState = 1
	suite.master = NewMaster(cfg)
}

func (suite *MasterTestSuite) TestLoadText() {
	suite.Equal(PhaseLoading, suite.master.Status().Phase)
	suite.NoError(suite.master.LoadText(alphaBetaItems, alphaBetaRatings))
	d, source := suite.master.Dataset()
	suite.Equal(dataset.SourceInput, source)
	suite.Equal(3, d.Count())
	suite.Equal([]dataset.Movie{
		{ID: 0, Title: "Alpha", OriginalID: 1},
		{ID: 1, Title: "Beta", OriginalID: 2},
	}, suite.master.Items())
	status := suite.master.Status()
	suite.Equal(PhaseLoaded, status.Phase)
	suite.Equal(2, status.NumUsers)
	suite.Equal(2, status.NumItems)
	suite.Equal(3, status.NumRatings)
	suite.NotEmpty(status.Progress)
}

func (suite *MasterTestSuite) TestLoadTextFallback() {
	suite.NoError(suite.master.LoadText("", "not\ta\trating"))
	d, source := suite.master.Dataset()
	suite.Equal(dataset.SourceSynthetic, source)
	suite.Equal(30, d.NumUsers)
	suite.Equal(15, d.NumItems)
	suite.NoError(d.Validate())
}

func (suite *MasterTestSuite) TestLoad() {
	// no paths
	suite.NoError(suite.master.Load())
	_, source := suite.master.Dataset()
	suite.Equal(dataset.SourceSynthetic, source)

	dir := suite.T().TempDir()
	itemsPath := filepath.Join(dir, "u.item")
	ratingsPath := filepath.Join(dir, "u.data")
	suite.NoError(os.WriteFile(itemsPath, []byte(alphaBetaItems), 0644))
	suite.NoError(os.WriteFile(ratingsPath, []byte(alphaBetaRatings), 0644))
	suite.master.Config.Data.ItemsPath = itemsPath
	suite.master.Config.Data.RatingsPath = ratingsPath
	suite.NoError(suite.master.Load())
	d, source := suite.master.Dataset()
	suite.Equal(dataset.SourceInput, source)
	suite.Equal(3, d.Count())

	// synthetic data is forced
	suite.master.Config.Data.Synthetic = true
	suite.NoError(suite.master.Load())
	_, source = suite.master.Dataset()
	suite.Equal(dataset.SourceSynthetic, source)

	// missing files
	suite.master.Config.Data.Synthetic = false
	suite.master.Config.Data.ItemsPath = filepath.Join(dir, "missing")
	suite.NoError(suite.master.Load())
	_, source = suite.master.Dataset()
	suite.Equal(dataset.SourceSynthetic, source)
}

func (suite *MasterTestSuite) TestFit() {
	suite.NoError(suite.master.LoadSynthetic())
	events, cancel := suite.master.Subscribe()
	defer cancel()
	score, err := suite.master.Fit(context.Background())
	suite.NoError(err)
	suite.Equal(5, score.NEpochs)
	for epoch := 1; epoch <= score.NEpochs; epoch++ {
		event := <-events
		suite.Equal(epoch, event.Epoch)
	}
	status := suite.master.Status()
	suite.Equal(PhaseReady, status.Phase)
	suite.NotEmpty(status.JobID)
	suite.Equal(5, status.Epoch)
	suite.Equal(5, status.NEpochs)
	suite.Contains(status.Message, "Training completed")
	suite.NotNil(status.Score)
	suite.Equal(score.RMSE, status.Score.RMSE)

	prediction, err := suite.master.Predict(0, 0)
	suite.NoError(err)
	suite.Equal(0, prediction.UserID)
	suite.Equal(0, prediction.ItemID)
	suite.Equal("Action Story #1", prediction.Title)
	suite.GreaterOrEqual(prediction.Rating, dataset.MinRating)
	suite.LessOrEqual(prediction.Rating, dataset.MaxRating)
	suite.Equal(cf.Categorize(prediction.Rating), prediction.Label)
	suite.Equal(cf.Stars(prediction.Rating), prediction.Stars)

	_, err = suite.master.Predict(30, 0)
	suite.True(cf.IsPredictionError(err, cf.UnknownUser))
	_, err = suite.master.Predict(0, -1)
	suite.True(cf.IsPredictionError(err, cf.UnknownItem))
}

func (suite *MasterTestSuite) TestPredictNotReady() {
	_, err := suite.master.Predict(0, 0)
	suite.True(cf.IsPredictionError(err, cf.ModelNotReady))
	suite.NoError(suite.master.LoadSynthetic())
	_, err = suite.master.Predict(0, 0)
	suite.True(cf.IsPredictionError(err, cf.ModelNotReady))
}

func (suite *MasterTestSuite) TestFitWithoutDataset() {
	_, err := suite.master.Fit(context.Background())
	suite.True(errors.Is(err, ErrNoDataset))
	_, err = suite.master.Search(context.Background(), 1)
	suite.True(errors.Is(err, ErrNoDataset))
}

func (suite *MasterTestSuite) TestFitCancelled() {
	suite.NoError(suite.master.LoadSynthetic())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.master.Fit(ctx)
	suite.True(errors.Is(err, context.Canceled))
	suite.Equal(PhaseFailed, suite.master.Status().Phase)
	suite.False(suite.master.Model().Ready())
}

func (suite *MasterTestSuite) TestBusy() {
	suite.NoError(suite.master.LoadSynthetic())
	suite.master.busy.Store(true)
	_, err := suite.master.Fit(context.Background())
	suite.True(errors.Is(err, cf.ErrBusy))
	suite.True(errors.Is(suite.master.LoadSynthetic(), cf.ErrBusy))
	_, err = suite.master.Search(context.Background(), 1)
	suite.True(errors.Is(err, cf.ErrBusy))
	suite.Equal(PhaseLoaded, suite.master.Status().Phase)
	suite.master.busy.Store(false)
}

func (suite *MasterTestSuite) TestLoadClearsModel() {
	suite.NoError(suite.master.LoadSynthetic())
	_, err := suite.master.Fit(context.Background())
	suite.NoError(err)
	suite.True(suite.master.Model().Ready())
	suite.NoError(suite.master.LoadText(alphaBetaItems, alphaBetaRatings))
	suite.False(suite.master.Model().Ready())
}

func (suite *MasterTestSuite) TestSubscribe() {
	events, cancel := suite.master.Subscribe()
	suite.master.broadcast(cf.EpochScore{Epoch: 1})
	suite.Equal(1, (<-events).Epoch)
	// full channels drop events
	for i := 0; i < subscriberBufferSize+10; i++ {
		suite.master.broadcast(cf.EpochScore{Epoch: i})
	}
	suite.Len(events, subscriberBufferSize)
	cancel()
	cancel()
	for range events {
	}
	_, ok := <-events
	suite.False(ok)
	suite.Empty(suite.master.subscribers)
}

func (suite *MasterTestSuite) TestSearch() {
	suite.master.Config.Model.NEpochs = 2
	suite.master.model.SetParams(suite.master.Config.Model.GetParams())
	suite.NoError(suite.master.LoadSynthetic())
	result, err := suite.master.Search(context.Background(), 2)
	suite.NoError(err)
	suite.Equal(2, result.Score.NEpochs)
	suite.Equal(result.Params, suite.master.Model().GetParams())
	suite.Equal(2, suite.master.Model().GetParams().GetInt(model.NEpochs, 0))
	suite.False(suite.master.Model().Ready())
}

func (suite *MasterTestSuite) TestSearchCancelled() {
	suite.master.Config.Model.NEpochs = 2
	suite.master.model.SetParams(suite.master.Config.Model.GetParams())
	suite.NoError(suite.master.LoadSynthetic())
	params := suite.master.Model().GetParams()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.master.Search(ctx, 3)
	suite.True(errors.Is(err, context.Canceled))
	suite.Equal(params, suite.master.Model().GetParams())
	suite.False(suite.master.busy.Load())
}

func (suite *MasterTestSuite) TestFitProgress() {
	suite.NoError(suite.master.LoadSynthetic())
	_, err := suite.master.Fit(context.Background())
	suite.NoError(err)
	var fitProgress *progress.Progress
	for _, p := range suite.master.Status().Progress {
		if p.Name == TaskFitModel {
			fitProgress = &p
		}
	}
	if suite.NotNil(fitProgress) {
		suite.Equal(progress.StatusComplete, fitProgress.Status)
		suite.Len(fitProgress.Children, 1)
		suite.Equal("BiasedMF.Fit", fitProgress.Children[0].Name)
		suite.Equal(5, fitProgress.Children[0].Count)
		suite.Equal(5, fitProgress.Children[0].Total)
	}
}

func TestMaster(t *testing.T) {
	suite.Run(t, new(MasterTestSuite))
}
