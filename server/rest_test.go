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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/mfrating/config"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/master"
	"github.com/gorse-io/mfrating/model"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/jellydator/ttlcache/v3"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func marshal(t *testing.T, v interface{}) string {
	s, err := json.Marshal(v)
	assert.NoError(t, err)
	return string(s)
}

type ServerTestSuite struct {
	suite.Suite
	*RestServer
	handler *restful.Container
}

func (suite *ServerTestSuite) SetupTest() {
	cfg := config.GetDefaultConfig()
	cfg.Model.NEpochs = 3
	cfg.Model.RandomState = 1
	cfg.Server.CacheTTL = time.Hour
	suite.RestServer = NewRestServer(master.NewMaster(cfg))
	suite.handler = suite.Handler()
}

func (suite *ServerTestSuite) TestStatus() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/status").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(resp *http.Response, _ *http.Request) error {
			var status master.Status
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return err
			}
			assert.Equal(t, master.PhaseLoading, status.Phase)
			return nil
		}).
		End()
}

func (suite *ServerTestSuite) TestItems() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/items").
		Expect(t).
		Status(http.StatusOK).
		Body("[]").
		End()
	suite.NoError(suite.Master.LoadText("1|Alpha\n2|Beta\n", "1\t1\t5\n1\t2\t3\n2\t1\t4\n"))
	apitest.New().
		Handler(suite.handler).
		Get("/api/items").
		Expect(t).
		Status(http.StatusOK).
		Body(marshal(t, []dataset.Movie{
			{ID: 0, Title: "Alpha", OriginalID: 1},
			{ID: 1, Title: "Beta", OriginalID: 2},
		})).
		End()
}

func (suite *ServerTestSuite) TestPredict() {
	t := suite.T()
	suite.NoError(suite.Master.LoadText("1|Alpha\n2|Beta\n", "1\t1\t5\n1\t2\t3\n2\t1\t4\n"))
	// not trained
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/0/0").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	// train
	apitest.New().
		Handler(suite.handler).
		Post("/api/train").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(resp *http.Response, _ *http.Request) error {
			var score cf.Score
			if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
				return err
			}
			assert.Equal(t, 3, score.NEpochs)
			return nil
		}).
		End()
	prediction, err := suite.Master.Predict(1, 1)
	suite.NoError(err)
	suite.Equal("Beta", prediction.Title)
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/1/1").
		Expect(t).
		Status(http.StatusOK).
		Body(marshal(t, prediction)).
		End()
	generation := suite.Master.Model().Generation()
	suite.NotNil(suite.predictions.Get(predictionKey{Generation: generation, UserID: 1, ItemID: 1}))
	// invalid ids
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/abc/1").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/1/abc").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	// unknown ids
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/2/0").
		Expect(t).
		Status(http.StatusNotFound).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/0/-1").
		Expect(t).
		Status(http.StatusNotFound).
		End()
	// retrain purges predictions
	apitest.New().
		Handler(suite.handler).
		Post("/api/train").
		Expect(t).
		Status(http.StatusOK).
		End()
	suite.Nil(suite.predictions.Get(predictionKey{Generation: generation, UserID: 1, ItemID: 1}))
}

func (suite *ServerTestSuite) TestPredictAfterRetrain() {
	t := suite.T()
	suite.NoError(suite.Master.LoadText("1|Alpha\n2|Beta\n", "1\t1\t5\n1\t2\t3\n2\t1\t4\n"))
	_, err := suite.Master.Fit(context.Background())
	suite.NoError(err)
	oldGeneration := suite.Master.Model().Generation()
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/0/1").
		Expect(t).
		Status(http.StatusOK).
		End()
	suite.NotNil(suite.predictions.Get(predictionKey{Generation: oldGeneration, UserID: 0, ItemID: 1}))

	// retrain without the server, so nothing purges the cache
	suite.Master.Model().SetParams(suite.Master.Model().GetParams().Overwrite(model.Params{model.RandomState: int64(2)}))
	_, err = suite.Master.Fit(context.Background())
	suite.NoError(err)
	suite.NotEqual(oldGeneration, suite.Master.Model().Generation())
	// a prediction of the previous model stored late
	suite.predictions.Set(predictionKey{Generation: oldGeneration, UserID: 0, ItemID: 1},
		master.Prediction{UserID: 0, ItemID: 1, Rating: 0}, ttlcache.DefaultTTL)
	prediction, err := suite.Master.Predict(0, 1)
	suite.NoError(err)
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/0/1").
		Expect(t).
		Status(http.StatusOK).
		Body(marshal(t, prediction)).
		End()
	suite.NotNil(suite.predictions.Get(predictionKey{Generation: suite.Master.Model().Generation(), UserID: 0, ItemID: 1}))

	// loading a dataset drops the model
	suite.NoError(suite.Master.LoadText("1|Alpha\n2|Beta\n", "1\t1\t5\n1\t2\t3\n2\t1\t4\n"))
	apitest.New().
		Handler(suite.handler).
		Get("/api/predict/0/1").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
}

func (suite *ServerTestSuite) TestTrainWithoutDataset() {
	apitest.New().
		Handler(suite.handler).
		Post("/api/train").
		Expect(suite.T()).
		Status(http.StatusServiceUnavailable).
		End()
}

func (suite *ServerTestSuite) TestTrainBusy() {
	suite.NoError(suite.Master.LoadSynthetic())
	events, cancel := suite.Master.Subscribe()
	defer cancel()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	suite.Master.Config.Model.NEpochs = 1000
	suite.Master.Model().SetParams(suite.Master.Config.Model.GetParams())
	done := make(chan error)
	go func() {
		_, err := suite.Master.Fit(ctx)
		done <- err
	}()
	// wait for the first epoch
	<-events
	apitest.New().
		Handler(suite.handler).
		Post("/api/train").
		Expect(suite.T()).
		Status(http.StatusConflict).
		End()
	stop()
	suite.Error(<-done)
}

func (suite *ServerTestSuite) TestMetrics() {
	apitest.New().
		Handler(suite.handler).
		Get("/metrics").
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
}

func (suite *ServerTestSuite) TestAPIDocs() {
	apitest.New().
		Handler(suite.handler).
		Get("/apidocs.json").
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
}

func (suite *ServerTestSuite) TestRequestId() {
	apitest.New().
		Handler(suite.handler).
		Get("/api/status").
		Header("X-Request-ID", "42").
		Expect(suite.T()).
		Status(http.StatusOK).
		Header("X-Request-ID", "42").
		End()
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
