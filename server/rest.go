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
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/master"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// predictionKey tags a cached prediction with the model generation it was computed from.
type predictionKey struct {
	Generation uint64
	UserID     int
	ItemID     int
}

// RestServer implements a REST-ful API server for rating prediction.
type RestServer struct {
	Master     *master.Master
	HttpHost   string
	HttpPort   int
	WebService *restful.WebService

	predictions *ttlcache.Cache[predictionKey, master.Prediction]
	httpServer  *http.Server
}

// NewRestServer creates a REST server backed by a master.
func NewRestServer(m *master.Master) *RestServer {
	cfg := m.Config.Server
	options := []ttlcache.Option[predictionKey, master.Prediction]{
		ttlcache.WithTTL[predictionKey, master.Prediction](cfg.CacheTTL),
	}
	if cfg.CacheSize > 0 {
		options = append(options, ttlcache.WithCapacity[predictionKey, master.Prediction](cfg.CacheSize))
	}
	return &RestServer{
		Master:      m,
		HttpHost:    cfg.Host,
		HttpPort:    cfg.Port,
		WebService:  new(restful.WebService),
		predictions: ttlcache.New[predictionKey, master.Prediction](options...),
	}
}

// Handler registers the REST API, API docs and metrics into a container.
func (s *RestServer) Handler() *restful.Container {
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// Serve starts the HTTP server and blocks until the context is done.
func (s *RestServer) Serve(ctx context.Context) error {
	go s.predictions.Start()
	defer s.predictions.Stop()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort),
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
	}()
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// RequestIdFilter assigns an identifier to each request.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.Request.Header.Get("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	if req.Request.URL.Path != "/api/status" {
		log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("duration", time.Since(start)))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(RequestIdFilter)
	ws.Filter(LogFilter)

	ws.Route(ws.GET("/status").To(s.getStatus).
		Doc("Get the status of data loading and training.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"status"}).
		Writes(master.Status{}))
	ws.Route(ws.GET("/items").To(s.getItems).
		Doc("Get items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Writes([]dataset.Movie{}))
	ws.Route(ws.GET("/predict/{user-id}/{item-id}").To(s.getPrediction).
		Doc("Predict the rating of an item by a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"predict"}).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Writes(master.Prediction{}))
	ws.Route(ws.POST("/train").To(s.train).
		Doc("Train the rating model on the loaded dataset.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"train"}).
		Writes(cf.Score{}))
}

func (s *RestServer) getStatus(_ *restful.Request, response *restful.Response) {
	Ok(response, s.Master.Status())
}

func (s *RestServer) getItems(_ *restful.Request, response *restful.Response) {
	items := s.Master.Items()
	if items == nil {
		items = []dataset.Movie{}
	}
	Ok(response, items)
}

func (s *RestServer) getPrediction(request *restful.Request, response *restful.Response) {
	userId, err := strconv.Atoi(request.PathParameter("user-id"))
	if err != nil {
		BadRequest(response, errors.Annotate(err, "invalid user id"))
		return
	}
	itemId, err := strconv.Atoi(request.PathParameter("item-id"))
	if err != nil {
		BadRequest(response, errors.Annotate(err, "invalid item id"))
		return
	}
	generation := s.Master.Model().Generation()
	key := predictionKey{Generation: generation, UserID: userId, ItemID: itemId}
	if item := s.predictions.Get(key); item != nil {
		Ok(response, item.Value())
		return
	}
	prediction, err := s.Master.Predict(userId, itemId)
	if err != nil {
		switch {
		case cf.IsPredictionError(err, cf.UnknownUser), cf.IsPredictionError(err, cf.UnknownItem):
			PageNotFound(response, err)
		case cf.IsPredictionError(err, cf.ModelNotReady):
			ServiceUnavailable(response, err)
		default:
			InternalServerError(response, err)
		}
		return
	}
	// the model was replaced while predicting
	if s.Master.Model().Generation() == generation {
		s.predictions.Set(key, prediction, ttlcache.DefaultTTL)
	}
	Ok(response, prediction)
}

func (s *RestServer) train(request *restful.Request, response *restful.Response) {
	score, err := s.Master.Fit(request.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, cf.ErrBusy):
			Conflict(response, err)
		case errors.Is(err, master.ErrNoDataset):
			ServiceUnavailable(response, err)
		default:
			InternalServerError(response, err)
		}
		return
	}
	s.predictions.DeleteAll()
	Ok(response, score)
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Conflict returns a conflict error.
func Conflict(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusConflict, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
