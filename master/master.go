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
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/base/progress"
	"github.com/gorse-io/mfrating/config"
	"github.com/gorse-io/mfrating/dataset"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Phase is the stage of the master.
type Phase string

const (
	PhaseLoading  Phase = "Loading"
	PhaseLoaded   Phase = "Loaded"
	PhaseTraining Phase = "Training"
	PhaseReady    Phase = "Ready"
	PhaseFailed   Phase = "Failed"
)

// subscriberBufferSize is the number of epoch events kept for a slow subscriber.
const subscriberBufferSize = 64

// ErrNoDataset is returned when training or searching before any dataset is loaded.
var ErrNoDataset = errors.New("no dataset loaded")

// Status is a summary of the master for display.
type Status struct {
	Phase          Phase               `json:"phase"`
	Message        string              `json:"message"`
	JobID          string              `json:"job_id,omitempty"`
	Source         dataset.Source      `json:"source,omitempty"`
	NumUsers       int                 `json:"num_users"`
	NumItems       int                 `json:"num_items"`
	NumRatings     int                 `json:"num_ratings"`
	Epoch          int                 `json:"epoch"`
	NEpochs        int                 `json:"n_epochs"`
	TrainingLoss   float32             `json:"training_loss"`
	ValidationLoss float32             `json:"validation_loss"`
	Score          *cf.Score           `json:"score,omitempty"`
	Progress       []progress.Progress `json:"progress,omitempty"`
}

// Prediction is a predicted rating with its display forms.
type Prediction struct {
	UserID int     `json:"user_id"`
	ItemID int     `json:"item_id"`
	Title  string  `json:"title"`
	Rating float32 `json:"rating"`
	Label  string  `json:"label"`
	Stars  string  `json:"stars"`
}

// Master owns the dataset and the rating model. It loads data, trains the model
// and serves predictions.
type Master struct {
	Config *config.Config
	tracer *progress.Tracer

	// busy is held by loading, training and searching
	busy atomic.Bool

	dataMutex sync.RWMutex
	dataset   *dataset.Dataset
	source    dataset.Source

	model *cf.BiasedMF

	statusMutex sync.RWMutex
	status      Status

	subscribersMutex sync.Mutex
	subscribers      map[string]chan cf.EpochScore
}

// NewMaster creates a master without data.
func NewMaster(cfg *config.Config) *Master {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	return &Master{
		Config:      cfg,
		tracer:      progress.NewTracer("master"),
		model:       cf.NewBiasedMF(cfg.Model.GetParams()),
		status:      Status{Phase: PhaseLoading, Message: "Loading data..."},
		subscribers: make(map[string]chan cf.EpochScore),
	}
}

func (m *Master) generator() *dataset.Generator {
	return dataset.NewGenerator(&dataset.GeneratorConfig{
		NumUsers:  m.Config.Synthetic.NumUsers,
		NumItems:  m.Config.Synthetic.NumItems,
		Retention: m.Config.Synthetic.Retention,
		Noise:     float32(m.Config.Synthetic.Noise),
		Seed:      m.Config.Synthetic.Seed,
	})
}

// Load loads the dataset located by the configuration. Synthetic data is generated
// if it is requested, if no paths are configured or if the records are unusable.
func (m *Master) Load() error {
	if m.Config.Data.Synthetic || m.Config.Data.ItemsPath == "" || m.Config.Data.RatingsPath == "" {
		return m.LoadSynthetic()
	}
	return m.LoadFiles(m.Config.Data.ItemsPath, m.Config.Data.RatingsPath)
}

// LoadText loads a dataset from item and rating records.
func (m *Master) LoadText(itemsText, ratingsText string) error {
	return m.load(func() (*dataset.Dataset, dataset.Source) {
		return dataset.LoadOrGenerate(itemsText, ratingsText, m.generator())
	})
}

// LoadFiles loads a dataset from item and rating files.
func (m *Master) LoadFiles(itemsPath, ratingsPath string) error {
	return m.load(func() (*dataset.Dataset, dataset.Source) {
		d, err := dataset.LoadFiles(itemsPath, ratingsPath)
		if err != nil {
			return dataset.Fallback(err, m.generator()), dataset.SourceSynthetic
		}
		return d, dataset.SourceInput
	})
}

// LoadSynthetic generates a synthetic dataset.
func (m *Master) LoadSynthetic() error {
	return m.load(func() (*dataset.Dataset, dataset.Source) {
		return m.generator().Generate(), dataset.SourceSynthetic
	})
}

func (m *Master) load(loader func() (*dataset.Dataset, dataset.Source)) error {
	if !m.busy.CompareAndSwap(false, true) {
		return errors.Trace(cf.ErrBusy)
	}
	defer m.busy.Store(false)
	m.updateStatus(func(status *Status) {
		*status = Status{Phase: PhaseLoading, Message: "Loading data..."}
	})
	_, span := m.tracer.Start(context.Background(), "Load dataset", 1)
	d, source := loader()
	span.Add(1)
	span.End()

	m.dataMutex.Lock()
	m.dataset, m.source = d, source
	m.dataMutex.Unlock()
	// parameters of the previous dataset do not fit the new one
	m.model.Clear()

	updateDatasetMetrics(d, source)
	m.updateStatus(func(status *Status) {
		status.Phase = PhaseLoaded
		status.Message = fmt.Sprintf("Loaded %d ratings of %d users and %d items", d.Count(), d.NumUsers, d.NumItems)
		status.Source = source
		status.NumUsers = d.NumUsers
		status.NumItems = d.NumItems
		status.NumRatings = d.Count()
	})
	log.Logger().Info("load dataset",
		zap.String("source", string(source)),
		zap.Int("n_users", d.NumUsers),
		zap.Int("n_items", d.NumItems),
		zap.Int("n_ratings", d.Count()),
		zap.Float32("mean_rating", d.Mean()))
	return nil
}

// Dataset returns the loaded dataset and where it came from.
func (m *Master) Dataset() (*dataset.Dataset, dataset.Source) {
	m.dataMutex.RLock()
	defer m.dataMutex.RUnlock()
	return m.dataset, m.source
}

// Items returns the loaded items, ordered by id.
func (m *Master) Items() []dataset.Movie {
	d, _ := m.Dataset()
	if d == nil {
		return nil
	}
	return d.Items
}

// Model returns the rating model.
func (m *Master) Model() *cf.BiasedMF {
	return m.model
}

// Status returns the current status with the progress of recent tasks.
func (m *Master) Status() Status {
	m.statusMutex.RLock()
	status := m.status
	m.statusMutex.RUnlock()
	status.Progress = m.tracer.List()
	return status
}

func (m *Master) updateStatus(update func(status *Status)) {
	m.statusMutex.Lock()
	defer m.statusMutex.Unlock()
	update(&m.status)
}

// Predict predicts the rating of an item by a user.
func (m *Master) Predict(userId, itemId int) (Prediction, error) {
	rating, err := m.model.Predict(userId, itemId)
	if err != nil {
		PredictTotal.WithLabelValues(ResultFailure).Inc()
		return Prediction{}, errors.Trace(err)
	}
	PredictTotal.WithLabelValues(ResultSuccess).Inc()
	if !m.model.IsUserPredictable(userId) || !m.model.IsItemPredictable(itemId) {
		log.Logger().Warn("predict without training ratings",
			zap.Int("user_id", userId),
			zap.Int("item_id", itemId),
			zap.Bool("user_predictable", m.model.IsUserPredictable(userId)),
			zap.Bool("item_predictable", m.model.IsItemPredictable(itemId)))
	}
	prediction := Prediction{
		UserID: userId,
		ItemID: itemId,
		Rating: rating,
		Label:  cf.Categorize(rating),
		Stars:  cf.Stars(rating),
	}
	if d, _ := m.Dataset(); d != nil {
		if item, ok := d.GetItem(itemId); ok {
			prediction.Title = item.Title
		}
	}
	return prediction, nil
}

// Subscribe returns a channel of epoch events of the following fits and a function
// to cancel the subscription. Events are dropped if the channel is full.
func (m *Master) Subscribe() (<-chan cf.EpochScore, func()) {
	id := uuid.NewString()
	c := make(chan cf.EpochScore, subscriberBufferSize)
	m.subscribersMutex.Lock()
	m.subscribers[id] = c
	m.subscribersMutex.Unlock()
	var once sync.Once
	return c, func() {
		once.Do(func() {
			m.subscribersMutex.Lock()
			defer m.subscribersMutex.Unlock()
			delete(m.subscribers, id)
			close(c)
		})
	}
}

func (m *Master) broadcast(score cf.EpochScore) {
	m.subscribersMutex.Lock()
	defer m.subscribersMutex.Unlock()
	for id, c := range m.subscribers {
		select {
		case c <- score:
		default:
			log.Logger().Debug("drop epoch event", zap.String("subscriber", id), zap.Int("epoch", score.Epoch))
		}
	}
}
