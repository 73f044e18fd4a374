// Copyright 2021 gorse Project Authors
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
	"github.com/gorse-io/mfrating/dataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelData   = "data"
	LabelResult = "result"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBusy    = "busy"
)

var (
	DatasetSizeVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "dataset_size",
	}, []string{LabelData})
	TrainingLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "training_loss",
	})
	ValidationLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "validation_loss",
	})
	TrainingEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "training_epoch",
	})
	ModelRMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "model_rmse",
	})
	ModelMAE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "model_mae",
	})
	FitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "fit_seconds",
	})
	FitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "fit_total",
	}, []string{LabelResult})
	PredictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mfrating",
		Subsystem: "master",
		Name:      "predict_total",
	}, []string{LabelResult})
)

func updateDatasetMetrics(d *dataset.Dataset, source dataset.Source) {
	DatasetSizeVec.WithLabelValues("users").Set(float64(d.NumUsers))
	DatasetSizeVec.WithLabelValues("items").Set(float64(d.NumItems))
	DatasetSizeVec.WithLabelValues("ratings").Set(float64(d.Count()))
	if source == dataset.SourceSynthetic {
		DatasetSizeVec.WithLabelValues("synthetic").Set(1)
	} else {
		DatasetSizeVec.WithLabelValues("synthetic").Set(0)
	}
}
