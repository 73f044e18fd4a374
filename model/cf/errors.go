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
	"fmt"

	"github.com/juju/errors"
)

// ErrBusy is returned when a model is fitted while another fit is running.
var ErrBusy = errors.New("model is busy training")

// TrainingError reports an invalid hyper-parameter or training set.
type TrainingError struct {
	Param  string
	Reason string
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

type PredictionErrorKind string

const (
	UnknownUser   PredictionErrorKind = "UnknownUser"
	UnknownItem   PredictionErrorKind = "UnknownItem"
	ModelNotReady PredictionErrorKind = "ModelNotReady"
)

// PredictionError reports a prediction that can not be served. It never changes model state.
type PredictionError struct {
	Kind   PredictionErrorKind
	UserID int
	ItemID int
}

func (e *PredictionError) Error() string {
	switch e.Kind {
	case UnknownUser:
		return fmt.Sprintf("unknown user %d", e.UserID)
	case UnknownItem:
		return fmt.Sprintf("unknown item %d", e.ItemID)
	default:
		return "model is not ready"
	}
}

// IsPredictionError reports whether err is a PredictionError of the given kind.
func IsPredictionError(err error, kind PredictionErrorKind) bool {
	var predictionErr *PredictionError
	return errors.As(err, &predictionErr) && predictionErr.Kind == kind
}
