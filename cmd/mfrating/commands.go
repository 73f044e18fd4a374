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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"

	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/master"
	"github.com/gorse-io/mfrating/model/cf"
	"github.com/gorse-io/mfrating/server"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the rating model and print losses.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadMaster(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		score, history, err := fit(ctx, m)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Epoch", "Training Loss", "Validation Loss")
		for _, epoch := range history {
			if err = table.Append([]string{
				strconv.Itoa(epoch.Epoch),
				fmt.Sprintf("%.4f", epoch.TrainingLoss),
				fmt.Sprintf("%.4f", epoch.ValidationLoss),
			}); err != nil {
				return errors.Trace(err)
			}
		}
		if err = table.Render(); err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("RMSE = %.4f, MAE = %.4f\n", score.RMSE, score.MAE)
		return nil
	},
}

var predictCommand = &cobra.Command{
	Use:   "predict <user-id> <item-id>",
	Short: "Train the rating model and predict the rating of an item by a user.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Annotate(err, "invalid user id")
		}
		itemId, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Annotate(err, "invalid item id")
		}
		m, err := loadMaster(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if _, _, err = fit(ctx, m); err != nil {
			return err
		}
		prediction, err := m.Predict(userId, itemId)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("%s: %.2f %s (%s)\n", prediction.Title, prediction.Rating, prediction.Stars, prediction.Label)
		return nil
	},
}

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters of the rating model.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadMaster(cmd)
		if err != nil {
			return err
		}
		nTrials := m.Config.Model.SearchTrials
		if cmd.Flags().Changed("n-trials") {
			nTrials, _ = cmd.Flags().GetInt("n-trials")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		result, err := m.Search(ctx, nTrials)
		if err != nil {
			return errors.Trace(err)
		}
		names := lo.Keys(result.Params)
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Param", "Value")
		for _, name := range names {
			if err = table.Append([]string{string(name), fmt.Sprint(result.Params[name])}); err != nil {
				return errors.Trace(err)
			}
		}
		if err = table.Render(); err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("RMSE = %.4f, MAE = %.4f\n", result.Score.RMSE, result.Score.MAE)
		return nil
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Train the rating model and serve predictions over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadMaster(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		go func() {
			if _, err := m.Fit(ctx); err != nil {
				log.Logger().Error("failed to fit rating model", zap.Error(err))
			}
		}()
		if err = server.NewRestServer(m).Serve(ctx); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("stop mfrating server successfully")
		return nil
	},
}

func init() {
	tuneCommand.Flags().Int("n-trials", 10, "number of trials")
}

// fit trains the model with an epoch progress bar and returns the epoch history.
func fit(ctx context.Context, m *master.Master) (cf.Score, []cf.EpochScore, error) {
	events, cancel := m.Subscribe()
	bar := progressbar.NewOptions(m.Config.Model.NEpochs,
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount())
	done := make(chan []cf.EpochScore)
	go func() {
		var history []cf.EpochScore
		for event := range events {
			history = append(history, event)
			bar.Describe(fmt.Sprintf("Epoch %d - Loss: %.4f", event.Epoch, event.TrainingLoss))
			_ = bar.Add(1)
		}
		done <- history
	}()
	score, err := m.Fit(ctx)
	cancel()
	history := <-done
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return cf.Score{}, nil, errors.Trace(err)
	}
	return score, history, nil
}
