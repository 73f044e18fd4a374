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
	"github.com/gorse-io/mfrating/base/log"
	"github.com/gorse-io/mfrating/config"
	"github.com/gorse-io/mfrating/master"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "mfrating",
	Short: "Movie rating prediction by biased matrix factorization.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

func init() {
	flags := rootCommand.PersistentFlags()
	log.AddFlags(flags)
	flags.Bool("debug", false, "use debug log mode")
	flags.StringP("config", "c", "", "configuration file path")
	flags.String("items", "", "path of item records")
	flags.String("ratings", "", "path of rating records")
	flags.Bool("synthetic", false, "use synthetic ratings")
	rootCommand.AddCommand(trainCommand, predictCommand, tuneCommand, serveCommand)
}

// loadMaster creates a master from the configuration and the command line flags,
// and loads its dataset.
func loadMaster(cmd *cobra.Command) (*master.Master, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load config")
	}
	if cmd.Flags().Changed("items") {
		cfg.Data.ItemsPath, _ = cmd.Flags().GetString("items")
	}
	if cmd.Flags().Changed("ratings") {
		cfg.Data.RatingsPath, _ = cmd.Flags().GetString("ratings")
	}
	if cmd.Flags().Changed("synthetic") {
		cfg.Data.Synthetic, _ = cmd.Flags().GetBool("synthetic")
	}
	m := master.NewMaster(cfg)
	if err = m.Load(); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
