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

package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/mfrating/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the rating service.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Model     ModelConfig     `mapstructure:"model"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DataConfig locates the item and rating records.
type DataConfig struct {
	ItemsPath   string `mapstructure:"items_path"`
	RatingsPath string `mapstructure:"ratings_path"`
	Synthetic   bool   `mapstructure:"synthetic"`
}

// SyntheticConfig configures the fallback rating generator.
type SyntheticConfig struct {
	NumUsers  int     `mapstructure:"num_users" validate:"gt=0"`
	NumItems  int     `mapstructure:"num_items" validate:"gt=0"`
	Retention float64 `mapstructure:"retention" validate:"gt=0,lte=1"`
	Noise     float64 `mapstructure:"noise" validate:"gte=0"`
	Seed      int64   `mapstructure:"seed"`
}

// ModelConfig holds the hyper-parameters of the rating model and the fitting options.
type ModelConfig struct {
	NFactors     int     `mapstructure:"n_factors" validate:"gte=1"`
	NEpochs      int     `mapstructure:"n_epochs" validate:"gt=0"`
	BatchSize    int     `mapstructure:"batch_size" validate:"gt=0"`
	Lr           float64 `mapstructure:"lr" validate:"gt=0"`
	ValidSize    float64 `mapstructure:"valid_size" validate:"gt=0,lt=1"`
	Reg          float64 `mapstructure:"reg" validate:"gte=0"`
	InitMean     float64 `mapstructure:"init_mean"`
	InitStdDev   float64 `mapstructure:"init_std" validate:"gte=0"`
	RandomState  int64   `mapstructure:"random_state"`
	Optimizer    string  `mapstructure:"optimizer" validate:"oneof=adam sgd"`
	Scaling      string  `mapstructure:"scaling" validate:"oneof=logistic linear identity"`
	Jobs         int     `mapstructure:"jobs" validate:"gt=0"`
	Verbose      int     `mapstructure:"verbose" validate:"gte=0"`
	Patience     int     `mapstructure:"patience" validate:"gte=0"`
	SearchTrials int     `mapstructure:"search_trials" validate:"gt=0"`
}

// GetParams converts the configuration into model hyper-parameters.
func (config *ModelConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:    config.NFactors,
		model.NEpochs:     config.NEpochs,
		model.BatchSize:   config.BatchSize,
		model.Lr:          config.Lr,
		model.ValidSize:   config.ValidSize,
		model.Reg:         config.Reg,
		model.InitMean:    config.InitMean,
		model.InitStdDev:  config.InitStdDev,
		model.RandomState: config.RandomState,
		model.Optimizer:   config.Optimizer,
		model.Scaling:     config.Scaling,
	}
}

type ServerConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheSize uint64        `mapstructure:"cache_size"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Synthetic: SyntheticConfig{
			NumUsers:  100,
			NumItems:  50,
			Retention: 0.65,
			Noise:     0.5,
		},
		Model: ModelConfig{
			NFactors:     8,
			NEpochs:      20,
			BatchSize:    32,
			Lr:           0.01,
			ValidSize:    0.2,
			InitStdDev:   0.01,
			Optimizer:    model.Adam,
			Scaling:      model.ScalingLogistic,
			Jobs:         1,
			SearchTrials: 10,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8087,
			CacheTTL:  time.Minute,
			CacheSize: 4096,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [data]
	viper.SetDefault("data.items_path", defaultConfig.Data.ItemsPath)
	viper.SetDefault("data.ratings_path", defaultConfig.Data.RatingsPath)
	viper.SetDefault("data.synthetic", defaultConfig.Data.Synthetic)
	// [synthetic]
	viper.SetDefault("synthetic.num_users", defaultConfig.Synthetic.NumUsers)
	viper.SetDefault("synthetic.num_items", defaultConfig.Synthetic.NumItems)
	viper.SetDefault("synthetic.retention", defaultConfig.Synthetic.Retention)
	viper.SetDefault("synthetic.noise", defaultConfig.Synthetic.Noise)
	viper.SetDefault("synthetic.seed", defaultConfig.Synthetic.Seed)
	// [model]
	viper.SetDefault("model.n_factors", defaultConfig.Model.NFactors)
	viper.SetDefault("model.n_epochs", defaultConfig.Model.NEpochs)
	viper.SetDefault("model.batch_size", defaultConfig.Model.BatchSize)
	viper.SetDefault("model.lr", defaultConfig.Model.Lr)
	viper.SetDefault("model.valid_size", defaultConfig.Model.ValidSize)
	viper.SetDefault("model.reg", defaultConfig.Model.Reg)
	viper.SetDefault("model.init_mean", defaultConfig.Model.InitMean)
	viper.SetDefault("model.init_std", defaultConfig.Model.InitStdDev)
	viper.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	viper.SetDefault("model.optimizer", defaultConfig.Model.Optimizer)
	viper.SetDefault("model.scaling", defaultConfig.Model.Scaling)
	viper.SetDefault("model.jobs", defaultConfig.Model.Jobs)
	viper.SetDefault("model.verbose", defaultConfig.Model.Verbose)
	viper.SetDefault("model.patience", defaultConfig.Model.Patience)
	viper.SetDefault("model.search_trials", defaultConfig.Model.SearchTrials)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.cache_ttl", defaultConfig.Server.CacheTTL)
	viper.SetDefault("server.cache_size", defaultConfig.Server.CacheSize)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from toml file. An empty path loads defaults and
// environment variables only.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment bindings
	bindings := []configBinding{
		{"data.items_path", "MFRATING_ITEMS_PATH"},
		{"data.ratings_path", "MFRATING_RATINGS_PATH"},
		{"data.synthetic", "MFRATING_SYNTHETIC"},
		{"model.jobs", "MFRATING_MODEL_JOBS"},
		{"model.random_state", "MFRATING_RANDOM_STATE"},
		{"server.host", "MFRATING_SERVER_HOST"},
		{"server.port", "MFRATING_SERVER_PORT"},
	}
	for _, binding := range bindings {
		err := viper.BindEnv(binding.key, binding.env)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges declared by struct tags.
func (config *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(config)
}
