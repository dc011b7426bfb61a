// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the tickrunner configuration from a YAML file and
// the environment.
package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/tickrunner/internal/aggregator"
	"github.com/cardinalhq/tickrunner/internal/lineparser"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/processor"
	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TICKRUNNER"

// Config aggregates configuration for the application.
// Each section is owned by its respective package.
type Config struct {
	Schema      []schema.FieldSpec   `mapstructure:"schema"`
	Input       lineparser.Config    `mapstructure:"input"`
	Aggregation aggregator.Config    `mapstructure:"aggregation"`
	Writer      parquetwriter.Config `mapstructure:"writer"`
	Processor   processor.Config     `mapstructure:"processor"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Input:       lineparser.DefaultConfig(),
		Aggregation: aggregator.DefaultConfig(),
		Writer:      parquetwriter.DefaultConfig(),
		Processor:   processor.DefaultConfig(),
	}
}

// Load reads configuration from path and environment variables.
// Environment variables use the prefix "TICKRUNNER" and the dot character
// in keys is replaced by an underscore. For example,
// "aggregation.bucket_size" becomes "TICKRUNNER_AGGREGATION_BUCKET_SIZE".
// With an empty path, tickrunner.yaml in the working directory is used if
// present.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tickrunner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, tickerr.Schema("reading config: %v", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, tickerr.Schema("decoding config: %v", err)
	}
	return cfg, nil
}

// Options converts the loaded configuration into processor options.
func (c *Config) Options() processor.Options {
	return processor.Options{
		Schema:      c.Schema,
		Input:       c.Input,
		Aggregation: c.Aggregation,
		Writer:      c.Writer,
		Run:         c.Processor,
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
