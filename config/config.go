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
	"context"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	StoragePOSIX = "posix"
	StorageS3    = "s3"
	StorageGCS   = "gcs"
	StorageAzure = "azure"
)

// Config is the configuration for a pipeline run.
type Config struct {
	Input        InputConfig        `mapstructure:"input"`
	Datasets     DatasetsConfig     `mapstructure:"datasets"`
	Storage      StorageConfig      `mapstructure:"storage"`
	CoOccurrence CoOccurrenceConfig `mapstructure:"cooccurrence"`
	Aggregate    AggregateConfig    `mapstructure:"aggregate"`
	Recommend    RecommendConfig    `mapstructure:"recommend"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// InputConfig locates the raw `user,item,rating` lines. Ratings is an object name or a prefix
// holding several objects. It may be empty for commands that never read raw ratings.
type InputConfig struct {
	Ratings string `mapstructure:"ratings"`
}

// DatasetsConfig names the four derived datasets and the final output.
type DatasetsConfig struct {
	UserVectors      string `mapstructure:"user_vectors" validate:"required"`
	CoOccurrence     string `mapstructure:"cooccurrence" validate:"required"`
	PartialScores    string `mapstructure:"partial_scores" validate:"required"`
	AggregatedScores string `mapstructure:"aggregated_scores" validate:"required"`
	Output           string `mapstructure:"output" validate:"required"`
}

// Names returns the dataset names in pipeline order.
func (config *DatasetsConfig) Names() []string {
	return []string{config.UserVectors, config.CoOccurrence, config.PartialScores, config.AggregatedScores, config.Output}
}

type StorageConfig struct {
	Type  string          `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir   string          `mapstructure:"dir"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

type CoOccurrenceConfig struct {
	// A pair is kept only if the number of users who rated both items exceeds MinSupport.
	MinSupport     int  `mapstructure:"min_support" validate:"gte=0"`
	VerifySymmetry bool `mapstructure:"verify_symmetry"`
}

type AggregateConfig struct {
	// A prediction is kept only if its score exceeds Threshold.
	Threshold float64 `mapstructure:"threshold"`
	// Drop (user, item) predictions for items found in the raw ratings of the user.
	ExcludeSeen bool `mapstructure:"exclude_seen"`
}

type RecommendConfig struct {
	TopK int `mapstructure:"top_k" validate:"gte=0"`
}

type ExecutionConfig struct {
	Workers    int `mapstructure:"workers" validate:"gt=0"`
	Partitions int `mapstructure:"partitions" validate:"gt=0"`
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Datasets: DatasetsConfig{
			UserVectors:      "user_vectors",
			CoOccurrence:     "cooccurrence",
			PartialScores:    "partial_scores",
			AggregatedScores: "aggregated_scores",
			Output:           "recommendations",
		},
		Storage: StorageConfig{
			Type: StoragePOSIX,
			Dir:  ".",
		},
		CoOccurrence: CoOccurrenceConfig{
			VerifySymmetry: true,
		},
		Recommend: RecommendConfig{
			TopK: 5,
		},
		Execution: ExecutionConfig{
			Workers:    runtime.NumCPU(),
			Partitions: 4,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [datasets]
	v.SetDefault("datasets.user_vectors", defaultConfig.Datasets.UserVectors)
	v.SetDefault("datasets.cooccurrence", defaultConfig.Datasets.CoOccurrence)
	v.SetDefault("datasets.partial_scores", defaultConfig.Datasets.PartialScores)
	v.SetDefault("datasets.aggregated_scores", defaultConfig.Datasets.AggregatedScores)
	v.SetDefault("datasets.output", defaultConfig.Datasets.Output)
	// [storage]
	v.SetDefault("storage.type", defaultConfig.Storage.Type)
	v.SetDefault("storage.dir", defaultConfig.Storage.Dir)
	// [cooccurrence]
	v.SetDefault("cooccurrence.min_support", defaultConfig.CoOccurrence.MinSupport)
	v.SetDefault("cooccurrence.verify_symmetry", defaultConfig.CoOccurrence.VerifySymmetry)
	// [aggregate]
	v.SetDefault("aggregate.threshold", defaultConfig.Aggregate.Threshold)
	v.SetDefault("aggregate.exclude_seen", defaultConfig.Aggregate.ExcludeSeen)
	// [recommend]
	v.SetDefault("recommend.top_k", defaultConfig.Recommend.TopK)
	// [execution]
	v.SetDefault("execution.workers", defaultConfig.Execution.Workers)
	v.SetDefault("execution.partitions", defaultConfig.Execution.Partitions)
	v.SetDefault("execution.max_retries", defaultConfig.Execution.MaxRetries)
	// [tracing]
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"input":             "input.ratings",
	"user-vectors":      "datasets.user_vectors",
	"cooccurrence":      "datasets.cooccurrence",
	"partial-scores":    "datasets.partial_scores",
	"aggregated-scores": "datasets.aggregated_scores",
	"output":            "datasets.output",
	"top-k":             "recommend.top_k",
	"min-support":       "cooccurrence.min_support",
	"threshold":         "aggregate.threshold",
	"exclude-seen":      "aggregate.exclude_seen",
	"storage-dir":       "storage.dir",
	"workers":           "execution.workers",
	"partitions":        "execution.partitions",
	"max-retries":       "execution.max_retries",
}

// AddFlags registers the driver parameters that override the configuration file.
func AddFlags(flagSet *pflag.FlagSet) {
	defaultConfig := GetDefaultConfig()
	flagSet.String("input", "", "raw ratings object or prefix")
	flagSet.String("user-vectors", defaultConfig.Datasets.UserVectors, "user vectors dataset")
	flagSet.String("cooccurrence", defaultConfig.Datasets.CoOccurrence, "co-occurrence dataset")
	flagSet.String("partial-scores", defaultConfig.Datasets.PartialScores, "partial scores dataset")
	flagSet.String("aggregated-scores", defaultConfig.Datasets.AggregatedScores, "aggregated scores dataset")
	flagSet.String("output", defaultConfig.Datasets.Output, "recommendations dataset")
	flagSet.IntP("top-k", "k", defaultConfig.Recommend.TopK, "number of recommendations per user")
	flagSet.Int("min-support", defaultConfig.CoOccurrence.MinSupport, "minimum co-occurrence support")
	flagSet.Float64("threshold", defaultConfig.Aggregate.Threshold, "minimum predicted score")
	flagSet.Bool("exclude-seen", defaultConfig.Aggregate.ExcludeSeen, "drop rated items again while aggregating")
	flagSet.String("storage-dir", defaultConfig.Storage.Dir, "root directory of posix storage")
	flagSet.Int("workers", defaultConfig.Execution.Workers, "number of parallel workers")
	flagSet.Int("partitions", defaultConfig.Execution.Partitions, "number of reduce partitions")
	flagSet.Int("max-retries", defaultConfig.Execution.MaxRetries, "number of retries of a failed stage")
}

// LoadConfig loads configuration from a file (optional), environment variables prefixed by
// GORSE_ITEMCF_ and changed flags, in increasing priority.
func LoadConfig(path string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefault(v)

	// load config file
	if path != "" {
		v.SetConfigFile(path)
		if ext := filepath.Ext(path); !lo.Contains([]string{".toml", ".yaml", ".yml", ".json"}, ext) {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
	}

	// load environment variables
	v.SetEnvPrefix("GORSE_ITEMCF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys(reflect.TypeFor[Config](), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// bind changed flags
	if flagSet != nil {
		for name, key := range flagKeys {
			if flag := flagSet.Lookup(name); flag != nil && flag.Changed {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, errors.Trace(err)
				}
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// configKeys lists the dotted keys of every leaf field, so that environment variables reach keys
// without defaults.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := prefix + name
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(field.Type, key+".")...)
		} else {
			keys = append(keys, key)
		}
	}
	return keys
}

func (config *Config) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return errors.NewNotValid(err, "config")
	}
	names := config.Datasets.Names()
	if duplicates := lo.FindDuplicates(names); len(duplicates) > 0 {
		return errors.NotValidf("duplicated dataset names %v", duplicates)
	}
	if config.Input.Ratings != "" && lo.Contains(names, config.Input.Ratings) {
		return errors.NotValidf("input %s shared with a dataset", config.Input.Ratings)
	}
	return nil
}

// NewTracerProvider creates the tracer provider for pipeline spans. It returns a no-op provider
// unless tracing is enabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var (
		exporter tracesdk.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	case "otlp":
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	case "otlphttp":
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case "always":
		sampler = tracesdk.AlwaysSample()
	case "never":
		sampler = tracesdk.NeverSample()
	case "ratio":
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(sampler),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewSchemaless(attribute.String("service.name", "gorse-itemcf"))),
	), nil
}
