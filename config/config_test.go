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
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("config.toml.template", nil)
	require.NoError(t, err)

	// [input]
	assert.Equal(t, "ratings.csv", config.Input.Ratings)
	// [datasets]
	assert.Equal(t, "user_vectors", config.Datasets.UserVectors)
	assert.Equal(t, "cooccurrence", config.Datasets.CoOccurrence)
	assert.Equal(t, "partial_scores", config.Datasets.PartialScores)
	assert.Equal(t, "aggregated_scores", config.Datasets.AggregatedScores)
	assert.Equal(t, "recommendations", config.Datasets.Output)
	// [storage]
	assert.Equal(t, StoragePOSIX, config.Storage.Type)
	assert.Equal(t, "data", config.Storage.Dir)
	assert.True(t, config.Storage.S3.UseSSL)
	// [cooccurrence]
	assert.Equal(t, 0, config.CoOccurrence.MinSupport)
	assert.True(t, config.CoOccurrence.VerifySymmetry)
	// [aggregate]
	assert.Zero(t, config.Aggregate.Threshold)
	assert.False(t, config.Aggregate.ExcludeSeen)
	// [recommend]
	assert.Equal(t, 5, config.Recommend.TopK)
	// [execution]
	assert.Equal(t, 4, config.Execution.Workers)
	assert.Equal(t, 4, config.Execution.Partitions)
	assert.Equal(t, 0, config.Execution.MaxRetries)
	// [tracing]
	assert.False(t, config.Tracing.EnableTracing)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, "localhost:4317", config.Tracing.CollectorEndpoint)
	assert.Equal(t, "always", config.Tracing.Sampler)
	assert.Equal(t, 1.0, config.Tracing.Ratio)
}

func TestLoadConfigDefault(t *testing.T) {
	t.Setenv("GORSE_ITEMCF_INPUT_RATINGS", "ratings")
	config, err := LoadConfig("", nil)
	require.NoError(t, err)
	expected := GetDefaultConfig()
	expected.Input.Ratings = "ratings"
	assert.Equal(t, expected, config)
	assert.Equal(t, runtime.NumCPU(), config.Execution.Workers)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("GORSE_ITEMCF_INPUT_RATINGS", "env.csv")
	t.Setenv("GORSE_ITEMCF_RECOMMEND_TOP_K", "10")
	t.Setenv("GORSE_ITEMCF_AGGREGATE_THRESHOLD", "2.5")
	t.Setenv("GORSE_ITEMCF_EXECUTION_PARTITIONS", "8")
	config, err := LoadConfig("config.toml.template", nil)
	require.NoError(t, err)
	assert.Equal(t, "env.csv", config.Input.Ratings)
	assert.Equal(t, 10, config.Recommend.TopK)
	assert.Equal(t, 2.5, config.Aggregate.Threshold)
	assert.Equal(t, 8, config.Execution.Partitions)
}

func TestLoadConfigEnvWithoutDefault(t *testing.T) {
	t.Setenv("GORSE_ITEMCF_STORAGE_TYPE", "s3")
	t.Setenv("GORSE_ITEMCF_STORAGE_S3_BUCKET", "bkt")
	t.Setenv("GORSE_ITEMCF_STORAGE_S3_ENDPOINT", "minio:9000")
	t.Setenv("GORSE_ITEMCF_STORAGE_S3_USE_SSL", "true")
	t.Setenv("GORSE_ITEMCF_STORAGE_GCS_CREDENTIALS_FILE", "/etc/gcs.json")
	t.Setenv("GORSE_ITEMCF_STORAGE_AZURE_CONTAINER", "ctr")
	t.Setenv("GORSE_ITEMCF_TRACING_COLLECTOR_ENDPOINT", "otel:4317")
	t.Setenv("GORSE_ITEMCF_TRACING_ENABLE_TRACING", "true")
	config, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, StorageS3, config.Storage.Type)
	assert.Equal(t, "bkt", config.Storage.S3.Bucket)
	assert.Equal(t, "minio:9000", config.Storage.S3.Endpoint)
	assert.True(t, config.Storage.S3.UseSSL)
	assert.Equal(t, "/etc/gcs.json", config.Storage.GCS.CredentialsFile)
	assert.Equal(t, "ctr", config.Storage.Azure.Container)
	assert.Equal(t, "otel:4317", config.Tracing.CollectorEndpoint)
	assert.True(t, config.Tracing.EnableTracing)
}

func TestConfigKeys(t *testing.T) {
	keys := configKeys(reflect.TypeFor[Config](), "")
	assert.Contains(t, keys, "input.ratings")
	assert.Contains(t, keys, "storage.s3.secret_access_key")
	assert.Contains(t, keys, "storage.azure.connection_string")
	assert.Contains(t, keys, "tracing.collector_endpoint")
	assert.NotContains(t, keys, "storage.s3")
	for _, key := range flagKeys {
		assert.Contains(t, keys, key)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	t.Setenv("GORSE_ITEMCF_RECOMMEND_TOP_K", "10")
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	err := flagSet.Parse([]string{"--input", "flag.csv", "-k", "3", "--output", "top3", "--exclude-seen"})
	require.NoError(t, err)
	config, err := LoadConfig("config.toml.template", flagSet)
	require.NoError(t, err)
	assert.Equal(t, "flag.csv", config.Input.Ratings)
	assert.Equal(t, 3, config.Recommend.TopK)
	assert.Equal(t, "top3", config.Datasets.Output)
	assert.True(t, config.Aggregate.ExcludeSeen)
	// unchanged flags keep values from file
	assert.Equal(t, "user_vectors", config.Datasets.UserVectors)
	assert.Equal(t, 4, config.Execution.Workers)
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte("[input]\nratings = \"a\"\n[recommend]\ntopk = 3\n"), 0644)
	require.NoError(t, err)
	_, err = LoadConfig(path, nil)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())
	config.Input.Ratings = "ratings"
	assert.NoError(t, config.Validate())

	config = GetDefaultConfig()
	config.Input.Ratings = "ratings"
	config.Recommend.TopK = -1
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Input.Ratings = "ratings"
	config.Execution.Partitions = 0
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Input.Ratings = "ratings"
	config.Storage.Type = "hdfs"
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Input.Ratings = "ratings"
	config.Datasets.Output = config.Datasets.UserVectors
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Input.Ratings = config.Datasets.CoOccurrence
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Input.Ratings = "ratings"
	config.Tracing.Ratio = 2
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))
}

func TestTracingConfig(t *testing.T) {
	config := GetDefaultConfig().Tracing
	provider, err := config.NewTracerProvider()
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, provider)

	config.EnableTracing = true
	config.Exporter = "zipkin"
	config.CollectorEndpoint = "http://localhost:9411/api/v2/spans"
	config.Sampler = "ratio"
	config.Ratio = 0.5
	provider, err = config.NewTracerProvider()
	require.NoError(t, err)
	sdkProvider, ok := provider.(*tracesdk.TracerProvider)
	require.True(t, ok)
	assert.NoError(t, sdkProvider.Shutdown(t.Context()))

	config.Exporter = "jaeger"
	_, err = config.NewTracerProvider()
	assert.True(t, errors.Is(err, errors.NotSupported))
}
