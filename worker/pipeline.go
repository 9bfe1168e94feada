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

package worker

import (
	"context"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorse-io/itemcf/common/log"
	"github.com/gorse-io/itemcf/config"
	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/gorse-io/itemcf/logics"
	"github.com/gorse-io/itemcf/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type Stage int

const (
	StagePartition Stage = iota
	StageCoOccurrence
	StagePredict
	StageAggregate
	StageTopK
)

var stageNames = []string{"partition", "cooccurrence", "predict", "aggregate", "topk"}

func (s Stage) String() string {
	if s < StagePartition || s > StageTopK {
		return "unknown"
	}
	return stageNames[s]
}

// ParseStage parses a stage name.
func ParseStage(name string) (Stage, error) {
	i := lo.IndexOf(stageNames, name)
	if i < 0 {
		return 0, errors.NotValidf("stage %q (expect one of %v)", name, stageNames)
	}
	return Stage(i), nil
}

// StageNames returns the names of stages in execution order.
func StageNames() []string {
	return slices.Clone(stageNames)
}

type StageResult struct {
	Stage    Stage
	Skipped  bool
	Attempts int
	Duration time.Duration
	Counters map[string]int64
}

type Summary struct {
	RunId    string
	Duration time.Duration
	Stages   []StageResult
}

// Pipeline runs the five stages in order. Every stage reads the complete outputs of earlier stages
// from the store and replaces its own output dataset.
type Pipeline struct {
	Config *config.Config
	Store  blob.Store
	// BackOff is the delay policy between attempts of a failed stage.
	BackOff func() backoff.BackOff
	// OnStage is called after every stage, including skipped ones.
	OnStage func(result StageResult)

	tracer trace.Tracer
}

func NewPipeline(cfg *config.Config, store blob.Store, tracerProvider trace.TracerProvider) *Pipeline {
	if tracerProvider == nil {
		tracerProvider = noop.NewTracerProvider()
	}
	return &Pipeline{
		Config: cfg,
		Store:  store,
		BackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		tracer: tracerProvider.Tracer("github.com/gorse-io/itemcf/worker"),
	}
}

func (p *Pipeline) options() logics.Options {
	return logics.Options{
		Workers:    p.Config.Execution.Workers,
		Partitions: p.Config.Execution.Partitions,
	}
}

// Run executes stages starting from the given one. Earlier stages are skipped and their outputs are
// reused. The first failed stage aborts the run.
func (p *Pipeline) Run(ctx context.Context, from Stage) (*Summary, error) {
	if from < StagePartition || from > StageTopK {
		return nil, errors.NotValidf("stage %d", from)
	}
	if p.Config.Input.Ratings == "" && (from <= StagePredict || p.Config.Aggregate.ExcludeSeen) {
		return nil, errors.NotValidf("empty input.ratings")
	}
	summary := &Summary{RunId: uuid.NewString()}
	startTime := time.Now()
	log.Logger().Info("start pipeline",
		zap.String("run_id", summary.RunId),
		zap.String("input", p.Config.Input.Ratings),
		zap.String("from", from.String()),
		zap.Int("top_k", p.Config.Recommend.TopK),
		zap.Int("n_workers", p.Config.Execution.Workers),
		zap.Int("n_partitions", p.Config.Execution.Partitions))
	for stage := StagePartition; stage <= StageTopK; stage++ {
		if stage < from {
			p.report(summary, StageResult{Stage: stage, Skipped: true})
			continue
		}
		result, err := p.runStage(ctx, summary.RunId, stage)
		p.report(summary, result)
		if err != nil {
			summary.Duration = time.Since(startTime)
			log.Logger().Error("pipeline failed",
				zap.String("run_id", summary.RunId), zap.String("stage", stage.String()), zap.Error(err))
			return summary, errors.Annotatef(err, "stage %s", stage)
		}
	}
	summary.Duration = time.Since(startTime)
	PipelineTotalSeconds.Set(summary.Duration.Seconds())
	log.Logger().Info("complete pipeline",
		zap.String("run_id", summary.RunId),
		zap.String("output", p.Config.Datasets.Output),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (p *Pipeline) report(summary *Summary, result StageResult) {
	summary.Stages = append(summary.Stages, result)
	if p.OnStage != nil {
		p.OnStage(result)
	}
}

// runStage executes a stage, retrying it as a whole up to max_retries times. Missing inputs and
// invalid data are not retried.
func (p *Pipeline) runStage(ctx context.Context, runId string, stage Stage) (StageResult, error) {
	logger := log.StageLogger(runId, stage.String())
	result := StageResult{Stage: stage}
	startTime := time.Now()
	logger.Info("start stage")

	operation := func() (*dataflow.Counters, error) {
		result.Attempts++
		if result.Attempts > 1 {
			StageRetriesTotal.WithLabelValues(stage.String()).Inc()
			logger.Warn("retry stage", zap.Int("attempt", result.Attempts))
		}
		spanCtx, span := p.tracer.Start(ctx, stage.String(), trace.WithAttributes(
			attribute.String("run_id", runId),
			attribute.Int("attempt", result.Attempts)))
		defer span.End()

		counters := dataflow.NewCounters()
		if err := p.execute(spanCtx, stage, counters); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
				return nil, backoff.Permanent(err)
			}
			logger.Warn("stage attempt failed", zap.Int("attempt", result.Attempts), zap.Error(err))
			return nil, err
		}
		for _, name := range counters.Names() {
			span.SetAttributes(attribute.Int64(name, counters.Get(name)))
		}
		return counters, nil
	}
	counters, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(p.Config.Execution.MaxRetries+1)))
	result.Duration = time.Since(startTime)
	if err != nil {
		return result, errors.Trace(err)
	}

	result.Counters = counters.Snapshot()
	StageSeconds.WithLabelValues(stage.String()).Set(result.Duration.Seconds())
	fields := []zap.Field{zap.Int("attempts", result.Attempts), zap.Duration("duration", result.Duration)}
	for _, name := range counters.Names() {
		value := result.Counters[name]
		StageRecordsTotal.WithLabelValues(stage.String(), name).Add(float64(value))
		fields = append(fields, zap.Int64(name, value))
	}
	logger.Info("complete stage", fields...)
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, stage Stage, counters *dataflow.Counters) error {
	switch stage {
	case StagePartition:
		return p.partition(ctx, counters)
	case StageCoOccurrence:
		return p.cooccurrence(ctx, counters)
	case StagePredict:
		return p.predict(ctx, counters)
	case StageAggregate:
		return p.aggregate(ctx, counters)
	case StageTopK:
		return p.topK(ctx, counters)
	}
	return errors.NotValidf("stage %d", stage)
}

func (p *Pipeline) readRatings(ctx context.Context) ([]string, error) {
	lines, err := dataset.ReadRaw(ctx, p.Store, p.Config.Input.Ratings, p.Config.Execution.Workers)
	return lines, errors.Trace(err)
}

func (p *Pipeline) readUserVectors(ctx context.Context) ([]dataset.UserVector, error) {
	vectors, err := dataset.Read(ctx, p.Store, p.Config.Datasets.UserVectors, dataset.ParseUserVector, p.Config.Execution.Workers)
	return vectors, errors.Trace(err)
}

func (p *Pipeline) partition(ctx context.Context, counters *dataflow.Counters) error {
	lines, err := p.readRatings(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	vectors, err := logics.PartitionByUser(ctx, lines, p.options(), counters)
	if err != nil {
		return errors.Trace(err)
	}
	return dataset.Write(ctx, p.Store, p.Config.Datasets.UserVectors, vectors, p.Config.Execution.Workers)
}

func (p *Pipeline) cooccurrence(ctx context.Context, counters *dataflow.Counters) error {
	vectors, err := p.readUserVectors(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	pairs, err := logics.BuildCoOccurrence(ctx, vectors, p.Config.CoOccurrence.MinSupport, p.options(), counters)
	if err != nil {
		return errors.Trace(err)
	}
	if p.Config.CoOccurrence.VerifySymmetry {
		if err = logics.VerifySymmetry(lo.Flatten(pairs)); err != nil {
			return errors.Trace(err)
		}
	}
	return dataset.Write(ctx, p.Store, p.Config.Datasets.CoOccurrence, pairs, p.Config.Execution.Workers)
}

func (p *Pipeline) predict(ctx context.Context, counters *dataflow.Counters) error {
	pairs, err := dataset.Read(ctx, p.Store, p.Config.Datasets.CoOccurrence, dataset.ParseCoOccurrence, p.Config.Execution.Workers)
	if err != nil {
		return errors.Trace(err)
	}
	vectors, err := p.readUserVectors(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	lines, err := p.readRatings(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	seen := logics.NewSeenItems(vectors)
	log.Logger().Info("load seen items", zap.Int("n_users", seen.Len()), zap.Int("n_pairs", len(pairs)))
	partials, err := logics.Predict(ctx, pairs, lines, seen, p.options(), counters)
	if err != nil {
		return errors.Trace(err)
	}
	return dataset.Write(ctx, p.Store, p.Config.Datasets.PartialScores, partials, p.Config.Execution.Workers)
}

func (p *Pipeline) aggregate(ctx context.Context, counters *dataflow.Counters) error {
	partials, err := dataset.Read(ctx, p.Store, p.Config.Datasets.PartialScores, dataset.ParsePartialScore, p.Config.Execution.Workers)
	if err != nil {
		return errors.Trace(err)
	}
	var lines []string
	if p.Config.Aggregate.ExcludeSeen {
		if lines, err = p.readRatings(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	scores, err := logics.Aggregate(ctx, partials, lines, logics.AggregateOptions{
		Options:     p.options(),
		Threshold:   p.Config.Aggregate.Threshold,
		ExcludeSeen: p.Config.Aggregate.ExcludeSeen,
	}, counters)
	if err != nil {
		return errors.Trace(err)
	}
	return dataset.Write(ctx, p.Store, p.Config.Datasets.AggregatedScores, scores, p.Config.Execution.Workers)
}

func (p *Pipeline) topK(ctx context.Context, counters *dataflow.Counters) error {
	scores, err := dataset.Read(ctx, p.Store, p.Config.Datasets.AggregatedScores, dataset.ParseScore, p.Config.Execution.Workers)
	if err != nil {
		return errors.Trace(err)
	}
	recommendations, err := logics.SelectTopK(ctx, scores, p.Config.Recommend.TopK, p.options(), counters)
	if err != nil {
		return errors.Trace(err)
	}
	return dataset.Write(ctx, p.Store, p.Config.Datasets.Output, recommendations, p.Config.Execution.Workers)
}

// CheckSymmetry verifies an existing co-occurrence dataset.
func CheckSymmetry(ctx context.Context, store blob.Store, name string, numJobs int) (int, error) {
	pairs, err := dataset.Read(ctx, store, name, dataset.ParseCoOccurrence, numJobs)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return len(pairs), errors.Trace(logics.VerifySymmetry(pairs))
}
