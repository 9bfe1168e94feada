// Copyright 2026 gorse Project Authors
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
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"

	"github.com/gorse-io/itemcf/cmd/version"
	"github.com/gorse-io/itemcf/common/log"
	"github.com/gorse-io/itemcf/config"
	"github.com/gorse-io/itemcf/storage/blob"
	"github.com/gorse-io/itemcf/worker"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "gorse-itemcf",
	Short: "Item-based collaborative filtering recommendations as a batch pipeline.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.CloseLogger()
	},
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline from raw ratings to top-k recommendations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		conf, err := config.LoadConfig(configPath, cmd.Flags())
		if err != nil {
			return errors.Trace(err)
		}
		fromName, _ := cmd.Flags().GetString("from")
		from, err := worker.ParseStage(fromName)
		if err != nil {
			return errors.Trace(err)
		}
		store, err := blob.Open(conf.Storage)
		if err != nil {
			return errors.Trace(err)
		}
		tracerProvider, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			return errors.Trace(err)
		}
		otel.SetTracerProvider(tracerProvider)
		if provider, ok := tracerProvider.(*tracesdk.TracerProvider); ok {
			defer func() {
				if err := provider.Shutdown(context.Background()); err != nil {
					log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
				}
			}()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		pipeline := worker.NewPipeline(conf, store, tracerProvider)
		if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
			bar := progressbar.Default(int64(len(worker.StageNames())), "pipeline")
			pipeline.OnStage = func(result worker.StageResult) {
				bar.Describe(result.Stage.String())
				_ = bar.Add(1)
			}
		}
		summary, err := pipeline.Run(ctx, from)
		if summary != nil {
			if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
				log.Logger().Error("failed to print summary", zap.Error(err))
			}
		}
		if metricsFile, _ := cmd.Flags().GetString("metrics-file"); metricsFile != "" {
			if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil {
				log.Logger().Error("failed to write metrics", zap.String("file", metricsFile), zap.Error(err))
			}
		}
		return errors.Trace(err)
	},
}

var checkSymmetryCommand = &cobra.Command{
	Use:   "check-symmetry <dataset>",
	Short: "Check that a co-occurrence dataset is symmetric.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		conf, err := config.LoadConfig(configPath, cmd.Flags())
		if err != nil {
			return errors.Trace(err)
		}
		store, err := blob.Open(conf.Storage)
		if err != nil {
			return errors.Trace(err)
		}
		n, err := worker.CheckSymmetry(cmd.Context(), store, args[0], conf.Execution.Workers)
		if err != nil {
			return errors.Trace(err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is symmetric (%d pairs)\n", args[0], n)
		return errors.Trace(err)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
	},
}

func printSummary(w io.Writer, summary *worker.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Status", "Attempts", "Duration", "Counters")
	var rows [][]string
	for _, result := range summary.Stages {
		status := "done"
		if result.Skipped {
			status = "skipped"
		} else if result.Counters == nil {
			status = "failed"
		}
		var counters []string
		for _, name := range slices.Sorted(maps.Keys(result.Counters)) {
			counters = append(counters, fmt.Sprintf("%s=%d", name, result.Counters[name]))
		}
		rows = append(rows, []string{
			result.Stage.String(),
			status,
			strconv.Itoa(result.Attempts),
			result.Duration.String(),
			strings.Join(counters, " "),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	if err := table.Render(); err != nil {
		return errors.Trace(err)
	}
	_, err := fmt.Fprintf(w, "run %s finished in %v\n", summary.RunId, summary.Duration)
	return errors.Trace(err)
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")

	config.AddFlags(runCommand.Flags())
	runCommand.Flags().String("from", worker.StageNames()[0], "first stage to run ("+strings.Join(worker.StageNames(), ", ")+")")
	runCommand.Flags().String("metrics-file", "", "write prometheus metrics to this file after the run")
	runCommand.Flags().Bool("progress", false, "show a progress bar of stages")

	checkSymmetryCommand.Flags().String("storage-dir", config.GetDefaultConfig().Storage.Dir, "root directory of posix storage")
	checkSymmetryCommand.Flags().Int("workers", config.GetDefaultConfig().Execution.Workers, "number of parallel workers")

	rootCommand.AddCommand(runCommand, checkSymmetryCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
