// Copyright 2025 Specter Ops, Inc.
//
// Licensed under the Apache License, Version 2.0
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specterops/attackpath/internal/pipeline"
	"github.com/specterops/attackpath/packages/go/pipelinecfg"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "attackpath",
		Short: "Find and rank attack paths to high value targets in an Active Directory graph",
		Long: `attackpath enumerates shortest paths from ordinary principals to
high value targets, scores them by exploit cost and exposure, and reports
the busiest paths and weakest links across the environment.`,
		RunE: run,
	}

	pipelinecfg.BindFlags(rootCmd)
	rootCmd.Flags().StringVar(&configFile, "config", "", "Optional path to a config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(pipeline.ExitFailure)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := pipelinecfg.Load(cmd, configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := pipeline.Run(ctx, cfg, os.Stdout)
	if code != pipeline.ExitSuccess {
		os.Exit(code)
	}
	return nil
}
