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

// Package pipelinecfg binds the CLI surface (§4.9, §6) to a single
// configuration struct, honoring flag > env > config-file > default
// precedence, and validates it before any graph I/O is attempted.
package pipelinecfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrConfig reports an invalid flag/env/file combination (§7 ConfigError).
var ErrConfig = errors.New("invalid configuration")

// envPrefix is the environment variable prefix honored for every flag, e.g.
// GOODHOUND_SERVER overrides the server flag's default.
const envPrefix = "GOODHOUND"

// Config is the fully resolved set of options the pipeline orchestrator
// needs, bound from flags, environment variables, and an optional config
// file (§4.9).
type Config struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	OutputFormat   string `mapstructure:"output-format"`
	OutputFilepath string `mapstructure:"output-filepath"`
	Results        int    `mapstructure:"results"`
	Sort           string `mapstructure:"sort"`

	Query    string `mapstructure:"query"`
	Schema   string `mapstructure:"schema"`
	Patch41  bool   `mapstructure:"patch41"`
	DBSkip   bool   `mapstructure:"db-skip"`
	SQLPath  string `mapstructure:"sql-path"`

	Verbose   bool   `mapstructure:"verbose"`
	Quiet     bool   `mapstructure:"quiet"`
	LogFormat string `mapstructure:"log-format"`
}

// BindFlags registers every CLI surface flag on cmd with its documented
// default (§6). Call this once while building the root command, before
// Load.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String("server", "bolt://localhost:7687", "Graph endpoint URI")
	flags.String("username", "neo4j", "Graph endpoint username")
	flags.String("password", "", "Graph endpoint password")

	flags.String("output-format", "stdout", "Output renderer: stdout, csv, md, or html")
	flags.String("output-filepath", "", "Directory for csv/html output files")
	flags.Int("results", 5, "Top-K size for busiest paths and weakest links")
	flags.String("sort", "risk", "Final ordering: users, hops, or risk")

	flags.String("query", "", "Optional replacement for the default group-rooted shortest-path query")
	flags.String("schema", "", "Optional path to a custom schema file")
	flags.Bool("patch41", false, "Apply the missing-attribute patch")
	flags.Bool("db-skip", false, "Skip history store writes")
	flags.String("sql-path", "goodhound.db", "File or directory for the history store")

	flags.BoolP("verbose", "v", false, "Verbose logging")
	flags.BoolP("quiet", "q", false, "Quiet logging")
	flags.String("log-format", "text", "Structured log encoding: text or json")
}

// Load resolves a Config from cmd's bound flags, GOODHOUND_-prefixed
// environment variables, and configFile (if non-empty), in that precedence
// order, and validates the result.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config file %s: %v", ErrConfig, configFile, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("%w: binding flags: %v", ErrConfig, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding configuration: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects mutually-exclusive or required-but-missing combinations
// before any graph I/O is attempted (§4.9, §7 ConfigError).
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case "stdout", "csv", "md", "html":
	default:
		return fmt.Errorf("%w: output-format must be one of stdout, csv, md, html (got %q)", ErrConfig, c.OutputFormat)
	}

	if (c.OutputFormat == "csv" || c.OutputFormat == "html") && c.OutputFilepath == "" {
		return fmt.Errorf("%w: output-filepath is required when output-format is %q", ErrConfig, c.OutputFormat)
	}

	switch c.Sort {
	case "users", "hops", "risk":
	default:
		return fmt.Errorf("%w: sort must be one of users, hops, risk (got %q)", ErrConfig, c.Sort)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log-format must be one of text, json (got %q)", ErrConfig, c.LogFormat)
	}

	if c.Verbose && c.Quiet {
		return fmt.Errorf("%w: verbose and quiet are mutually exclusive", ErrConfig)
	}

	if c.Results <= 0 {
		return fmt.Errorf("%w: results must be a positive integer (got %d)", ErrConfig, c.Results)
	}

	if c.Server == "" {
		return fmt.Errorf("%w: server is required", ErrConfig)
	}

	return nil
}
