/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"podpipe/internal/config"
	"podpipe/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "podpipe",
		Short: "podpipe downloads, transcribes and summarizes podcast episodes.",
		Long: `podpipe ingests podcast RSS feeds, downloads and normalizes episode audio,
transcribes it through Groq Whisper and distills each transcript into a
structured summary. Every stage is persisted in SQLite or PostgreSQL, so
runs can be interrupted and resumed without repeating paid work.

Typical flow:
  podpipe feed add https://example.com/feed.xml
  podpipe run --max-episodes 3
  podpipe episodes --status processed
  podpipe show 12`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.podpipe.yaml or $HOME/.podpipe.yaml)")

	rootCmd.AddCommand(NewFeedCmd())
	rootCmd.AddCommand(NewDownloadCmd())
	rootCmd.AddCommand(NewTranscribeCmd())
	rootCmd.AddCommand(NewSummarizeCmd())
	rootCmd.AddCommand(NewProcessCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewReprocessCmd())
	rootCmd.AddCommand(NewEpisodesCmd())
	rootCmd.AddCommand(NewShowCmd())
	rootCmd.AddCommand(NewStatsCmd())
	rootCmd.AddCommand(NewTopicsCmd())
	rootCmd.AddCommand(NewExportCmd())
	rootCmd.AddCommand(NewEstimateCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so batches stop launching new work.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
}
