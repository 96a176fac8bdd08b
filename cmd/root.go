// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
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

// Package cmd wires the cobra command tree, binds configuration through
// viper, and starts the mount. It is intentionally thin: all behavior
// lives in internal/.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mathieuhardy/cerebro/internal/logger"
)

var (
	configDir string
	logFile   string
	logLevel  string
	logFormat string
)

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "cerebro")
}

var rootCmd = &cobra.Command{
	Use:   "cerebro mount_point",
	Short: "Expose host telemetry as a FUSE filesystem",
	Long: `cerebro mounts a virtual filesystem at mount_point whose files
surface live readings from battery, CPU, memory, brightness, and trash
data sources, each refreshed by its own background worker.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.InitLogFile(logFile, logFormat, logLevel); err != nil {
			return fmt.Errorf("initializing log file: %w", err)
		}

		logger.SetLogFormat(logFormat)
		logger.SetLogLevel(logLevel)

		return runMount(configDir, args[0])
	},
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", defaultConfigDir(),
		"directory holding config.json and *.triggers files")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log-file", "l", "",
		"path to redirect logging to (stderr if empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logger.Info,
		"minimum severity logged (TRACE, DEBUG, INFO, WARNING, ERROR, OFF)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log output format (text or json)")
}
