// Copyright 2025 Keepsake AI
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

// Command keepsake runs the voice-biographer reasoning runtime from the
// terminal.
//
// Usage:
//
//	keepsake run "Who is my best friend?" --user margaret
//	keepsake validate --config keepsake.yaml
//	keepsake version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/keepsake-ai/keepsake/pkg/config"
	"github.com/keepsake-ai/keepsake/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Run a single goal through the reasoning loop."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("keepsake version %s\n", version)
	return nil
}

// loadConfig reads the config file when one is given, otherwise the
// zero-config defaults.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config == "" {
		return config.Default(), nil
	}
	return config.Load(cli.Config)
}

// setupLogging initializes the global logger from flags and config, and
// returns a cleanup for any opened log file.
func setupLogging(cli *CLI, cfg *config.Config) (func(), error) {
	levelStr := cli.LogLevel
	if cfg.Logging.Level != "" && levelStr == "info" {
		levelStr = cfg.Logging.Level
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	path := cli.LogFile
	if path == "" {
		path = cfg.Logging.File
	}
	if path != "" {
		f, closeFn, err := logger.OpenLogFile(path)
		if err != nil {
			return nil, err
		}
		output = f
		cleanup = closeFn
	}

	format := "simple"
	if cfg.Logging.Verbose {
		format = "verbose"
	}
	logger.Init(level, output, format)
	return cleanup, nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("keepsake"),
		kong.Description("Agentic reasoning runtime for a voice biographer."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
