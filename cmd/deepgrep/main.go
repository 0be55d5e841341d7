/*
   Copyright The DeepGrep Authors.

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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands"
	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/catalog"
	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/global"
	"github.com/deepgrep/deepgrep/version"
)

func main() {
	app := cli.Command{
		Name:    "deepgrep",
		Usage:   "search through compressed files and nested archives",
		Flags:   global.Flags,
		Version: fmt.Sprintf("%s %s", version.Version, version.Revision),
		Commands: []*cli.Command{
			commands.SearchCommand,
			catalog.Command,
			commands.BenchCommand,
			commands.VersionCommand,
		},
		DefaultCommand: "search",
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			lvl, err := logrus.ParseLevel(cmd.String(global.LogLevelFlag))
			if err != nil {
				return ctx, fmt.Errorf("failed to prepare logger: %w", err)
			}
			logrus.SetLevel(lvl)
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: log.RFC3339NanoFixed,
			})
			return log.WithLogger(ctx, log.L), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := app.Run(ctx, os.Args); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "deepgrep: %v\n", err)
		os.Exit(1)
	}
	cancel()
}
