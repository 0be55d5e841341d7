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

package global

import (
	"github.com/deepgrep/deepgrep/config"
	"github.com/urfave/cli/v3"
)

// Global flags for the deepgrep CLI.

const (
	ConfigFlag         = "config"
	RootFlag           = "root"
	LogLevelFlag       = "log-level"
	MetricsAddressFlag = "metrics-address"
	EnableTracingFlag  = "enable-tracing"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    ConfigFlag,
		Usage:   "path to the configuration file",
		Value:   config.DefaultConfigPath,
		Sources: cli.EnvVars("DEEPGREP_CONFIG"),
	},
	&cli.StringFlag{
		Name:    RootFlag,
		Usage:   "path to the state directory holding the catalog",
		Sources: cli.EnvVars("DEEPGREP_ROOT"),
	},
	&cli.StringFlag{
		Name:  LogLevelFlag,
		Value: "info",
		Usage: "set the logging level [trace, debug, info, warn, error, fatal, panic]",
	},
	&cli.StringFlag{
		Name:  MetricsAddressFlag,
		Usage: "address to serve prometheus metrics on while a command runs",
	},
	&cli.BoolFlag{
		Name:  EnableTracingFlag,
		Usage: "export OpenTelemetry traces to the configured collector",
	},
}
