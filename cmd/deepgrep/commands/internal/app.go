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

// Package internal carries the plumbing shared by the CLI commands:
// configuration loading with flag overrides, the optional metrics and
// tracing surfaces, and catalog access.
package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/containerd/log"
	dockermetrics "github.com/docker/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/catalog"
	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/global"
	"github.com/deepgrep/deepgrep/config"
	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/tracing"
)

// AppConfig loads the configuration named by --config and lays the
// global flag overrides on top of it.
func AppConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.NewConfigFromToml(cmd.String(global.ConfigFlag))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet(global.RootFlag) {
		cfg.Root = cmd.String(global.RootFlag)
	}
	if cmd.IsSet(global.MetricsAddressFlag) {
		cfg.MetricsAddress = cmd.String(global.MetricsAddressFlag)
	}
	if cmd.Bool(global.EnableTracingFlag) {
		cfg.Tracing.Enabled = true
	}
	if cmd.IsSet(global.LogLevelFlag) {
		cfg.LogLevel = cmd.String(global.LogLevelFlag)
	} else if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		// The flag default already configured the logger; pick up the
		// file's level only when the flag was left alone.
		logrus.SetLevel(lvl)
	}
	return cfg, nil
}

// Setup starts the metrics listener and the tracer when the
// configuration asks for them. The returned cleanup runs them down in
// reverse order and is safe to call exactly once.
func Setup(ctx context.Context, cfg *config.Config) (func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.MetricsAddress != "" {
		metrics.Register()
		l, err := net.Listen(cfg.MetricsNetwork, cfg.MetricsAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to get listener for metrics endpoint: %w", err)
		}
		cleanups = append(cleanups, func() { l.Close() })
		m := http.NewServeMux()
		m.Handle("/metrics", dockermetrics.Handler())
		go func() {
			if err := http.Serve(l, m); err != nil && !errors.Is(err, net.ErrClosed) {
				log.G(ctx).WithError(err).WithField("address", cfg.MetricsAddress).Warn("metrics endpoint stopped")
			}
		}()
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := shutdown(ctx); err != nil {
				log.G(ctx).WithError(err).Warn("failed to shut down the tracer")
			}
		})
	}

	return cleanup, nil
}

// OpenCatalog opens the catalog database under the configured root.
func OpenCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	root, err := cfg.RootDir()
	if err != nil {
		return nil, err
	}
	return catalog.Open(catalog.DBPath(root), cfg.Catalog.LRUEntries)
}
