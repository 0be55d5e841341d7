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

package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/deepgrep/deepgrep/catalog"
	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
	"github.com/deepgrep/deepgrep/zpipe"
	"github.com/deepgrep/deepgrep/zstream"
)

const (
	zmaxFlag  = "zmax"
	asyncFlag = "async"
)

var buildCommand = &cli.Command{
	Name:      "build",
	Usage:     "index the archive members of the given paths",
	ArgsUsage: "PATH...",
	Description: `Walk the given files and directories and record the member listing
of every archive found. Listings already recorded for an unchanged
file are kept. Plain files stay out of the catalog.`,
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  zmaxFlag,
			Usage: "number of nested compression layers to peel (1..99)",
		},
		&cli.BoolFlag{
			Name:  asyncFlag,
			Usage: "index through the rate limited background queue",
		},
	},
	Action: buildAction,
}

func buildAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := internal.AppConfig(cmd)
	if err != nil {
		return err
	}
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("deepgrep: catalog build needs at least one path", 2)
	}

	cleanup, err := internal.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := internal.OpenCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	depth := cfg.Decompress.ZMax
	if cmd.IsSet(zmaxFlag) {
		depth = int(cmd.Int64(zmaxFlag))
	}
	popts := []catalog.PrewarmOption{
		catalog.WithDepth(depth),
		catalog.WithRate(cfg.Catalog.PrewarmRate),
		catalog.WithStageOptions(
			zpipe.WithBlockSize(cfg.Decompress.BlockSize),
			zpipe.WithSourceOptions(zstream.WithBrotliExts(cfg.Decompress.BrotliExts)),
		),
	}
	p, err := catalog.NewPrewarmer(cat, popts...)
	if err != nil {
		return err
	}

	files := collectFiles(ctx, args)

	if cmd.Bool(asyncFlag) || cfg.Catalog.Prewarm {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.Run(gctx) })
		for _, f := range files {
			if !p.Add(f) {
				// Queue full; index inline rather than dropping the path.
				if err := p.Index(ctx, f); err != nil {
					log.G(ctx).WithError(err).WithField("path", f).Warn("failed to index")
				}
			}
		}
		p.Close()
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, f := range files {
			if err := p.Index(ctx, f); err != nil {
				log.G(ctx).WithError(err).WithField("path", f).Warn("failed to index")
			}
		}
	}

	indexed := 0
	for _, f := range files {
		if _, err := cat.Lookup(f); err == nil {
			indexed++
		}
	}
	fmt.Fprintf(os.Stdout, "cataloged %d of %d files\n", indexed, len(files))
	return nil
}

// collectFiles expands the argument list: directories are walked
// recursively, regular files pass through.
func collectFiles(ctx context.Context, args []string) []string {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			log.G(ctx).WithError(err).WithField("path", arg).Warn("skipping unreadable path")
			continue
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.G(ctx).WithError(err).WithField("path", path).Warn("skipping unreadable entry")
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			log.G(ctx).WithError(err).WithField("path", arg).Warn("walk ended early")
		}
	}
	return files
}
