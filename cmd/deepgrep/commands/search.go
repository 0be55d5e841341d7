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

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/containerd/log"
	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
	"github.com/deepgrep/deepgrep/config"
	"github.com/deepgrep/deepgrep/search"
)

const (
	decompressFlag = "decompress"
	zmaxFlag       = "zmax"
	recursiveFlag  = "recursive"
	quietFlag      = "quiet"
	filesFlag      = "files-with-matches"
	countFlag      = "count"
	ignoreCaseFlag = "ignore-case"
	lineNumberFlag = "line-number"
	textFlag       = "text"
	fixedFlag      = "fixed-strings"
	maxCountFlag   = "max-count"
	maxFilesFlag   = "max-files"
	includeFlag    = "include"
	separatorFlag  = "separator"
	workersFlag    = "workers"
)

var SearchCommand = &cli.Command{
	Name:      "search",
	Usage:     "search files for a pattern",
	ArgsUsage: "PATTERN [PATH...]",
	Description: `Search the given paths for lines matching PATTERN.

With --decompress, compressed files are searched through their whole
decompression chain and archive members are reported as PATH:MEMBER
part names. Paths named on the command line are always searched;
--include only filters what a directory walk discovers.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    decompressFlag,
			Aliases: []string{"z"},
			Usage:   "search inside compressed files and archives",
		},
		&cli.Int64Flag{
			Name:  zmaxFlag,
			Usage: "number of nested compression layers to peel (1..99)",
		},
		&cli.BoolFlag{
			Name:    recursiveFlag,
			Aliases: []string{"r"},
			Usage:   "recurse into directories",
		},
		&cli.BoolFlag{
			Name:    quietFlag,
			Aliases: []string{"q"},
			Usage:   "print nothing; exit 0 on the first match, 1 otherwise",
		},
		&cli.BoolFlag{
			Name:    filesFlag,
			Aliases: []string{"l"},
			Usage:   "print only the names of matching files",
		},
		&cli.BoolFlag{
			Name:    countFlag,
			Aliases: []string{"c"},
			Usage:   "print the number of matching lines per file",
		},
		&cli.BoolFlag{
			Name:    ignoreCaseFlag,
			Aliases: []string{"i"},
			Usage:   "case-insensitive matching",
		},
		&cli.BoolFlag{
			Name:    lineNumberFlag,
			Aliases: []string{"n"},
			Usage:   "prefix each match with its line number",
		},
		&cli.BoolFlag{
			Name:    textFlag,
			Aliases: []string{"a"},
			Usage:   "scan binary files as text instead of skipping them",
		},
		&cli.BoolFlag{
			Name:    fixedFlag,
			Aliases: []string{"F"},
			Usage:   "treat the pattern as a fixed string, not a regexp",
		},
		&cli.Int64Flag{
			Name:  maxCountFlag,
			Usage: "stop each file after this many matching lines",
		},
		&cli.Int64Flag{
			Name:  maxFilesFlag,
			Usage: "stop the run after this many matching files",
		},
		&cli.StringSliceFlag{
			Name:  includeFlag,
			Usage: "only search files whose base name matches the glob (repeatable)",
		},
		&cli.StringFlag{
			Name:  separatorFlag,
			Usage: "field and part-name separator used in output",
			Value: ":",
		},
		&cli.Int64Flag{
			Name:  workersFlag,
			Usage: "number of concurrent file scanners (0 = one per CPU)",
		},
	},
	Action: searchAction,
}

func searchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := internal.AppConfig(cmd)
	if err != nil {
		return err
	}

	args := cmd.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("deepgrep: a search pattern is required", 2)
	}
	pattern, roots := args[0], args[1:]
	if len(roots) == 0 {
		roots = []string{"."}
	}

	cleanup, err := internal.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := searchOptions(cmd, cfg, pattern)

	if cfg.Catalog.Enabled {
		cat, err := internal.OpenCatalog(cfg)
		if err != nil {
			// Searching still works without the member index.
			log.G(ctx).WithError(err).Warn("failed to open the catalog, continuing without it")
		} else {
			defer cat.Close()
			opts.Catalog = cat
			opts.RecordOnSearch = cfg.Catalog.RecordOnSearch
		}
	}

	sink := newPrintSink(os.Stdout, opts.Separator, printMode{
		lineNumbers: cmd.Bool(lineNumberFlag),
		countOnly:   cmd.Bool(countFlag),
		listOnly:    cmd.Bool(filesFlag),
	})
	defer sink.flush()

	s, err := search.New(opts, sink)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	stats, err := s.Search(ctx, roots)
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"filesScanned": stats.FilesScanned,
		"filesMatched": stats.FilesMatched,
		"linesMatched": stats.LinesMatched,
		"elapsed":      stats.Elapsed,
	}).Debug("search finished")

	if stats.FilesMatched == 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// searchOptions folds the command line over the configuration.
func searchOptions(cmd *cli.Command, cfg *config.Config, pattern string) search.Options {
	opts := search.Options{
		Pattern:    pattern,
		Literal:    cmd.Bool(fixedFlag),
		IgnoreCase: cmd.Bool(ignoreCaseFlag),

		Recursive:   cmd.Bool(recursiveFlag),
		Include:     cmd.StringSlice(includeFlag),
		Decompress:  cmd.Bool(decompressFlag) || cfg.Decompress.Enabled,
		ZMax:        cfg.Decompress.ZMax,
		BinaryText:  cmd.Bool(textFlag) || cfg.Search.Binary == config.BinaryText,
		MaxFileSize: cfg.Search.MaxFileSize,

		Quiet:     cmd.Bool(quietFlag),
		FilesOnly: cmd.Bool(filesFlag),
		MaxCount:  int(cmd.Int64(maxCountFlag)),
		MaxFiles:  int(cmd.Int64(maxFilesFlag)),

		Workers:    cfg.Search.Workers,
		Separator:  cmd.String(separatorFlag),
		BlockSize:  cfg.Decompress.BlockSize,
		BrotliExts: cfg.Decompress.BrotliExts,
	}
	if cmd.IsSet(zmaxFlag) {
		opts.ZMax = int(cmd.Int64(zmaxFlag))
	}
	if cmd.IsSet(workersFlag) {
		opts.Workers = int(cmd.Int64(workersFlag))
	}
	return opts
}

// printMode selects which of the three output shapes the sink writes.
type printMode struct {
	lineNumbers bool
	countOnly   bool
	listOnly    bool
}

// printSink renders results in grep's line oriented formats. Searcher
// workers call it concurrently, so every write holds the lock and the
// buffered writer is flushed once at the end of the run.
type printSink struct {
	mu   sync.Mutex
	w    *bufio.Writer
	sep  string
	mode printMode
}

func newPrintSink(w io.Writer, sep string, mode printMode) *printSink {
	return &printSink{w: bufio.NewWriter(w), sep: sep, mode: mode}
}

func (p *printSink) Match(m search.Match) {
	if p.mode.countOnly || p.mode.listOnly {
		return
	}
	name := m.Path
	if m.Member != "" {
		name = m.Path + p.sep + m.Member
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode.lineNumbers {
		fmt.Fprintf(p.w, "%s%s%d%s%s\n", name, p.sep, m.Line, p.sep, m.Text)
	} else {
		fmt.Fprintf(p.w, "%s%s%s\n", name, p.sep, m.Text)
	}
}

func (p *printSink) File(path string, matches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.mode.countOnly:
		fmt.Fprintf(p.w, "%s%s%d\n", path, p.sep, matches)
	case p.mode.listOnly:
		fmt.Fprintln(p.w, path)
	}
}

func (p *printSink) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w.Flush()
}
