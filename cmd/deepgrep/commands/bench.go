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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/containerd/log"
	"github.com/montanaflynn/stats"
	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
	"github.com/deepgrep/deepgrep/search"
)

const (
	runsFlag = "runs"
	jsonFlag = "json"
)

var BenchCommand = &cli.Command{
	Name:      "bench",
	Usage:     "time repeated searches and report latency statistics",
	ArgsUsage: "PATTERN [PATH...]",
	Description: `Run the same search repeatedly against the given paths and report
latency percentiles. Matches are discarded; only the timing is kept.`,
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  runsFlag,
			Usage: "number of times to repeat the search",
			Value: 10,
		},
		&cli.BoolFlag{
			Name:  jsonFlag,
			Usage: "output the statistics in JSON format",
		},
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
			Name:    ignoreCaseFlag,
			Aliases: []string{"i"},
			Usage:   "case-insensitive matching",
		},
		&cli.StringSliceFlag{
			Name:  includeFlag,
			Usage: "only search files whose base name matches the glob (repeatable)",
		},
		&cli.Int64Flag{
			Name:  workersFlag,
			Usage: "number of concurrent file scanners (0 = one per CPU)",
		},
	},
	Action: benchAction,
}

// benchStats carries per-run timings in milliseconds and the values
// derived from them.
type benchStats struct {
	Runs           int       `json:"runs"`
	BenchmarkTimes []float64 `json:"benchmarkTimes"`
	StdDev         float64   `json:"stdDev"`
	Mean           float64   `json:"mean"`
	Min            float64   `json:"min"`
	Pct50          float64   `json:"pct50"`
	Pct90          float64   `json:"pct90"`
	Pct99          float64   `json:"pct99"`
	Max            float64   `json:"max"`
}

// discardSink drops all results; bench only measures.
type discardSink struct{}

func (discardSink) Match(search.Match) {}
func (discardSink) File(string, int) {}

func benchAction(ctx context.Context, cmd *cli.Command) error {
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
	runs := int(cmd.Int64(runsFlag))
	if runs < 1 {
		return fmt.Errorf("--%s must be at least 1, got %d", runsFlag, runs)
	}

	cleanup, err := internal.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := searchOptions(cmd, cfg, pattern)
	opts.Quiet = false
	opts.FilesOnly = false

	s, err := search.New(opts, discardSink{})
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	res := benchStats{Runs: runs}
	for i := 0; i < runs; i++ {
		st, err := s.Search(ctx, roots)
		if err != nil {
			return fmt.Errorf("run %d of %d failed: %w", i+1, runs, err)
		}
		res.BenchmarkTimes = append(res.BenchmarkTimes, float64(st.Elapsed.Microseconds())/1000)
		log.G(ctx).WithFields(log.Fields{
			"run":     i + 1,
			"elapsed": st.Elapsed,
			"files":   st.FilesScanned,
		}).Debug("bench run finished")
	}
	res.calculate(ctx)

	if cmd.Bool(jsonFlag) {
		out, err := json.MarshalIndent(res, "", " ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintf(os.Stdout, "%s\n", out)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
	fmt.Fprintf(writer, "RUNS\tMIN\tMEAN\tP50\tP90\tP99\tMAX\tSTDDEV\t\n")
	fmt.Fprintf(writer, "%d\t%.2fms\t%.2fms\t%.2fms\t%.2fms\t%.2fms\t%.2fms\t%.2fms\t\n",
		res.Runs, res.Min, res.Mean, res.Pct50, res.Pct90, res.Pct99, res.Max, res.StdDev)
	return writer.Flush()
}

// calculate fills the derived fields. A failed computation logs and
// leaves -1 so the output stays readable.
func (b *benchStats) calculate(ctx context.Context) {
	compute := func(name string, f func(stats.Float64Data) (float64, error)) float64 {
		v, err := f(b.BenchmarkTimes)
		if err != nil {
			log.G(ctx).WithError(err).Warnf("error calculating %s", name)
			return -1
		}
		return v
	}
	b.StdDev = compute("stddev", stats.StandardDeviation)
	b.Mean = compute("mean", stats.Mean)
	b.Min = compute("min", stats.Min)
	b.Max = compute("max", stats.Max)
	b.Pct50 = compute("p50", func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 50) })
	b.Pct90 = compute("p90", func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 90) })
	b.Pct99 = compute("p99", func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 99) })
}
