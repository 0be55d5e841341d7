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
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/catalog"
	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
)

const quietFlag = "quiet"

var listCommand = &cli.Command{
	Name:        "list",
	Aliases:     []string{"ls"},
	Usage:       "list cataloged archives",
	Description: "list every archive with a recorded member listing",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    quietFlag,
			Aliases: []string{"q"},
			Usage:   "only display the archive paths",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := internal.AppConfig(cmd)
		if err != nil {
			return err
		}
		cat, err := internal.OpenCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		if cmd.Bool(quietFlag) {
			return cat.Walk(func(e catalog.Entry) error {
				fmt.Fprintf(os.Stdout, "%s\n", e.Path)
				return nil
			})
		}

		writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
		writer.Write([]byte("PATH\tMEMBERS\tSIZE\tMODIFIED\t\n"))
		err = cat.Walk(func(e catalog.Entry) error {
			fmt.Fprintf(writer, "%s\t%d\t%d\t%s\t\n",
				e.Path, len(e.Members), e.Size, e.ModTime.Format(time.RFC3339))
			return nil
		})
		if err != nil {
			return err
		}
		return writer.Flush()
	},
}
