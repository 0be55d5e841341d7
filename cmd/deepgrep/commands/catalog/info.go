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

	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
)

var infoCommand = &cli.Command{
	Name:        "info",
	Usage:       "display a cataloged archive",
	Description: "show the recorded identity and member listing of one archive",
	ArgsUsage:   "PATH",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := internal.AppConfig(cmd)
		if err != nil {
			return err
		}
		path := cmd.Args().First()
		if path == "" {
			return cli.Exit("deepgrep: catalog info needs a path", 2)
		}
		cat, err := internal.OpenCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		e, err := cat.Lookup(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "path: %s\n", e.Path)
		fmt.Fprintf(os.Stdout, "size: %d\n", e.Size)
		fmt.Fprintf(os.Stdout, "modified: %s\n", e.ModTime.Format(time.RFC3339Nano))
		fmt.Fprintf(os.Stdout, "compressed: %t\n", e.Compressed)
		fmt.Fprintf(os.Stdout, "members: %d\n", len(e.Members))
		if len(e.Members) == 0 {
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
		writer.Write([]byte("NAME\tOFFSET\t\n"))
		for _, m := range e.Members {
			fmt.Fprintf(writer, "%s\t%d\t\n", m.Name, m.Offset)
		}
		return writer.Flush()
	},
}
