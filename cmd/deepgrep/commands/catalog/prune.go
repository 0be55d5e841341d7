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

	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/cmd/deepgrep/commands/internal"
)

var pruneCommand = &cli.Command{
	Name:        "prune",
	Usage:       "drop listings for files that changed or disappeared",
	Description: "remove every catalog entry whose file no longer matches the recorded size and mtime",
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

		removed, err := cat.Prune()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %d stale listings\n", removed)
		return nil
	},
}
