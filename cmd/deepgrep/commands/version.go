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
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/deepgrep/deepgrep/version"
)

var VersionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the version and revision",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		fmt.Fprintln(os.Stdout, "deepgrep version", version.Version, version.Revision)
		return nil
	},
}
