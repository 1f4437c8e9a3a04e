package benvcli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/milessabin/compiler-benchmark/internal/version"
)

// VersionCommand prints the full build version information.
var VersionCommand = &cli.Command{
	Name:  "version",
	Usage: "display detailed version information",
	Action: func(c *cli.Context) error {
		fmt.Fprintln(c.App.Writer, version.Get().String())
		return nil
	},
}
