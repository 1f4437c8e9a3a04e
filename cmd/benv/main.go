package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/milessabin/compiler-benchmark/internal/benvcli"
	"github.com/milessabin/compiler-benchmark/internal/version"
	"github.com/milessabin/compiler-benchmark/pkg/config"
)

// All failures share one distinguished exit status, usage errors included.
const exitCodeFailure = 42

func main() {
	app := cli.NewApp()
	app.Name = "benv"
	app.Usage = "A tool to prepare and restore a machine for reproducible benchmarking"
	app.Version = version.Version
	app.Writer = os.Stdout
	app.ErrWriter = os.Stdout

	app.Flags = benvcli.GlobalFlags
	app.Metadata = map[string]interface{}{"config": config.DefaultConfig()}
	app.Before = benvcli.Before
	app.Commands = []*cli.Command{
		benvcli.SetCommand,
		benvcli.ResetCommand,
		benvcli.ConfigCommand,
		benvcli.VersionCommand,
	}

	app.CommandNotFound = func(c *cli.Context, command string) {
		fmt.Fprintf(c.App.Writer, "unknown command %q\n", command)
		cli.ShowAppHelp(c)
		os.Exit(exitCodeFailure)
	}
	app.OnUsageError = func(c *cli.Context, e error, isSubcommand bool) error { return e }
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return errors.New("expecting a mode: set or reset")
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(exitCodeFailure)
	}
}
