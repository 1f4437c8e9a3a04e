package benvcli

import (
	"github.com/urfave/cli/v2"
)

// ResetCommand restores the machine after a benchmarking run. It takes no
// opt-outs: reset always fully restores.
var ResetCommand = &cli.Command{
	Name:   "reset",
	Usage:  "restore the machine to its pre-benchmarking state",
	Action: benvReset,
}

func benvReset(c *cli.Context) error {
	config, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}

	env, cleanup, err := buildEnv(config)
	if err != nil {
		return err
	}
	defer cleanup()

	return env.Reset(c.Context)
}
